package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvDevelopment - значение Config.Env для локального запуска.
const EnvDevelopment = "development"

// Config содержит настройки логгера процесса: API, воркера или novelctl.
type Config struct {
	Level      string // debug, info, warn, error
	Encoding   string // json или console
	OutputPath string // пусто - stdout
	Service    string // novel-api, novel-worker, novelctl
	Env        string
}

func (c Config) development() bool {
	return strings.EqualFold(c.Env, EnvDevelopment)
}

// New создает zap.Logger по конфигурации. Каждая запись несет поля service и env,
// чтобы логи API и воркеров одного окружения можно было разделить в агрегаторе.
//
// В development включены caller, стектрейсы и цветные уровни в console режиме.
// В остальных окружениях повторяющиеся записи сэмплируются: воркер, который
// пачкой получает одинаковые ошибки генератора, не забивает вывод.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	logLevel := strings.ToLower(cfg.Level)
	if logLevel == "" {
		logLevel = "info"
	}
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		// Логгера еще нет, пишем напрямую в stderr.
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using 'info'. Error: %v\n", cfg.Level, err)
		level.SetLevel(zap.InfoLevel)
	}

	encoding := strings.ToLower(cfg.Encoding)
	if encoding != "console" && encoding != "json" {
		encoding = "json"
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	dev := cfg.development()
	zapConfig := zap.Config{
		Level:             level,
		Development:       dev,
		DisableCaller:     !dev,
		DisableStacktrace: !dev,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig(encoding, dev),
		OutputPaths:       []string{outputPath},
		ErrorOutputPaths:  []string{"stderr"},
		InitialFields:     initialFields(cfg),
	}
	if !dev {
		zapConfig.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger for %s: %w", serviceName(cfg), err)
	}
	return logger, nil
}

func encoderConfig(encoding string, dev bool) zapcore.EncoderConfig {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if dev && encoding == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return encoderCfg
}

func initialFields(cfg Config) map[string]any {
	fields := make(map[string]any, 2)
	if cfg.Service != "" {
		fields["service"] = cfg.Service
	}
	if cfg.Env != "" {
		fields["env"] = strings.ToLower(cfg.Env)
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func serviceName(cfg Config) string {
	if cfg.Service == "" {
		return "process"
	}
	return cfg.Service
}
