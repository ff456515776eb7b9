package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSecretsDir - стандартный путь Docker Secrets.
const DefaultSecretsDir = "/run/secrets"

// ErrSecretNotFound возвращается, если файла секрета нет.
var ErrSecretNotFound = errors.New("secret not found")

// secretsDir можно переопределить через SECRETS_DIR (локальный запуск, тесты).
func secretsDir() string {
	if dir := os.Getenv("SECRETS_DIR"); dir != "" {
		return dir
	}
	return DefaultSecretsDir
}

// ReadSecret читает секрет из файла Docker Secrets.
func ReadSecret(secretName string) (string, error) {
	filePath := filepath.Join(secretsDir(), secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, filePath)
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// SecretOrValue возвращает секрет из файла, а если файла нет - fallback
// (обычно значение из переменной окружения). Пустой файл - ошибка.
func SecretOrValue(secretName, fallback string) (string, error) {
	secret, err := ReadSecret(secretName)
	if err == nil {
		return secret, nil
	}
	if errors.Is(err, ErrSecretNotFound) {
		if fallback == "" {
			return "", fmt.Errorf("secret %q is not set", secretName)
		}
		return fallback, nil
	}
	return "", err
}
