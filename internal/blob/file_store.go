package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"novel-workflow/shared/interfaces"
	"novel-workflow/shared/models"
)

var (
	// ErrInvalidKey - ключ пустой, абсолютный или выходит за пределы корня.
	ErrInvalidKey = errors.New("invalid blob key")
)

// FileStore хранит объекты в локальной директории (смонтированный volume),
// а ссылки на скачивание строит от публичного базового URL.
type FileStore struct {
	root    string
	baseURL string
	logger  *zap.Logger
}

var _ interfaces.BlobStore = (*FileStore)(nil)

// NewFileStore создает хранилище с корнем root. Директория создается, если ее нет.
func NewFileStore(root, publicBaseURL string, logger *zap.Logger) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("blob root path (BLOB_PATH) is not configured")
	}
	if publicBaseURL == "" {
		return nil, errors.New("blob public base URL (BLOB_PUBLIC_BASE_URL) is not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %w", root, err)
	}
	return &FileStore{
		root:    root,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:  logger.Named("FileStore"),
	}, nil
}

// Root возвращает директорию хранилища (для раздачи статикой).
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	filePath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	// Пишем во временный файл и переименовываем: читатель не увидит половину объекта.
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".blob-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}

	s.logger.Debug("Blob stored",
		zap.String("key", key),
		zap.String("content_type", contentType),
		zap.Int("size_bytes", len(data)),
	)
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	filePath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) URL(key string) string {
	return s.baseURL + "/" + (&url.URL{Path: path.Clean(key)}).EscapedPath()
}

func (s *FileStore) resolve(key string) (string, error) {
	if key == "" || path.IsAbs(key) || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}
