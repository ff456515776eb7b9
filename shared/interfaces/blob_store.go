package interfaces

import "context"

// BlobStore хранит тексты и изображения, сгенерированные воркерами.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get возвращает models.ErrNotFound, если объекта нет.
	Get(ctx context.Context, key string) ([]byte, error)
	// URL возвращает публичную ссылку на объект (download reference).
	URL(key string) string
}
