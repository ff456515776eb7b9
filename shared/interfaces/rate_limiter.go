package interfaces

import "context"

// RateLimiter ограничивает частоту операций по ключу.
// Реализация должна быть общей для всех экземпляров сервиса.
//
//go:generate mockery --name RateLimiter --output ../../internal/mocks --outpkg mocks --case=underscore
type RateLimiter interface {
	// Allow атомарно учитывает попытку и сообщает, укладывается ли она в лимит.
	Allow(ctx context.Context, key string) (bool, error)
}
