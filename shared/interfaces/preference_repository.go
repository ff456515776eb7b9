package interfaces

import (
	"context"

	"novel-workflow/shared/models"
)

// PreferenceRepository - доступ к предпочтениям пользователя (только чтение).
//
//go:generate mockery --name PreferenceRepository --output ../../internal/mocks --outpkg mocks --case=underscore
type PreferenceRepository interface {
	// GetByUserID возвращает models.ErrNotFound, если пользователь не сохранял предпочтения.
	GetByUserID(ctx context.Context, userID string) (*models.UserPreferences, error)
}
