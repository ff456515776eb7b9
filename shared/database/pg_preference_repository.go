package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"novel-workflow/shared/interfaces"
	"novel-workflow/shared/models"
)

const getUserPreferencesQuery = `
	SELECT user_id, preferences, insights, updated_at
	FROM user_preferences
	WHERE user_id = $1
`

type pgPreferenceRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

var _ interfaces.PreferenceRepository = (*pgPreferenceRepository)(nil)

// NewPgPreferenceRepository создает репозиторий предпочтений пользователя.
func NewPgPreferenceRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.PreferenceRepository {
	return &pgPreferenceRepository{
		db:     db,
		logger: logger.Named("PgPreferenceRepo"),
	}
}

func (r *pgPreferenceRepository) GetByUserID(ctx context.Context, userID string) (*models.UserPreferences, error) {
	var prefs models.UserPreferences
	if err := pgxscan.Get(ctx, r.db, &prefs, getUserPreferencesQuery, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get user preferences", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("error getting preferences for user %s: %w", userID, err)
	}
	return &prefs, nil
}
