package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"novel-workflow/shared/interfaces"
	"novel-workflow/shared/models"
)

const (
	episodeColumns = `
		id, story_id, user_id, episode_number, content_key, image_key,
		status, error_message, created_at, updated_at`

	// Условная запись: номер эпизода занимается только если пара (story_id, episode_number) свободна.
	createEpisodeIfAbsentQuery = `
		INSERT INTO episodes (
			id, story_id, user_id, episode_number, content_key, image_key,
			status, error_message, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (story_id, episode_number) DO NOTHING
	`
	getEpisodeByIDQuery     = `SELECT ` + episodeColumns + ` FROM episodes WHERE id = $1`
	getEpisodeByNumberQuery = `SELECT ` + episodeColumns + ` FROM episodes WHERE story_id = $1 AND episode_number = $2`
	listEpisodesQuery       = `SELECT ` + episodeColumns + ` FROM episodes WHERE story_id = $1 ORDER BY episode_number`
	listEpisodeNumbersQuery = `SELECT episode_number FROM episodes WHERE story_id = $1 ORDER BY episode_number`
	updateEpisodeStatusQuery = `
		UPDATE episodes
		SET status = $2, error_message = COALESCE($3, error_message), updated_at = now()
		WHERE id = $1
	`
	setEpisodeContentQuery = `
		UPDATE episodes
		SET content_key = $2, status = 'COMPLETED', error_message = NULL, updated_at = now()
		WHERE id = $1
	`
	setEpisodeImageQuery = `UPDATE episodes SET image_key = $2, updated_at = now() WHERE id = $1`
)

type pgEpisodeRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

var _ interfaces.EpisodeRepository = (*pgEpisodeRepository)(nil)

// NewPgEpisodeRepository создает репозиторий эпизодов.
func NewPgEpisodeRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.EpisodeRepository {
	return &pgEpisodeRepository{
		db:     db,
		logger: logger.Named("PgEpisodeRepo"),
	}
}

func (r *pgEpisodeRepository) CreateIfAbsent(ctx context.Context, episode *models.Episode) error {
	now := time.Now().UTC()
	if episode.CreatedAt.IsZero() {
		episode.CreatedAt = now
	}
	episode.UpdatedAt = now

	tag, err := r.db.Exec(ctx, createEpisodeIfAbsentQuery,
		episode.ID,
		episode.StoryID,
		episode.UserID,
		episode.EpisodeNumber,
		episode.ContentKey,
		episode.ImageKey,
		episode.Status,
		episode.ErrorMessage,
		episode.CreatedAt,
		episode.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create episode",
			zap.String("story_id", episode.StoryID.String()),
			zap.Int("episode_number", episode.EpisodeNumber),
			zap.Error(err),
		)
		return fmt.Errorf("error creating episode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: story %s episode %d", models.ErrAlreadyExists, episode.StoryID, episode.EpisodeNumber)
	}
	r.logger.Debug("Episode created",
		zap.String("episode_id", episode.ID.String()),
		zap.Int("episode_number", episode.EpisodeNumber),
	)
	return nil
}

func (r *pgEpisodeRepository) GetByID(ctx context.Context, episodeID uuid.UUID) (*models.Episode, error) {
	return r.getOne(ctx, getEpisodeByIDQuery, episodeID)
}

func (r *pgEpisodeRepository) GetByNumber(ctx context.Context, storyID uuid.UUID, episodeNumber int) (*models.Episode, error) {
	return r.getOne(ctx, getEpisodeByNumberQuery, storyID, episodeNumber)
}

func (r *pgEpisodeRepository) getOne(ctx context.Context, query string, args ...any) (*models.Episode, error) {
	var episode models.Episode
	if err := pgxscan.Get(ctx, r.db, &episode, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get episode", zap.Any("args", args), zap.Error(err))
		return nil, fmt.Errorf("error getting episode: %w", err)
	}
	return &episode, nil
}

func (r *pgEpisodeRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]*models.Episode, error) {
	var episodes []*models.Episode
	if err := pgxscan.Select(ctx, r.db, &episodes, listEpisodesQuery, storyID); err != nil {
		r.logger.Error("Failed to list episodes", zap.String("story_id", storyID.String()), zap.Error(err))
		return nil, fmt.Errorf("error listing episodes for story %s: %w", storyID, err)
	}
	return episodes, nil
}

func (r *pgEpisodeRepository) ListNumbers(ctx context.Context, storyID uuid.UUID) ([]int, error) {
	var numbers []int
	if err := pgxscan.Select(ctx, r.db, &numbers, listEpisodeNumbersQuery, storyID); err != nil {
		r.logger.Error("Failed to list episode numbers", zap.String("story_id", storyID.String()), zap.Error(err))
		return nil, fmt.Errorf("error listing episode numbers for story %s: %w", storyID, err)
	}
	return numbers, nil
}

func (r *pgEpisodeRepository) UpdateStatus(ctx context.Context, episodeID uuid.UUID, status models.EntityStatus, errorMessage *string) error {
	return r.exec(ctx, "update status", episodeID, updateEpisodeStatusQuery, episodeID, status, errorMessage)
}

func (r *pgEpisodeRepository) SetContent(ctx context.Context, episodeID uuid.UUID, contentKey string) error {
	return r.exec(ctx, "set content", episodeID, setEpisodeContentQuery, episodeID, contentKey)
}

func (r *pgEpisodeRepository) SetImage(ctx context.Context, episodeID uuid.UUID, imageKey string) error {
	return r.exec(ctx, "set image", episodeID, setEpisodeImageQuery, episodeID, imageKey)
}

func (r *pgEpisodeRepository) exec(ctx context.Context, op string, episodeID uuid.UUID, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("Episode update failed", zap.String("op", op), zap.String("episode_id", episodeID.String()), zap.Error(err))
		return fmt.Errorf("error on episode %s (%s): %w", episodeID, op, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
