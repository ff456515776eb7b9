package models

import (
	"encoding/json"
	"time"
)

// StoryPreferences - пользовательские предпочтения, из которых строится промпт истории.
type StoryPreferences struct {
	Genres   []string       `json:"genres" validate:"required,min=1,dive,required"`
	Themes   []string       `json:"themes,omitempty"`
	Tone     string         `json:"tone,omitempty"`
	Language string         `json:"language" validate:"required"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// UserPreferences - сохраненные предпочтения пользователя и накопленные инсайты.
// Запуск workflow без них невозможен.
type UserPreferences struct {
	UserID      string           `db:"user_id" json:"userId"`
	Preferences StoryPreferences `db:"preferences" json:"preferences"`
	Insights    json.RawMessage  `db:"insights" json:"insights,omitempty"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updatedAt"`
}
