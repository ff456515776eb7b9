package models

import "encoding/json"

// --- Входные и выходные структуры для генератора контента ---

// StoryPrompt - данные для генерации одной истории.
type StoryPrompt struct {
	UserID      string
	Preferences StoryPreferences
	Insights    json.RawMessage // накопленные данные о прошлых историях пользователя, может быть пустым
	Sequence    int             // номер истории внутри workflow
}

// GeneratedStory - результат генерации истории.
type GeneratedStory struct {
	Title   string
	Content string
}

// EpisodePrompt - данные для генерации очередного эпизода.
type EpisodePrompt struct {
	UserID        string
	StoryTitle    string
	StoryContent  string
	Preferences   StoryPreferences
	EpisodeNumber int
}

// GeneratedEpisode - результат генерации эпизода.
type GeneratedEpisode struct {
	Content string
}

// ImagePrompt - данные для генерации иллюстрации к эпизоду.
type ImagePrompt struct {
	UserID         string
	EpisodeContent string
	Preferences    StoryPreferences
	AspectRatio    string // 2:3, 1:1 или 3:2
}

// GeneratedImage - бинарное изображение и его MIME тип.
type GeneratedImage struct {
	Data        []byte
	ContentType string
}
