package generator

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"novel-workflow/shared/models"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(
	template.New("prompts").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(promptFS, "prompts/*.tmpl"),
)

// maxSceneRunes ограничивает фрагмент эпизода, из которого строится промпт иллюстрации.
const maxSceneRunes = 600

// ErrMalformedStory - ответ модели не содержит текста истории.
var ErrMalformedStory = errors.New("malformed story response")

type storyPromptData struct {
	models.StoryPreferences
	Sequence int
	Extra    string
	Insights string
}

type imagePromptData struct {
	models.StoryPreferences
	Scene string
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// buildStoryPrompt возвращает system и user промпты истории.
func buildStoryPrompt(p models.StoryPrompt) (string, string, error) {
	data := storyPromptData{StoryPreferences: p.Preferences, Sequence: p.Sequence}
	if data.Sequence <= 0 {
		data.Sequence = 1
	}
	if len(p.Preferences.Extra) > 0 {
		extra, err := json.Marshal(p.Preferences.Extra)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode extra preferences: %w", err)
		}
		data.Extra = string(extra)
	}
	if insights := strings.TrimSpace(string(p.Insights)); insights != "" && insights != "null" && insights != "{}" {
		data.Insights = insights
	}

	system, err := render("story_system.tmpl", data)
	if err != nil {
		return "", "", err
	}
	user, err := render("story_user.tmpl", data)
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

func buildEpisodePrompt(p models.EpisodePrompt) (string, string, error) {
	system, err := render("episode_system.tmpl", p.Preferences)
	if err != nil {
		return "", "", err
	}
	user, err := render("episode_user.tmpl", p)
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

func buildImagePrompt(p models.ImagePrompt) (string, error) {
	return render("image.tmpl", imagePromptData{
		StoryPreferences: p.Preferences,
		Scene:            sceneExcerpt(p.EpisodeContent),
	})
}

// sceneExcerpt берет начало эпизода без Markdown-разметки, не разрывая руны.
func sceneExcerpt(content string) string {
	replacer := strings.NewReplacer("#", "", "*", "", "_", "", "\n", " ")
	scene := strings.Join(strings.Fields(replacer.Replace(content)), " ")
	if utf8.RuneCountInString(scene) <= maxSceneRunes {
		return scene
	}
	runes := []rune(scene)
	return string(runes[:maxSceneRunes]) + "..."
}

// parseStory разбирает ответ модели "TITLE: ...\n\n<text>".
// Без строки TITLE заголовком становится первая Markdown-строка "# ..." или "Story N".
func parseStory(raw string, sequence int) (*models.GeneratedStory, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrMalformedStory)
	}

	firstLine, rest, _ := strings.Cut(text, "\n")
	firstLine = strings.TrimSpace(firstLine)

	var title string
	switch {
	case hasPrefixFold(firstLine, "TITLE:"):
		title = strings.TrimSpace(firstLine[len("TITLE:"):])
		text = strings.TrimSpace(rest)
	case strings.HasPrefix(firstLine, "# "):
		title = strings.TrimSpace(strings.TrimPrefix(firstLine, "# "))
		text = strings.TrimSpace(rest)
	}
	title = strings.Trim(title, `"*`)
	if title == "" {
		title = fmt.Sprintf("Story %d", sequence)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: title without story text", ErrMalformedStory)
	}
	return &models.GeneratedStory{Title: title, Content: text}, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
