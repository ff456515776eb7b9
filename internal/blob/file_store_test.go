package blob

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-workflow/shared/models"
)

func TestFileStore_PutGetURL(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "https://cdn.example.com/content/", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	storyID := uuid.MustParse("6f1c2c8e-3b7a-4f7e-9a63-0d1f1f8b2a11")
	key := models.StoryContentKey(storyID)

	require.NoError(t, store.Put(ctx, key, []byte("# Title\n\nOnce upon a time"), "text/markdown"))
	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nOnce upon a time", string(data))

	// Перезапись заменяет содержимое целиком.
	require.NoError(t, store.Put(ctx, key, []byte("v2"), "text/markdown"))
	data, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	assert.Equal(t, "https://cdn.example.com/content/stories/"+storyID.String()+".md", store.URL(key))
}

func TestFileStore_MissingObject(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost/content", zap.NewNop())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "episodes/nope.md")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost/content", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../secret", "stories/../../x", ".", `a\b`} {
		err := store.Put(ctx, key, []byte("x"), "text/plain")
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestNewFileStore_RequiresSettings(t *testing.T) {
	_, err := NewFileStore("", "http://x", zap.NewNop())
	assert.Error(t, err)
	_, err = NewFileStore(t.TempDir(), "", zap.NewNop())
	assert.Error(t, err)
}
