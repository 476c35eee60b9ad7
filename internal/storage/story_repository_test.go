package storage

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-server/internal/models"
)

func TestMemoryObjectStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryObjectStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, "key", []byte("payload")))
	data, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, store.Delete(ctx, "key"))
	_, err = store.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestStoryRepositoryRoundtrip(t *testing.T) {
	ctx := context.Background()
	repo := NewStoryRepository(NewMemoryObjectStore(), zap.NewNop())

	doc := &models.StoryDocument{
		Nodes: map[string]*models.Node{
			"start": {ID: "start", Text: "hello", Choices: []models.Choice{
				{Text: "go", TargetID: "end"},
			}},
			"end": {ID: "end"},
		},
		StyleGuides: map[string]models.Element{
			"default": models.PlainElement("plain style"),
		},
	}
	require.NoError(t, repo.Save(ctx, doc))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 2)
	assert.Equal(t, "hello", loaded.Nodes["start"].Text)
	assert.Equal(t, "plain style", loaded.StyleGuide(""))
	assert.True(t, loaded.StyleGuides["default"].IsPlain(), "element form survives the roundtrip")
}

func TestStoryRepositoryLoadMissing(t *testing.T) {
	repo := NewStoryRepository(NewMemoryObjectStore(), zap.NewNop())
	_, err := repo.Load(context.Background())
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLoadOrDefaultFallsBackToBundledStory(t *testing.T) {
	ctx := context.Background()
	repo := NewStoryRepository(NewMemoryObjectStore(), zap.NewNop())

	doc, err := repo.LoadOrDefault(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Nodes)
	_, ok := doc.Node("opening_scene")
	assert.True(t, ok, "bundled story must contain the start node")
	assert.Empty(t, doc.BrokenLinks(), "bundled story must not contain dangling edges")
}

func TestImageSizeCeiling(t *testing.T) {
	ctx := context.Background()
	repo := NewStoryRepository(NewMemoryObjectStore(), zap.NewNop())

	oversized := bytes.Repeat([]byte{0xFF}, MaxImageSize+1)
	err := repo.PutImage(ctx, "node", oversized)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	require.NoError(t, repo.PutImage(ctx, "node", []byte("png bytes")))
	data, err := repo.GetImage(ctx, "node")
	require.NoError(t, err)
	assert.Equal(t, []byte("png bytes"), data)
}

func TestImageKeyShape(t *testing.T) {
	assert.Equal(t, "images/scene_1.png", ImageKey("scene_1"))
}

func TestDeleteImage(t *testing.T) {
	ctx := context.Background()
	repo := NewStoryRepository(NewMemoryObjectStore(), zap.NewNop())

	require.NoError(t, repo.PutImage(ctx, "node", []byte("data")))
	require.NoError(t, repo.DeleteImage(ctx, "node"))
	_, err := repo.GetImage(ctx, "node")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
