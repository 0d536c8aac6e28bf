package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

func TestTagStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ts := NewTagStore(db)
	ms := NewMemoryStore(db)

	t.Run("get or create is idempotent", func(t *testing.T) {
		first, err := ts.GetOrCreate(ctx, "python", models.DefaultTagColor, baseTime)
		require.NoError(t, err)
		second, err := ts.GetOrCreate(ctx, "python", "#000000", baseTime.Add(time.Hour))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, models.DefaultTagColor, second.Color, "existing color is kept")
		assert.True(t, baseTime.Equal(second.CreatedAt))
	})

	t.Run("get by name", func(t *testing.T) {
		_, err := ts.GetByName(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		tag, err := ts.GetByName(ctx, "python")
		require.NoError(t, err)
		assert.Equal(t, "python", tag.Name)
	})

	t.Run("list for user counts active memories", func(t *testing.T) {
		py, err := ts.GetOrCreate(ctx, "python", models.DefaultTagColor, baseTime)
		require.NoError(t, err)
		ai, err := ts.GetOrCreate(ctx, "ai", models.DefaultTagColor, baseTime)
		require.NoError(t, err)
		_, err = ts.GetOrCreate(ctx, "unused", models.DefaultTagColor, baseTime)
		require.NoError(t, err)

		m1 := newMemory("u1", "Python developer", models.CategoryTechnical, 0.9)
		m2 := newMemory("u1", "Trains ML models", models.CategoryTechnical, 0.9)
		m2.IsActive = false
		m3 := newMemory("u2", "Also Python", models.CategoryTechnical, 0.9)
		for _, m := range []*models.Memory{m1, m2, m3} {
			require.NoError(t, ms.Insert(ctx, m))
		}
		require.NoError(t, ms.AttachTags(ctx, m1.ID, []string{py.ID, ai.ID}))
		require.NoError(t, ms.AttachTags(ctx, m2.ID, []string{ai.ID}))
		require.NoError(t, ms.AttachTags(ctx, m3.ID, []string{py.ID}))

		tags, err := ts.ListForUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, tags, 2)
		assert.Equal(t, "ai", tags[0].Name)
		assert.Equal(t, 1, tags[0].MemoryCount)
		assert.Equal(t, "python", tags[1].Name)
		assert.Equal(t, 1, tags[1].MemoryCount)

		empty, err := ts.ListForUser(ctx, "u3")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
