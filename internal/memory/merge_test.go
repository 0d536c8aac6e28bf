package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
	"github.com/iammorganparry/clive/apps/usermemory/internal/store"
)

func newTestMergeEngine(t *testing.T) (*MergeEngine, *store.MemoryStore, *clock, func()) {
	t.Helper()
	db, cleanup := setupTestDB(t)
	memories := store.NewMemoryStore(db)
	resolver := NewTagResolver(store.NewTagStore(db), nil)
	engine := NewMergeEngine(memories, resolver, testLogger())
	clk := &clock{t: baseTime}
	engine.now = clk.Now
	resolver.now = clk.Now
	return engine, memories, clk, cleanup
}

func fact(summary string, category models.Category, confidence float64, tags ...string) models.FactCandidate {
	return models.FactCandidate{
		Summary:         summary,
		RawContent:      "raw: " + summary,
		ConfidenceScore: confidence,
		Category:        category,
		Tags:            tags,
	}
}

func TestMergeEngineIngest(t *testing.T) {
	ctx := context.Background()
	src := Provenance{UserID: "u1", ChatID: "chat-1", ExchangeID: "ex-1"}

	t.Run("creates memories with tags and provenance", func(t *testing.T) {
		engine, memories, _, cleanup := newTestMergeEngine(t)
		defer cleanup()

		res := engine.Ingest(ctx, src, []models.FactCandidate{
			fact("User is a Python developer", models.CategoryTechnical, 0.9, "Python", "AI", "python"),
		})
		assert.Equal(t, 1, res.Created)
		require.Len(t, res.Memories, 1)

		got, err := memories.GetByID(ctx, "u1", res.Memories[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "chat-1", got.ChatID)
		require.NotNil(t, got.SourceExchangeID)
		assert.Equal(t, "ex-1", *got.SourceExchangeID)
		assert.Equal(t, []string{"python", "ai"}, got.TagNames())
		assert.True(t, got.IsActive)
		assert.True(t, baseTime.Equal(got.CreatedAt))
		assert.Equal(t, []string{"python", "ai"}, res.Memories[0].TagNames())
	})

	t.Run("skips candidates with blank summary or raw content", func(t *testing.T) {
		engine, _, _, cleanup := newTestMergeEngine(t)
		defer cleanup()

		res := engine.Ingest(ctx, src, []models.FactCandidate{
			{Summary: "", RawContent: "r", ConfidenceScore: 0.9, Category: models.CategoryOther},
			{Summary: "s", RawContent: "", ConfidenceScore: 0.9, Category: models.CategoryOther},
			{Summary: "  ", RawContent: "\t", ConfidenceScore: 0.9, Category: models.CategoryOther},
			fact("kept", models.CategoryOther, 0.9),
		})
		assert.Equal(t, 3, res.Skipped)
		assert.Equal(t, 1, res.Created)
		require.Len(t, res.Memories, 1)
		assert.Equal(t, "kept", res.Memories[0].Summary)
	})

	t.Run("same key in one batch merges into one memory", func(t *testing.T) {
		engine, memories, _, cleanup := newTestMergeEngine(t)
		defer cleanup()

		res := engine.Ingest(ctx, src, []models.FactCandidate{
			fact("Lives in Lisbon", models.CategoryPersonal, 0.7),
			fact("Lives in Lisbon", models.CategoryPersonal, 0.9),
		})
		assert.Equal(t, 1, res.Created)
		assert.Equal(t, 1, res.Updated)
		require.Len(t, res.Memories, 1)
		assert.Equal(t, 0.9, res.Memories[0].ConfidenceScore)

		page, total, err := memories.List(ctx, &models.ListRequest{UserID: "u1", Page: 1, PageSize: 20})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, 0.9, page[0].ConfidenceScore)
	})

	t.Run("higher confidence overwrites confidence and raw content only", func(t *testing.T) {
		engine, memories, clk, cleanup := newTestMergeEngine(t)
		defer cleanup()

		first := engine.Ingest(ctx, src, []models.FactCandidate{fact("Prefers tea", models.CategoryPreferences, 0.6, "tea")})
		id := first.Memories[0].ID
		clk.Advance(time.Hour)

		second := engine.Ingest(ctx, Provenance{UserID: "u1", ChatID: "chat-2", ExchangeID: "ex-9"}, []models.FactCandidate{{
			Summary: "Prefers tea", RawContent: "new excerpt", ConfidenceScore: 0.95,
			Category: models.CategoryPreferences, Tags: []string{"drinks"},
		}})
		assert.Equal(t, 1, second.Updated)
		assert.Equal(t, id, second.Memories[0].ID)

		got, err := memories.GetByID(ctx, "u1", id)
		require.NoError(t, err)
		assert.Equal(t, 0.95, got.ConfidenceScore)
		assert.Equal(t, "new excerpt", got.RawContent)
		assert.Equal(t, "Prefers tea", got.Summary)
		assert.Equal(t, models.CategoryPreferences, got.Category)
		assert.Equal(t, "chat-1", got.ChatID, "provenance is kept")
		assert.Equal(t, []string{"tea"}, got.TagNames(), "merge does not attach tags")
		assert.True(t, baseTime.Add(time.Hour).Equal(got.UpdatedAt))
	})

	t.Run("equal or lower confidence leaves memory untouched", func(t *testing.T) {
		engine, memories, clk, cleanup := newTestMergeEngine(t)
		defer cleanup()

		first := engine.Ingest(ctx, src, []models.FactCandidate{fact("Has two cats", models.CategoryPersonal, 0.8)})
		id := first.Memories[0].ID
		clk.Advance(time.Hour)

		for _, conf := range []float64{0.8, 0.5} {
			res := engine.Ingest(ctx, src, []models.FactCandidate{{
				Summary: "Has two cats", RawContent: "other excerpt", ConfidenceScore: conf, Category: models.CategoryPersonal,
			}})
			assert.Equal(t, 1, res.Unchanged)
			assert.Equal(t, id, res.Memories[0].ID)
		}

		got, err := memories.GetByID(ctx, "u1", id)
		require.NoError(t, err)
		assert.Equal(t, 0.8, got.ConfidenceScore)
		assert.Equal(t, "raw: Has two cats", got.RawContent)
		assert.True(t, baseTime.Equal(got.UpdatedAt))
	})

	t.Run("dedup key is the first 200 characters plus category", func(t *testing.T) {
		engine, _, _, cleanup := newTestMergeEngine(t)
		defer cleanup()

		prefix := strings.Repeat("a", 200)
		res := engine.Ingest(ctx, src, []models.FactCandidate{
			fact(prefix+" ending one", models.CategoryWork, 0.7),
			fact(prefix+" ending two", models.CategoryWork, 0.8),
			fact(prefix+" ending one", models.CategoryGoals, 0.7),
		})
		assert.Equal(t, 2, res.Created)
		assert.Equal(t, 1, res.Updated)
		assert.Len(t, res.Memories, 2)
	})

	t.Run("inactive memory still absorbs its duplicate", func(t *testing.T) {
		engine, memories, _, cleanup := newTestMergeEngine(t)
		defer cleanup()

		first := engine.Ingest(ctx, src, []models.FactCandidate{fact("Plays chess", models.CategoryLifestyle, 0.7)})
		id := first.Memories[0].ID
		_, err := memories.ToggleActive(ctx, "u1", id, baseTime)
		require.NoError(t, err)

		res := engine.Ingest(ctx, src, []models.FactCandidate{fact("Plays chess", models.CategoryLifestyle, 0.9)})
		assert.Equal(t, 0, res.Created)
		assert.Equal(t, id, res.Memories[0].ID)
		assert.False(t, res.Memories[0].IsActive)
	})

	t.Run("keys are per user", func(t *testing.T) {
		engine, _, _, cleanup := newTestMergeEngine(t)
		defer cleanup()

		a := engine.Ingest(ctx, Provenance{UserID: "u1"}, []models.FactCandidate{fact("Same fact", models.CategoryOther, 0.8)})
		b := engine.Ingest(ctx, Provenance{UserID: "u2"}, []models.FactCandidate{fact("Same fact", models.CategoryOther, 0.8)})
		assert.NotEqual(t, a.Memories[0].ID, b.Memories[0].ID)
		assert.Nil(t, a.Memories[0].SourceExchangeID)
	})

	t.Run("cancelled context stops before further candidates", func(t *testing.T) {
		engine, memories, _, cleanup := newTestMergeEngine(t)
		defer cleanup()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		res := engine.Ingest(cctx, src, []models.FactCandidate{fact("never stored", models.CategoryOther, 0.8)})
		assert.Empty(t, res.Memories)
		assert.Equal(t, 0, res.Created)

		_, total, err := memories.List(ctx, &models.ListRequest{UserID: "u1", Page: 1, PageSize: 20})
		require.NoError(t, err)
		assert.Equal(t, 0, total)
	})
}

// flakyRepo fails inserts for one summary and delegates everything else.
type flakyRepo struct {
	MemoryRepository
	failSummary string
	raceOnce    bool
}

func (f *flakyRepo) Insert(ctx context.Context, m *models.Memory) error {
	if m.Summary == f.failSummary {
		return errors.New("disk I/O error")
	}
	if f.raceOnce {
		f.raceOnce = false
		// Simulate a concurrent writer that wins the key first.
		winner := *m
		winner.ID = "winner"
		winner.ConfidenceScore = 0.5
		if err := f.MemoryRepository.Insert(ctx, &winner); err != nil {
			return err
		}
	}
	return f.MemoryRepository.Insert(ctx, m)
}

func TestMergeEngineFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("persistence error skips only that candidate", func(t *testing.T) {
		db, cleanup := setupTestDB(t)
		defer cleanup()
		repo := &flakyRepo{MemoryRepository: store.NewMemoryStore(db), failSummary: "broken"}
		engine := NewMergeEngine(repo, NewTagResolver(store.NewTagStore(db), nil), testLogger())

		res := engine.Ingest(ctx, Provenance{UserID: "u1"}, []models.FactCandidate{
			fact("before", models.CategoryOther, 0.8),
			fact("broken", models.CategoryOther, 0.8),
			fact("after", models.CategoryOther, 0.8),
		})
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, 2, res.Created)
		require.Len(t, res.Memories, 2)
		assert.Equal(t, "before", res.Memories[0].Summary)
		assert.Equal(t, "after", res.Memories[1].Summary)
	})

	t.Run("insert conflict is retried as a merge", func(t *testing.T) {
		db, cleanup := setupTestDB(t)
		defer cleanup()
		memories := store.NewMemoryStore(db)
		repo := &flakyRepo{MemoryRepository: memories, raceOnce: true}
		engine := NewMergeEngine(repo, NewTagResolver(store.NewTagStore(db), nil), testLogger())

		res := engine.Ingest(ctx, Provenance{UserID: "u1"}, []models.FactCandidate{fact("raced", models.CategoryOther, 0.9)})
		assert.Equal(t, 0, res.Failed)
		assert.Equal(t, 1, res.Updated)
		require.Len(t, res.Memories, 1)
		assert.Equal(t, "winner", res.Memories[0].ID)
		assert.Equal(t, 0.9, res.Memories[0].ConfidenceScore)

		_, total, err := memories.List(ctx, &models.ListRequest{UserID: "u1", Page: 1, PageSize: 20})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})
}
