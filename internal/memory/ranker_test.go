package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
	"github.com/iammorganparry/clive/apps/usermemory/internal/store"
)

func memoryWith(summary, raw string, conf float64, tags ...string) *models.Memory {
	m := &models.Memory{Summary: summary, RawContent: raw, ConfidenceScore: conf}
	for _, name := range tags {
		m.Tags = append(m.Tags, models.Tag{Name: name})
	}
	return m
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"what", "python", "libs?"}, Tokenize("  What python PYTHON\tlibs? "))
	assert.Empty(t, Tokenize(" \n\t "))
}

func TestScoreMemory(t *testing.T) {
	now := baseTime
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name    string
		memory  *models.Memory
		message string
		ref     *time.Time
		want    float64
	}{
		{
			name:    "no overlap scores confidence only",
			memory:  memoryWith("Likes hiking", "I like hiking", 0.7),
			message: "weather today",
			want:    0.7,
		},
		{
			name:    "summary word plus substring",
			memory:  memoryWith("Uses python daily", "x", 0.5),
			message: "python",
			want:    2 + 1 + 0.5,
		},
		{
			name:    "tag match",
			memory:  memoryWith("Builds things", "x", 0.5, "Go"),
			message: "go",
			want:    3 + 0.5,
		},
		{
			name:    "short tokens skip substring scoring",
			memory:  memoryWith("golang fan", "golang", 0.5),
			message: "go",
			want:    0.5,
		},
		{
			name:    "raw content substring",
			memory:  memoryWith("Has a pet", "my dog is called rex", 0.6),
			message: "dogs",
			want:    0.6,
		},
		{
			name:    "raw content substring counts half",
			memory:  memoryWith("Has a pet", "my doggo is called rex", 0.6),
			message: "dogg",
			want:    0.5 + 0.6,
		},
		{
			name:    "repeated token counts once",
			memory:  memoryWith("Uses rust", "x", 0.5),
			message: "rust rust RUST",
			want:    2 + 1 + 0.5,
		},
		{
			name:    "referenced this week",
			memory:  memoryWith("a", "b", 0.5),
			message: "zzz",
			ref:     ago(6 * 24 * time.Hour),
			want:    2 + 0.5,
		},
		{
			name:    "referenced this month",
			memory:  memoryWith("a", "b", 0.5),
			message: "zzz",
			ref:     ago(20 * 24 * time.Hour),
			want:    1 + 0.5,
		},
		{
			name:    "referenced long ago",
			memory:  memoryWith("a", "b", 0.5),
			message: "zzz",
			ref:     ago(31 * 24 * time.Hour),
			want:    0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.memory.LastReferenced = tt.ref
			got := ScoreMemory(tt.memory, Tokenize(tt.message), now)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func seedMemories(t *testing.T, db *store.DB, userID string, facts ...models.FactCandidate) []*models.Memory {
	t.Helper()
	engine := NewMergeEngine(store.NewMemoryStore(db), NewTagResolver(store.NewTagStore(db), nil), testLogger())
	clk := &clock{t: baseTime}
	engine.now = clk.Now

	var out []*models.Memory
	for _, f := range facts {
		res := engine.Ingest(context.Background(), Provenance{UserID: userID, ChatID: "chat-1"}, []models.FactCandidate{f})
		require.Len(t, res.Memories, 1)
		out = append(out, res.Memories[0])
		clk.Advance(time.Minute)
	}
	return out
}

func TestRankerRank(t *testing.T) {
	ctx := context.Background()

	t.Run("python question ranks the python memory first", func(t *testing.T) {
		db, cleanup := setupTestDB(t)
		defer cleanup()
		seeded := seedMemories(t, db, "u1",
			fact("User is a Python developer", models.CategoryTechnical, 0.9, "python", "programming"),
			fact("User enjoys hiking on weekends", models.CategoryLifestyle, 0.8, "hiking"),
			fact("User works at a fintech startup", models.CategoryWork, 0.85, "work"),
		)

		r := NewRanker(store.NewMemoryStore(db))
		r.now = func() time.Time { return baseTime.Add(time.Hour) }

		got, err := r.Rank(ctx, "u1", "What Python libraries should I use?", 5)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, seeded[0].ID, got[0].ID)
		for _, m := range got {
			require.NotNil(t, m.LastReferenced)
		}
	})

	t.Run("ranking is deterministic and breaks ties by newest", func(t *testing.T) {
		db, cleanup := setupTestDB(t)
		defer cleanup()
		seeded := seedMemories(t, db, "u1",
			fact("first fact", models.CategoryOther, 0.8),
			fact("second fact", models.CategoryOther, 0.8),
			fact("third fact", models.CategoryOther, 0.8),
		)

		r := NewRanker(store.NewMemoryStore(db))
		r.now = func() time.Time { return baseTime }
		// Touching moves every memory into the same recency bucket, so reruns keep their ties.
		for i := 0; i < 3; i++ {
			got, err := r.Rank(ctx, "u1", "unrelated words", 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, seeded[2].ID, got[0].ID)
			assert.Equal(t, seeded[1].ID, got[1].ID)
		}
	})

	t.Run("low confidence and inactive memories are never ranked", func(t *testing.T) {
		db, cleanup := setupTestDB(t)
		defer cleanup()
		memories := store.NewMemoryStore(db)
		seeded := seedMemories(t, db, "u1",
			fact("Uses kotlin", models.CategoryTechnical, 0.4, "kotlin"),
			fact("Uses kotlin multiplatform", models.CategoryTechnical, 0.9, "kotlin"),
			fact("Kotlin user group organiser", models.CategoryTechnical, 0.9, "kotlin"),
		)
		_, err := memories.ToggleActive(ctx, "u1", seeded[2].ID, baseTime)
		require.NoError(t, err)

		r := NewRanker(memories)
		got, err := r.Rank(ctx, "u1", "kotlin", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, seeded[1].ID, got[0].ID)
	})

	t.Run("ranked memories are marked referenced in the store", func(t *testing.T) {
		db, cleanup := setupTestDB(t)
		defer cleanup()
		memories := store.NewMemoryStore(db)
		seeded := seedMemories(t, db, "u1",
			fact("Drinks espresso", models.CategoryPreferences, 0.9, "coffee"),
			fact("Lives near the sea", models.CategoryPersonal, 0.9),
		)

		touchedAt := baseTime.Add(48 * time.Hour)
		r := NewRanker(memories)
		r.now = func() time.Time { return touchedAt }
		got, err := r.Rank(ctx, "u1", "coffee", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, seeded[0].ID, got[0].ID)

		stored, err := memories.GetByID(ctx, "u1", seeded[0].ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastReferenced)
		assert.True(t, touchedAt.Equal(*stored.LastReferenced))
		assert.True(t, baseTime.Equal(stored.UpdatedAt), "touch does not change updated_at")

		other, err := memories.GetByID(ctx, "u1", seeded[1].ID)
		require.NoError(t, err)
		assert.Nil(t, other.LastReferenced)
	})

	t.Run("empty message falls back to recent memories", func(t *testing.T) {
		db, cleanup := setupTestDB(t)
		defer cleanup()
		seeded := seedMemories(t, db, "u1",
			fact("old", models.CategoryOther, 0.3),
			fact("new", models.CategoryOther, 0.3),
		)

		r := NewRanker(store.NewMemoryStore(db))
		got, err := r.Rank(ctx, "u1", "   ", 5)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, seeded[1].ID, got[0].ID)
	})

	t.Run("no memories returns an empty slice", func(t *testing.T) {
		db, cleanup := setupTestDB(t)
		defer cleanup()

		r := NewRanker(store.NewMemoryStore(db))
		got, err := r.Rank(ctx, "nobody", "anything", 5)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

// stubRankSource serves canned memories and injectable failures.
type stubRankSource struct {
	eligible []*models.Memory
	listErr  error
	touchErr error
	touched  []string
	limits   []int
}

func (s *stubRankSource) ListEligible(_ context.Context, _ string, _ float64) ([]*models.Memory, error) {
	return s.eligible, s.listErr
}

func (s *stubRankSource) ListRecent(_ context.Context, _ string, _ models.Category, limit int) ([]*models.Memory, error) {
	s.limits = append(s.limits, limit)
	return s.eligible, s.listErr
}

func (s *stubRankSource) TouchReferenced(_ context.Context, ids []string, _ time.Time) error {
	s.touched = append(s.touched, ids...)
	return s.touchErr
}

func TestRankerErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("database is locked")

	t.Run("list failure is returned", func(t *testing.T) {
		r := NewRanker(&stubRankSource{listErr: boom})
		got, err := r.Rank(ctx, "u1", "hello there", 5)
		require.ErrorIs(t, err, boom)
		assert.Nil(t, got)
	})

	t.Run("touch failure is returned", func(t *testing.T) {
		src := &stubRankSource{
			eligible: []*models.Memory{{ID: "m1", Summary: "hello", ConfidenceScore: 0.9}},
			touchErr: boom,
		}
		r := NewRanker(src)
		_, err := r.Rank(ctx, "u1", "hello", 5)
		require.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"m1"}, src.touched)
	})

	t.Run("limit is capped before reaching the store", func(t *testing.T) {
		src := &stubRankSource{}
		r := NewRanker(src)
		_, err := r.Rank(ctx, "u1", "", 1000)
		require.NoError(t, err)
		_, err = r.Rank(ctx, "u1", "", 7)
		require.NoError(t, err)
		assert.Equal(t, []int{MaxRankLimit, 7}, src.limits)
	})

	t.Run("non-positive limit returns nothing", func(t *testing.T) {
		src := &stubRankSource{
			eligible: []*models.Memory{{ID: "m1", Summary: "python", ConfidenceScore: 0.9}},
		}
		r := NewRanker(src)
		for _, limit := range []int{0, -3} {
			got, err := r.Rank(ctx, "u1", "python", limit)
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
			got, err = r.Rank(ctx, "u1", "", limit)
			require.NoError(t, err)
			assert.Empty(t, got)
		}
		assert.Empty(t, src.touched)
		assert.Empty(t, src.limits)
	})

	t.Run("limit caps scored results", func(t *testing.T) {
		var eligible []*models.Memory
		for i := 0; i < 80; i++ {
			eligible = append(eligible, &models.Memory{
				ID: fmt.Sprintf("m%02d", i), Summary: "topic", ConfidenceScore: 0.9, CreatedAt: baseTime,
			})
		}
		src := &stubRankSource{eligible: eligible}
		r := NewRanker(src)
		got, err := r.Rank(ctx, "u1", "topic", 1000)
		require.NoError(t, err)
		require.Len(t, got, MaxRankLimit)
		assert.Equal(t, "m00", got[0].ID, "equal scores and timestamps order by id")
	})
}
