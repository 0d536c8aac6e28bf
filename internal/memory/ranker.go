package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

const (
	// MinRankConfidence is the lowest confidence a memory needs to be ranked.
	MinRankConfidence = 0.5
	DefaultRankLimit  = 5
	MaxRankLimit      = 50

	summaryWordWeight     = 2.0
	tagWordWeight         = 3.0
	summarySubstrWeight   = 1.0
	rawSubstrWeight       = 0.5
	substrMinTokenLength  = 3
	recentReferenceWindow = 7 * 24 * time.Hour
	staleReferenceWindow  = 30 * 24 * time.Hour
)

// RankSource is the read/touch boundary used by the ranker.
type RankSource interface {
	ListEligible(ctx context.Context, userID string, minConfidence float64) ([]*models.Memory, error)
	ListRecent(ctx context.Context, userID string, category models.Category, limit int) ([]*models.Memory, error)
	TouchReferenced(ctx context.Context, ids []string, at time.Time) error
}

// Ranker selects the memories most relevant to an incoming message.
type Ranker struct {
	source RankSource
	now    func() time.Time
}

func NewRanker(source RankSource) *Ranker {
	return &Ranker{source: source, now: time.Now}
}

// Tokenize lower-cases message and splits it on whitespace, dropping repeats.
func Tokenize(message string) []string {
	return lo.Uniq(strings.Fields(strings.ToLower(message)))
}

// ScoreMemory computes the relevance of m to the message tokens at time now.
func ScoreMemory(m *models.Memory, tokens []string, now time.Time) float64 {
	summary := strings.ToLower(m.Summary)
	raw := strings.ToLower(m.RawContent)
	summaryWords := lo.SliceToMap(strings.Fields(summary), func(w string) (string, struct{}) { return w, struct{}{} })
	tagNames := lo.SliceToMap(m.Tags, func(t models.Tag) (string, struct{}) { return strings.ToLower(t.Name), struct{}{} })

	var score float64
	for _, tok := range tokens {
		if _, ok := summaryWords[tok]; ok {
			score += summaryWordWeight
		}
		if _, ok := tagNames[tok]; ok {
			score += tagWordWeight
		}
		if len([]rune(tok)) > substrMinTokenLength {
			if strings.Contains(summary, tok) {
				score += summarySubstrWeight
			}
			if strings.Contains(raw, tok) {
				score += rawSubstrWeight
			}
		}
	}

	if m.LastReferenced != nil {
		since := now.Sub(*m.LastReferenced)
		switch {
		case since < recentReferenceWindow:
			score += 2
		case since < staleReferenceWindow:
			score += 1
		}
	}

	return score + m.ConfidenceScore
}

type scored struct {
	memory *models.Memory
	score  float64
}

// Rank returns at most limit memories ordered by score, then newest first.
// A limit of zero or less returns nothing; limits above MaxRankLimit are
// capped. An empty message falls back to recency ordering. Every returned
// memory is marked referenced; a store failure is returned to the caller.
func (r *Ranker) Rank(ctx context.Context, userID, message string, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		return []*models.Memory{}, nil
	}
	limit = min(limit, MaxRankLimit)
	now := r.now().UTC().Truncate(time.Millisecond)

	var selected []*models.Memory
	tokens := Tokenize(message)
	if len(tokens) == 0 {
		recent, err := r.source.ListRecent(ctx, userID, "", limit)
		if err != nil {
			return nil, fmt.Errorf("list recent memories: %w", err)
		}
		selected = recent
	} else {
		eligible, err := r.source.ListEligible(ctx, userID, MinRankConfidence)
		if err != nil {
			return nil, fmt.Errorf("list eligible memories: %w", err)
		}
		selected = topScored(eligible, tokens, now, limit)
	}

	if len(selected) == 0 {
		return []*models.Memory{}, nil
	}
	ids := lo.Map(selected, func(m *models.Memory, _ int) string { return m.ID })
	if err := r.source.TouchReferenced(ctx, ids, now); err != nil {
		return nil, fmt.Errorf("mark memories referenced: %w", err)
	}
	for _, m := range selected {
		touched := now
		m.LastReferenced = &touched
	}
	return selected, nil
}

func topScored(memories []*models.Memory, tokens []string, now time.Time, limit int) []*models.Memory {
	candidates := make([]scored, 0, len(memories))
	for _, m := range memories {
		if s := ScoreMemory(m, tokens, now); s > 0 {
			candidates = append(candidates, scored{memory: m, score: s})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.memory.CreatedAt.Equal(b.memory.CreatedAt) {
			return a.memory.CreatedAt.After(b.memory.CreatedAt)
		}
		return a.memory.ID < b.memory.ID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return lo.Map(candidates, func(s scored, _ int) *models.Memory { return s.memory })
}
