package memory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
	"github.com/iammorganparry/clive/apps/usermemory/internal/store"
)

// MemoryRepository is the persistence boundary used by the merge engine.
type MemoryRepository interface {
	Insert(ctx context.Context, m *models.Memory) error
	FindByDedupKey(ctx context.Context, userID, summary string, category models.Category) (*models.Memory, error)
	RaiseConfidence(ctx context.Context, id string, confidence float64, rawContent string, now time.Time) (bool, error)
	AttachTags(ctx context.Context, memoryID string, tagIDs []string) error
}

// Provenance identifies where a batch of candidates came from.
type Provenance struct {
	UserID     string
	ChatID     string
	ExchangeID string // empty when not tied to one exchange
}

// IngestResult summarizes one batch. Memories holds each created or matched
// memory once, in first-seen order.
type IngestResult struct {
	Memories  []*models.Memory
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	Failed    int
}

// MergeEngine decides, per candidate, whether to create a memory or merge into
// the one sharing its dedup key.
type MergeEngine struct {
	memories MemoryRepository
	tags     *TagResolver
	logger   *slog.Logger
	now      func() time.Time
}

func NewMergeEngine(memories MemoryRepository, tags *TagResolver, logger *slog.Logger) *MergeEngine {
	return &MergeEngine{memories: memories, tags: tags, logger: logger, now: time.Now}
}

type mergeOutcome int

const (
	outcomeCreated mergeOutcome = iota
	outcomeUpdated
	outcomeUnchanged
)

// Ingest processes candidates in order. A failing candidate is logged and
// skipped; cancellation stops the batch but keeps what was already written.
func (e *MergeEngine) Ingest(ctx context.Context, src Provenance, candidates []models.FactCandidate) *IngestResult {
	result := &IngestResult{Memories: []*models.Memory{}}
	index := map[string]int{}

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("ingest cancelled",
				"user_id", src.UserID, "chat_id", src.ChatID,
				"processed", i, "remaining", len(candidates)-i, "error", err)
			break
		}
		c.Summary = strings.TrimSpace(c.Summary)
		c.RawContent = strings.TrimSpace(c.RawContent)
		if c.Summary == "" || c.RawContent == "" {
			result.Skipped++
			continue
		}

		mem, outcome, err := e.mergeOne(ctx, src, c)
		if err != nil {
			result.Failed++
			e.logger.Error("failed to persist memory candidate",
				"user_id", src.UserID, "chat_id", src.ChatID, "error", err)
			continue
		}

		switch outcome {
		case outcomeCreated:
			result.Created++
		case outcomeUpdated:
			result.Updated++
		default:
			result.Unchanged++
		}

		if pos, seen := index[mem.ID]; seen {
			result.Memories[pos] = mem
		} else {
			index[mem.ID] = len(result.Memories)
			result.Memories = append(result.Memories, mem)
		}
	}
	return result
}

func (e *MergeEngine) mergeOne(ctx context.Context, src Provenance, c models.FactCandidate) (*models.Memory, mergeOutcome, error) {
	category := models.ParseCategory(string(c.Category))
	confidence := models.ClampConfidence(c.ConfidenceScore)

	existing, err := e.memories.FindByDedupKey(ctx, src.UserID, c.Summary, category)
	switch {
	case err == nil:
		return e.mergeInto(ctx, existing, confidence, c.RawContent)
	case !errors.Is(err, store.ErrNotFound):
		return nil, 0, err
	}

	now := e.now().UTC().Truncate(time.Millisecond)
	mem := &models.Memory{
		ID:              uuid.New().String(),
		UserID:          src.UserID,
		ChatID:          src.ChatID,
		Summary:         c.Summary,
		RawContent:      c.RawContent,
		ConfidenceScore: confidence,
		Category:        category,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
		Tags:            []models.Tag{},
	}
	if src.ExchangeID != "" {
		exchangeID := src.ExchangeID
		mem.SourceExchangeID = &exchangeID
	}

	if err := e.memories.Insert(ctx, mem); err != nil {
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, 0, err
		}
		// A concurrent batch created the key between lookup and insert.
		existing, err := e.memories.FindByDedupKey(ctx, src.UserID, c.Summary, category)
		if err != nil {
			return nil, 0, err
		}
		return e.mergeInto(ctx, existing, confidence, c.RawContent)
	}

	if len(c.Tags) > 0 {
		tags, err := e.tags.Resolve(ctx, c.Tags)
		if err == nil {
			err = e.memories.AttachTags(ctx, mem.ID, lo.Map(tags, func(t models.Tag, _ int) string { return t.ID }))
		}
		if err != nil {
			e.logger.Warn("failed to attach tags", "memory_id", mem.ID, "error", err)
		} else {
			mem.Tags = tags
		}
	}
	return mem, outcomeCreated, nil
}

// mergeInto raises confidence and raw content on existing only when the new
// confidence is strictly greater. Summary and category never change.
func (e *MergeEngine) mergeInto(ctx context.Context, existing *models.Memory, confidence float64, rawContent string) (*models.Memory, mergeOutcome, error) {
	if confidence <= existing.ConfidenceScore {
		return existing, outcomeUnchanged, nil
	}
	now := e.now().UTC().Truncate(time.Millisecond)
	changed, err := e.memories.RaiseConfidence(ctx, existing.ID, confidence, rawContent, now)
	if err != nil {
		return nil, 0, err
	}
	if !changed {
		return existing, outcomeUnchanged, nil
	}
	existing.ConfidenceScore = confidence
	existing.RawContent = rawContent
	existing.UpdatedAt = now
	return existing, outcomeUpdated, nil
}
