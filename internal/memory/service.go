package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
	"github.com/iammorganparry/clive/apps/usermemory/internal/store"
)

const (
	DefaultPageSize    = 20
	MaxPageSize        = 100
	DefaultRecentLimit = 10
	recentStatsWindow  = 7 * 24 * time.Hour
)

// ErrInvalidMemory is returned when a manual create or update would leave a
// memory with a blank summary or raw content.
var ErrInvalidMemory = errors.New("invalid memory")

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	TranscriptExchanges int
	StripPrivate        bool
	TagCache            *ristretto.Cache
}

// Service is the main facade for all memory operations.
type Service struct {
	memories  *store.MemoryStore
	tags      *store.TagStore
	chats     *store.ChatStore
	resolver  *TagResolver
	assembler *TranscriptAssembler
	extractor FactExtractor // nil disables extraction
	merger    *MergeEngine
	ranker    *Ranker
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new memory service. extractor may be nil.
func NewService(
	memories *store.MemoryStore,
	tags *store.TagStore,
	chats *store.ChatStore,
	extractor FactExtractor,
	opts Options,
	logger *slog.Logger,
) *Service {
	resolver := NewTagResolver(tags, opts.TagCache)
	return &Service{
		memories:  memories,
		tags:      tags,
		chats:     chats,
		resolver:  resolver,
		assembler: NewTranscriptAssembler(chats, opts.TranscriptExchanges, opts.StripPrivate),
		extractor: extractor,
		merger:    NewMergeEngine(memories, resolver, logger),
		ranker:    NewRanker(memories),
		logger:    logger,
		now:       time.Now,
	}
}

// setClock swaps the time source on the service and every component it owns.
func (s *Service) setClock(now func() time.Time) {
	s.now = now
	s.resolver.now = now
	s.merger.now = now
	s.ranker.now = now
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// ExtractionEnabled reports whether an extractor is configured.
func (s *Service) ExtractionEnabled() bool {
	return s.extractor != nil
}

// CreateMemory stores a manually entered memory. Summary and raw content are
// trimmed so the dedup key matches extracted facts. A dedup key collision
// returns store.ErrDuplicateKey.
func (s *Service) CreateMemory(ctx context.Context, userID string, req *models.CreateMemoryRequest) (*models.Memory, error) {
	summary := strings.TrimSpace(req.Summary)
	rawContent := strings.TrimSpace(req.RawContent)
	if summary == "" || rawContent == "" {
		return nil, fmt.Errorf("%w: summary and raw content must not be blank", ErrInvalidMemory)
	}
	confidence := models.DefaultConfidence
	if req.ConfidenceScore != nil {
		confidence = models.ClampConfidence(*req.ConfidenceScore)
	}
	now := s.timestamp()
	mem := &models.Memory{
		ID:              uuid.New().String(),
		UserID:          userID,
		ChatID:          req.ChatID,
		Summary:         summary,
		RawContent:      rawContent,
		ConfidenceScore: confidence,
		Category:        models.ParseCategory(req.Category),
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
		Tags:            []models.Tag{},
	}
	if err := s.memories.Insert(ctx, mem); err != nil {
		return nil, err
	}
	if len(req.Tags) > 0 {
		if err := s.replaceTags(ctx, mem.ID, req.Tags); err != nil {
			return nil, err
		}
	}
	return s.memories.GetByID(ctx, userID, mem.ID)
}

// GetMemory returns one of the user's memories.
func (s *Service) GetMemory(ctx context.Context, userID, id string) (*models.Memory, error) {
	return s.memories.GetByID(ctx, userID, id)
}

// ListMemories returns a filtered, paginated listing.
func (s *Service) ListMemories(ctx context.Context, req *models.ListRequest) (*models.ListResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = DefaultPageSize
	}
	if req.PageSize > MaxPageSize {
		req.PageSize = MaxPageSize
	}
	req.Tags = NormalizeTagNames(req.Tags)

	memories, total, err := s.memories.List(ctx, req)
	if err != nil {
		return nil, err
	}
	return &models.ListResponse{
		Memories: memories,
		Pagination: models.Pagination{
			Page:       req.Page,
			PageSize:   req.PageSize,
			Total:      total,
			TotalPages: (total + req.PageSize - 1) / req.PageSize,
		},
	}, nil
}

// UpdateMemory applies a partial update. Tags, when present, replace the current set.
func (s *Service) UpdateMemory(ctx context.Context, userID, id string, req *models.UpdateMemoryRequest) (*models.Memory, error) {
	patch := *req
	var err error
	if patch.Summary, err = trimmedField("summary", req.Summary); err != nil {
		return nil, err
	}
	if patch.RawContent, err = trimmedField("raw content", req.RawContent); err != nil {
		return nil, err
	}
	if err := s.memories.Update(ctx, userID, id, &patch, s.timestamp()); err != nil {
		return nil, err
	}
	if req.Tags != nil {
		if err := s.replaceTags(ctx, id, *req.Tags); err != nil {
			return nil, err
		}
	}
	return s.memories.GetByID(ctx, userID, id)
}

func trimmedField(name string, v *string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s must not be blank", ErrInvalidMemory, name)
	}
	return &trimmed, nil
}

// VerifyMemory marks a memory as confirmed by the user.
func (s *Service) VerifyMemory(ctx context.Context, userID, id string) (*models.Memory, error) {
	verified := true
	return s.UpdateMemory(ctx, userID, id, &models.UpdateMemoryRequest{IsVerified: &verified})
}

// ToggleActive flips a memory's active flag.
func (s *Service) ToggleActive(ctx context.Context, userID, id string) (*models.Memory, error) {
	if _, err := s.memories.ToggleActive(ctx, userID, id, s.timestamp()); err != nil {
		return nil, err
	}
	return s.memories.GetByID(ctx, userID, id)
}

func (s *Service) replaceTags(ctx context.Context, memoryID string, names []string) error {
	tags, err := s.resolver.Resolve(ctx, names)
	if err != nil {
		return err
	}
	return s.memories.SetTags(ctx, memoryID, lo.Map(tags, func(t models.Tag, _ int) string { return t.ID }))
}

// ListTags returns the tags on the user's memories with active counts.
func (s *Service) ListTags(ctx context.Context, userID string) ([]models.Tag, error) {
	return s.tags.ListForUser(ctx, userID)
}

// Stats returns counters for the user's memories.
func (s *Service) Stats(ctx context.Context, userID string) (*models.MemoryStats, error) {
	stats, err := s.memories.Stats(ctx, userID, s.now().Add(-recentStatsWindow))
	if err != nil {
		return nil, err
	}
	if stats.TotalMemories > 0 {
		rate := float64(stats.VerifiedMemories) / float64(stats.TotalMemories) * 100
		stats.VerificationRate = math.Round(rate*10) / 10
	}
	return stats, nil
}

// RecentMemories lists active memories by recency and marks them referenced.
func (s *Service) RecentMemories(ctx context.Context, userID string, category models.Category, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	memories, err := s.memories.ListRecent(ctx, userID, category, limit)
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return memories, nil
	}
	now := s.timestamp()
	ids := lo.Map(memories, func(m *models.Memory, _ int) string { return m.ID })
	if err := s.memories.TouchReferenced(ctx, ids, now); err != nil {
		return nil, err
	}
	for _, m := range memories {
		touched := now
		m.LastReferenced = &touched
	}
	return memories, nil
}

// RelevantMemories ranks the user's memories against message and returns at
// most limit of them. Callers apply their own default; a limit of zero or less
// returns no memories. Errors are never swallowed.
func (s *Service) RelevantMemories(ctx context.Context, userID, message string, limit int) ([]*models.Memory, error) {
	return s.ranker.Rank(ctx, userID, message, limit)
}

// BuildContext ranks memories and renders them for prompt injection.
func (s *Service) BuildContext(ctx context.Context, userID, message string, limit int) (*models.ContextResponse, error) {
	memories, err := s.RelevantMemories(ctx, userID, message, limit)
	if err != nil {
		return nil, err
	}
	return &models.ContextResponse{Memories: memories, Context: FormatContext(memories)}, nil
}

// IngestCandidates merges externally supplied candidates.
func (s *Service) IngestCandidates(ctx context.Context, src Provenance, candidates []models.FactCandidate) *IngestResult {
	result := s.merger.Ingest(ctx, src, candidates)
	s.logger.Info("ingested memory candidates",
		"user_id", src.UserID, "chat_id", src.ChatID,
		"created", result.Created, "updated", result.Updated,
		"unchanged", result.Unchanged, "skipped", result.Skipped, "failed", result.Failed)
	return result
}

// CreateChat starts a conversation for userID.
func (s *Service) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	return s.chats.CreateChat(ctx, userID, title, s.timestamp())
}

// GetChat returns the chat if userID owns it.
func (s *Service) GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	return s.chats.GetChat(ctx, userID, chatID)
}

// DeleteChat removes the chat and its exchanges. Its memories are kept.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) error {
	return s.chats.DeleteChat(ctx, userID, chatID)
}

// AppendExchange stores an exchange and, when extract is set, runs extraction
// on it inline. Extraction never causes the call to fail.
func (s *Service) AppendExchange(ctx context.Context, userID, chatID string, messages []*models.Message, extract bool) (*models.Exchange, *ExtractionOutcome, error) {
	chat, err := s.chats.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, nil, err
	}
	ex, err := s.chats.AppendExchange(ctx, chatID, messages, s.timestamp())
	if err != nil {
		return nil, nil, err
	}
	if !extract {
		return ex, nil, nil
	}
	return ex, s.ExtractMemories(ctx, chat, ex.ID), nil
}

// ExtractionStatus classifies how an extraction run ended.
type ExtractionStatus string

const (
	StatusExtracted             ExtractionStatus = "extracted"
	StatusDisabled              ExtractionStatus = "disabled"
	StatusEmptyTranscript       ExtractionStatus = "empty_transcript"
	StatusTranscriptUnavailable ExtractionStatus = "transcript_unavailable"
	StatusProviderFailed        ExtractionStatus = "provider_failed"
	StatusMalformedResponse     ExtractionStatus = "malformed_response"
	StatusNoCandidates          ExtractionStatus = "no_candidates"
)

// ExtractionOutcome is the fail-open result of an extraction run. It carries
// no error: every failure mode ends with zero memories and a status.
type ExtractionOutcome struct {
	Status     ExtractionStatus
	Candidates int
	Memories   []*models.Memory
	Ingest     *IngestResult
}

// Message is a human-readable summary of the outcome.
func (o *ExtractionOutcome) Message() string {
	return fmt.Sprintf("Extracted %d memories from chat", len(o.Memories))
}

// Summary converts the outcome to its wire form.
func (o *ExtractionOutcome) Summary() *models.ExtractionSummary {
	return &models.ExtractionSummary{Status: string(o.Status), Message: o.Message(), Memories: o.Memories}
}

func emptyOutcome(status ExtractionStatus) *ExtractionOutcome {
	return &ExtractionOutcome{Status: status, Memories: []*models.Memory{}}
}

// ExtractMemories extracts facts from one exchange of chat, or from its recent
// exchanges when exchangeID is empty, and merges them into the user's memories.
func (s *Service) ExtractMemories(ctx context.Context, chat *models.Chat, exchangeID string) *ExtractionOutcome {
	if s.extractor == nil {
		return emptyOutcome(StatusDisabled)
	}
	logger := s.logger.With("user_id", chat.UserID, "chat_id", chat.ID)

	transcript, err := s.assembler.Assemble(ctx, chat.ID, exchangeID)
	if err != nil {
		logger.Warn("could not assemble transcript", "error", err)
		return emptyOutcome(StatusTranscriptUnavailable)
	}
	if transcript == "" {
		return emptyOutcome(StatusEmptyTranscript)
	}

	candidates, err := s.extractor.Extract(ctx, transcript)
	if errors.Is(err, ErrMalformedResponse) {
		logger.Warn("extraction response was not a JSON array", "error", err)
		return emptyOutcome(StatusMalformedResponse)
	}
	if err != nil {
		logger.Warn("memory extraction failed", "error", err)
		return emptyOutcome(StatusProviderFailed)
	}
	if len(candidates) == 0 {
		return emptyOutcome(StatusNoCandidates)
	}

	result := s.IngestCandidates(ctx, Provenance{UserID: chat.UserID, ChatID: chat.ID, ExchangeID: exchangeID}, candidates)
	return &ExtractionOutcome{
		Status:     StatusExtracted,
		Candidates: len(candidates),
		Memories:   result.Memories,
		Ingest:     result,
	}
}
