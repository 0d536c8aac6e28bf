package models

import "strings"

// Category classifies what a memory is about.
type Category string

const (
	CategoryPersonal      Category = "personal"
	CategoryPreferences   Category = "preferences"
	CategoryWork          Category = "work"
	CategoryGoals         Category = "goals"
	CategoryRelationships Category = "relationships"
	CategoryLifestyle     Category = "lifestyle"
	CategoryTechnical     Category = "technical"
	CategoryOther         Category = "other"
)

var ValidCategories = map[Category]bool{
	CategoryPersonal:      true,
	CategoryPreferences:   true,
	CategoryWork:          true,
	CategoryGoals:         true,
	CategoryRelationships: true,
	CategoryLifestyle:     true,
	CategoryTechnical:     true,
	CategoryOther:         true,
}

func (c Category) IsValid() bool {
	return ValidCategories[c]
}

// ParseCategory normalizes free text into a Category, falling back to "other".
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.IsValid() {
		return c
	}
	return CategoryOther
}

// CreateMemoryRequest is the payload for POST /memories.
type CreateMemoryRequest struct {
	ChatID          string   `json:"chatId"`
	Summary         string   `json:"summary" validate:"required,max=2000"`
	RawContent      string   `json:"rawContent" validate:"required"`
	ConfidenceScore *float64 `json:"confidenceScore,omitempty" validate:"omitempty,gte=0,lte=1"`
	Category        string   `json:"category" validate:"omitempty,oneof=personal preferences work goals relationships lifestyle technical other"`
	Tags            []string `json:"tags" validate:"omitempty,max=20,dive,max=100"`
}

// UpdateMemoryRequest is the payload for PATCH /memories/{id}. Nil fields are left untouched.
type UpdateMemoryRequest struct {
	Summary         *string   `json:"summary,omitempty" validate:"omitempty,min=1,max=2000"`
	RawContent      *string   `json:"rawContent,omitempty" validate:"omitempty,min=1"`
	ConfidenceScore *float64  `json:"confidenceScore,omitempty" validate:"omitempty,gte=0,lte=1"`
	Category        *string   `json:"category,omitempty" validate:"omitempty,oneof=personal preferences work goals relationships lifestyle technical other"`
	IsActive        *bool     `json:"isActive,omitempty"`
	IsVerified      *bool     `json:"isVerified,omitempty"`
	Tags            *[]string `json:"tags,omitempty"`
}

// ListRequest holds parsed query params for GET /memories.
type ListRequest struct {
	UserID   string
	Category Category
	Tags     []string
	IsActive *bool
	Search   string
	Page     int
	PageSize int
}

// Pagination holds pagination metadata.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ListResponse is returned from GET /memories.
type ListResponse struct {
	Memories   []*Memory  `json:"memories"`
	Pagination Pagination `json:"pagination"`
}

// ContextRequest is the payload for POST /memories/context.
type ContextRequest struct {
	Message string `json:"message"`
	Limit   int    `json:"limit" validate:"omitempty,min=1,max=50"`
}

// ContextResponse pairs the ranked memories with the rendered prompt block.
type ContextResponse struct {
	Memories []*Memory `json:"memories"`
	Context  string    `json:"context"`
}

// IngestRequest is the payload for POST /memories/ingest.
type IngestRequest struct {
	ChatID     string            `json:"chatId"`
	ExchangeID string            `json:"exchangeId"`
	Candidates []IngestCandidate `json:"candidates" validate:"required,min=1,max=100,dive"`
}

// IngestCandidate is a fact supplied directly by a caller. A missing
// confidence defaults like a provider-extracted fact.
type IngestCandidate struct {
	Summary         string   `json:"summary"`
	RawContent      string   `json:"rawContent"`
	ConfidenceScore *float64 `json:"confidenceScore,omitempty"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
}

// ToFact converts c into a FactCandidate.
func (c IngestCandidate) ToFact() FactCandidate {
	confidence := DefaultConfidence
	if c.ConfidenceScore != nil {
		confidence = ClampConfidence(*c.ConfidenceScore)
	}
	return FactCandidate{
		Summary:         strings.TrimSpace(c.Summary),
		RawContent:      strings.TrimSpace(c.RawContent),
		ConfidenceScore: confidence,
		Category:        ParseCategory(c.Category),
		Tags:            c.Tags,
	}
}

// IngestResponse reports how a batch of candidates was merged.
type IngestResponse struct {
	Memories  []*Memory `json:"memories"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// CategoryCount is one row of the stats category breakdown.
type CategoryCount struct {
	Category Category `json:"category" db:"category"`
	Count    int      `json:"count" db:"count"`
}

// MemoryStats is returned from GET /memories/stats.
type MemoryStats struct {
	TotalMemories     int             `json:"totalMemories"`
	ActiveMemories    int             `json:"activeMemories"`
	VerifiedMemories  int             `json:"verifiedMemories"`
	RecentMemories    int             `json:"recentMemories"`
	CategoryBreakdown []CategoryCount `json:"categoryBreakdown"`
	VerificationRate  float64         `json:"verificationRate"`
}

// CreateChatRequest is the payload for POST /chats.
type CreateChatRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// AppendExchangeRequest is the payload for POST /chats/{id}/exchanges.
type AppendExchangeRequest struct {
	Messages []*Message `json:"messages" validate:"required,min=1,max=20,dive"`
}

// AppendExchangeResponse returns the stored exchange and, when enabled, the extraction outcome.
type AppendExchangeResponse struct {
	Exchange   *Exchange          `json:"exchange"`
	Extraction *ExtractionSummary `json:"extraction,omitempty"`
}

// ExtractRequest is the payload for POST /chats/{id}/extract-memories.
type ExtractRequest struct {
	ExchangeID string `json:"exchangeId"`
}

// ExtractionSummary is the wire form of an extraction run.
type ExtractionSummary struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Memories []*Memory `json:"memories"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status      string       `json:"status"`
	DB          ServiceCheck `json:"db"`
	Extraction  ServiceCheck `json:"extraction"`
	MemoryCount int          `json:"memoryCount"`
}

type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
