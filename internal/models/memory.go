package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Memory is a durable fact about a user, inferred from conversation or entered manually.
type Memory struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	ChatID           string     `json:"chatId"`
	SourceExchangeID *string    `json:"sourceExchangeId,omitempty"`
	Summary          string     `json:"summary"`
	RawContent       string     `json:"rawContent"`
	ConfidenceScore  float64    `json:"confidenceScore"`
	Category         Category   `json:"category"`
	IsVerified       bool       `json:"isVerified"`
	IsActive         bool       `json:"isActive"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	LastReferenced   *time.Time `json:"lastReferenced,omitempty"`
	Tags             []Tag      `json:"tags"`
}

// TagNames returns the names of the memory's tags in attachment order.
func (m *Memory) TagNames() []string {
	names := make([]string, len(m.Tags))
	for i, t := range m.Tags {
		names[i] = t.Name
	}
	return names
}

// Tag is a normalized label shared across memories.
type Tag struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"createdAt"`
	MemoryCount int       `json:"memoryCount,omitempty"`
}

// FactCandidate is one fact proposed by the extraction provider, before merge.
type FactCandidate struct {
	Summary         string   `json:"summary"`
	RawContent      string   `json:"rawContent"`
	ConfidenceScore float64  `json:"confidenceScore"`
	Category        Category `json:"category"`
	Tags            []string `json:"tags"`
}

const (
	// SummaryKeyLength is how many leading characters of a summary form the dedup key.
	SummaryKeyLength = 200
	// MaxTagNameLength bounds a normalized tag name.
	MaxTagNameLength = 50
	// DefaultConfidence applies when the provider omits a confidence score.
	DefaultConfidence = 0.8
	// DefaultTagColor is assigned to tags on creation only.
	DefaultTagColor = "#3B82F6"
)

// SummaryKey returns the dedup prefix of a summary, counted in characters rather than bytes.
func SummaryKey(summary string) string {
	return truncateRunes(summary, SummaryKeyLength)
}

// NormalizeTagName trims, lower-cases and bounds a tag name. Empty means discard.
func NormalizeTagName(name string) string {
	return truncateRunes(strings.ToLower(strings.TrimSpace(name)), MaxTagNameLength)
}

// ClampConfidence forces a score into [0, 1].
func ClampConfidence(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
