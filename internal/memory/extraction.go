package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/iammorganparry/clive/apps/usermemory/internal/llm"
	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

// FactExtractor turns a transcript into fact candidates.
type FactExtractor interface {
	Extract(ctx context.Context, transcript string) ([]models.FactCandidate, error)
}

// ErrMalformedResponse marks a provider reply that is not a JSON array.
var ErrMalformedResponse = errors.New("malformed extraction response")

const extractionSystemPrompt = `You are a memory extraction AI. Your job is to analyze conversations and extract meaningful information about the user that could be useful for future interactions.

Extract information like:
- Personal details (name, location, profession, etc.)
- Preferences and interests
- Goals and aspirations
- Work/professional information
- Relationships and family
- Lifestyle and habits
- Technical skills and knowledge
- Important context about their life

For each piece of information you extract, provide:
1. A clear, concise summary (2-3 sentences max)
2. The raw content that supports this information
3. A confidence score (0.0 to 1.0)
4. A category from: personal, preferences, work, goals, relationships, lifestyle, technical, other
5. Relevant tags (single words that describe the content)

Only extract information that is explicitly mentioned or clearly implied. Don't make assumptions.

Return your response as a JSON array of objects with this structure:
{
  "summary": "Clear summary of the information",
  "raw_content": "The actual text that contains this information",
  "confidence_score": 0.85,
  "category": "personal",
  "tags": ["programming", "python", "ai"]
}

If no meaningful user information is found, return an empty array.`

const extractionPromptPrefix = "Please analyze this conversation and extract user information:\n\n"

// LLMExtractor asks a language model for fact candidates.
type LLMExtractor struct {
	completer llm.Completer
}

func NewLLMExtractor(completer llm.Completer) *LLMExtractor {
	return &LLMExtractor{completer: completer}
}

// Extract returns ErrMalformedResponse (wrapped) when the reply is not a JSON array.
func (e *LLMExtractor) Extract(ctx context.Context, transcript string) ([]models.FactCandidate, error) {
	raw, err := e.completer.Complete(ctx, extractionSystemPrompt, extractionPromptPrefix+transcript)
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", e.completer.Name(), err)
	}
	return ParseCandidates(raw)
}

// ParseCandidates decodes a provider reply. The reply must be a JSON array;
// elements that are not objects, or carry a confidence that is present but not
// a number, are dropped. Missing confidence defaults to 0.8 and out-of-range
// values are clamped. Unknown categories become "other".
func ParseCandidates(raw string) ([]models.FactCandidate, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(raw))))
	dec.UseNumber()

	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedResponse)
	}
	items, ok := decoded.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: not an array", ErrMalformedResponse)
	}

	candidates := make([]models.FactCandidate, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		confidence, ok := parseConfidence(obj["confidence_score"])
		if !ok {
			continue
		}
		candidates = append(candidates, models.FactCandidate{
			Summary:         stringField(obj["summary"]),
			RawContent:      stringField(obj["raw_content"]),
			ConfidenceScore: confidence,
			Category:        models.ParseCategory(stringField(obj["category"])),
			Tags:            stringSlice(obj["tags"]),
		})
	}
	return candidates, nil
}

func parseConfidence(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case nil:
		return models.DefaultConfidence, true
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return models.ClampConfidence(f), true
}

func stringField(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
