package memory

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
	"github.com/iammorganparry/clive/apps/usermemory/internal/store"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) (*store.DB, func()) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "open test db")
	return db, func() { db.Close() }
}

// clock is a settable time source for tests.
type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeExtractor returns canned candidates or an error and records transcripts.
type fakeExtractor struct {
	candidates  []models.FactCandidate
	err         error
	transcripts []string
}

func (f *fakeExtractor) Extract(_ context.Context, transcript string) ([]models.FactCandidate, error) {
	f.transcripts = append(f.transcripts, transcript)
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

// fakeCompleter returns a canned reply and records the last prompt.
type fakeCompleter struct {
	reply      string
	err        error
	lastSystem string
	lastPrompt string
}

func (f *fakeCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	f.lastSystem, f.lastPrompt = system, prompt
	return f.reply, f.err
}

func (f *fakeCompleter) Name() string { return "fake" }

func userTurn(texts ...string) *models.Message {
	return turn(models.RoleUser, texts...)
}

func assistantTurn(texts ...string) *models.Message {
	return turn(models.RoleAssistant, texts...)
}

func turn(role models.Role, texts ...string) *models.Message {
	msg := &models.Message{Role: role}
	for _, s := range texts {
		msg.Contents = append(msg.Contents, models.ContentBlock{Type: models.ContentText, Text: s})
	}
	return msg
}

func confidence(f float64) *float64 { return &f }
