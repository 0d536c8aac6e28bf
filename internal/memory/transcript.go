package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
	"github.com/iammorganparry/clive/apps/usermemory/internal/privacy"
)

// DefaultTranscriptExchanges bounds how many recent exchanges feed one extraction.
const DefaultTranscriptExchanges = 10

// ConversationSource reads stored exchanges.
type ConversationSource interface {
	GetExchange(ctx context.Context, chatID, exchangeID string) (*models.Exchange, error)
	RecentExchanges(ctx context.Context, chatID string, n int) ([]*models.Exchange, error)
}

// TranscriptAssembler flattens exchanges into "User: ..." / "Assistant: ..." turns.
type TranscriptAssembler struct {
	source       ConversationSource
	window       int
	stripPrivate bool
}

func NewTranscriptAssembler(source ConversationSource, window int, stripPrivate bool) *TranscriptAssembler {
	if window <= 0 {
		window = DefaultTranscriptExchanges
	}
	return &TranscriptAssembler{source: source, window: window, stripPrivate: stripPrivate}
}

// Assemble returns the transcript for one exchange, or for the chat's most
// recent exchanges when exchangeID is empty. An empty result means there is
// nothing to extract.
func (a *TranscriptAssembler) Assemble(ctx context.Context, chatID, exchangeID string) (string, error) {
	var exchanges []*models.Exchange
	if exchangeID != "" {
		ex, err := a.source.GetExchange(ctx, chatID, exchangeID)
		if err != nil {
			return "", fmt.Errorf("load exchange: %w", err)
		}
		exchanges = []*models.Exchange{ex}
	} else {
		recent, err := a.source.RecentExchanges(ctx, chatID, a.window)
		if err != nil {
			return "", fmt.Errorf("load recent exchanges: %w", err)
		}
		exchanges = recent
	}
	return RenderTranscript(exchanges, a.stripPrivate), nil
}

var rolePrefix = map[models.Role]string{
	models.RoleUser:      "User: ",
	models.RoleAssistant: "Assistant: ",
}

// RenderTranscript joins the text blocks of each turn with a space and the
// turns with a blank line. Non-text blocks and turns without text are dropped.
func RenderTranscript(exchanges []*models.Exchange, stripPrivate bool) string {
	var turns []string
	for _, ex := range exchanges {
		for _, msg := range ex.Messages {
			var texts []string
			for _, block := range msg.Contents {
				if block.Type != models.ContentText {
					continue
				}
				text := block.Text
				if stripPrivate {
					text = privacy.Strip(text)
				}
				if strings.TrimSpace(text) == "" {
					continue
				}
				texts = append(texts, text)
			}
			if len(texts) == 0 {
				continue
			}
			prefix, ok := rolePrefix[msg.Role]
			if !ok {
				prefix = rolePrefix[models.RoleAssistant]
			}
			turns = append(turns, prefix+strings.Join(texts, " "))
		}
	}
	return strings.Join(turns, "\n\n")
}
