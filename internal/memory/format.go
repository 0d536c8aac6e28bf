package memory

import (
	"strings"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

const maxFormattedTags = 3

// FormatContext renders memories as a <user_context> block for the assistant
// prompt. An empty list renders as "".
func FormatContext(memories []*models.Memory) string {
	if len(memories) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<user_context>\n")
	sb.WriteString("Based on our previous conversations, here's what I know about you:\n\n")
	for _, m := range memories {
		sb.WriteString("- ")
		sb.WriteString(m.Summary)
		names := m.TagNames()
		if len(names) > maxFormattedTags {
			names = names[:maxFormattedTags]
		}
		if len(names) > 0 {
			sb.WriteString(" (Tags: ")
			sb.WriteString(strings.Join(names, ", "))
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("</user_context>")
	return sb.String()
}
