package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/clinrag/clinrag/internal/models"
)

// DefaultContextBudget caps how many characters of retrieved content get
// injected into a prompt, respecting downstream context-window limits.
const DefaultContextBudget = 4000

// Context is a bounded grounding block plus the deduplicated list of
// source documents it was drawn from, for citation display.
type Context struct {
	Text    string   `json:"context"`
	Sources []string `json:"sources"`
}

// BuildContext concatenates match contents in ranking order up to the
// character budget, truncating lowest-ranked matches first. Sources keep
// first-seen order. Pure function.
func BuildContext(matches []models.RetrievalMatch, budget int) Context {
	if budget <= 0 {
		budget = DefaultContextBudget
	}

	var text strings.Builder
	var sources []string
	seen := make(map[string]struct{})

	for _, match := range matches {
		content := strings.TrimSpace(match.Content)
		if content == "" {
			continue
		}

		separator := ""
		if text.Len() > 0 {
			separator = " "
		}
		remaining := budget - text.Len() - len(separator)
		if remaining <= 0 {
			break
		}
		if len(content) > remaining {
			content = truncateRunes(content, remaining)
			if content == "" {
				break
			}
		}

		text.WriteString(separator)
		text.WriteString(content)

		if match.DocumentName != "" {
			if _, ok := seen[match.DocumentName]; !ok {
				seen[match.DocumentName] = struct{}{}
				sources = append(sources, match.DocumentName)
			}
		}
	}

	return Context{Text: text.String(), Sources: sources}
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// SystemPrompt renders the grounding instructions handed to the chat
// model alongside the retrieved context.
func SystemPrompt(c Context) string {
	var sb strings.Builder
	sb.WriteString("Instructions:\n")
	sb.WriteString("- Be helpful and answer questions concisely. If you don't know the answer, say 'I don't know'\n")
	sb.WriteString("- Utilize the context provided for accurate and specific information.\n")
	sb.WriteString("- Incorporate your preexisting knowledge to enhance the depth and relevance of your response.\n")
	sb.WriteString("- Cite your sources when possible\n\n")
	sb.WriteString(fmt.Sprintf("Context: %s", c.Text))
	if len(c.Sources) > 0 {
		sb.WriteString(fmt.Sprintf("\nSources: %s", strings.Join(c.Sources, ", ")))
	}
	return sb.String()
}
