package chat

import (
	"fmt"
	"strings"

	"github.com/secondbrain-app/secondbrain/internal/llm"
)

// systemPrompt frames every answer. Citation instructions must match what
// the citation rewriter expects: bare bracketed ordinals.
const systemPrompt = `You are a personal knowledge assistant. Answer using the notes provided in the context when they are relevant.

Citation rules:
- When a statement comes from a note, cite it with the note's number in square brackets, e.g. [1].
- Place the marker directly after the statement it supports, before the period when possible.
- Only cite numbers that appear in the context. Never invent citation numbers.
- If the context does not cover the question, say so and answer from general knowledge without citations.`

// contextHeader introduces context retrieved above the similarity
// threshold.
const contextHeader = "Notes from the knowledge base relevant to the question:"

// fallbackHeader introduces nearest-neighbor context returned when
// nothing cleared the threshold. The wording pushes the model to hedge.
const fallbackHeader = "No stored notes closely match the question. The following notes are only loosely related; lean on them with caution and tell the user when you do:"

// degradedNote is appended when retrieval was unavailable entirely.
const degradedNote = "Note: the knowledge base could not be searched for this question. Answer from general knowledge and say that stored notes were not consulted."

// maxHistoryTokens bounds how much prior conversation rides along in the
// prompt.
const maxHistoryTokens = 2000

// buildMessages assembles the provider messages for one answer turn.
// history must be oldest first and already include the just-persisted
// user question as its final element.
func buildMessages(history []Message, contextBlock string, fallback, degraded bool) []llm.Message {
	var sys strings.Builder
	sys.WriteString(systemPrompt)
	switch {
	case degraded:
		sys.WriteString("\n\n")
		sys.WriteString(degradedNote)
	case contextBlock != "":
		header := contextHeader
		if fallback {
			header = fallbackHeader
		}
		fmt.Fprintf(&sys, "\n\n%s\n\n%s", header, contextBlock)
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: sys.String()}}
	for _, m := range trimHistory(history, maxHistoryTokens) {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

// trimHistory keeps the most recent messages whose combined estimate fits
// the budget. The final message (the current question) is always kept.
func trimHistory(history []Message, budget int) []Message {
	if len(history) == 0 {
		return nil
	}

	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := llm.EstimateTokens(history[i].Content) + 4
		if total+cost > budget && start < len(history) {
			break
		}
		total += cost
		start = i
	}
	return history[start:]
}

// titlePrompt asks for a short chat title.
const titlePrompt = `Write a short title (at most six words, no quotes, no trailing punctuation) for a conversation that starts with this question:

%s`

// maxTitleRunes caps stored chat titles.
const maxTitleRunes = 50

// truncateTitle trims a candidate title to the stored limit.
func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	runes := []rune(s)
	if len(runes) <= maxTitleRunes {
		return s
	}
	return strings.TrimSpace(string(runes[:maxTitleRunes-1])) + "…"
}
