package llm

// EstimateTokens approximates the token count of a text. The usual rule of
// thumb for English text is ~4 characters per token; we count bytes, which
// overestimates for CJK input, erring on the safe side for budget checks.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateMessageTokens sums the token estimate over a conversation, adding
// a small per-message overhead for role framing.
func EstimateMessageTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}
