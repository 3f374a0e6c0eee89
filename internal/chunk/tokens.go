package chunk

import "strings"

// CountTokens approximates token count as whitespace-delimited words.
// Both the chunk budget and the context budget use the same counter,
// so budgets stay consistent end to end even though the embedding
// model's own tokenizer would count differently.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}
