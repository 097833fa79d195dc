// Package budget estimates prompt sizes and fits retrieved documents into a
// model's context window. Backends use different tokenizers, so estimates use
// a conservative character heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// messageOverhead is the per-message framing cost most chat APIs add.
	messageOverhead = 4

	// DefaultMaxContextTokens fits 8k-context models with room for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated token count of msgs, including
// role and per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitDocuments returns how many of docs, taken in order, fit next to the
// fixed messages within maxTokens. docs are expected best-first, so the tail
// is dropped. At least one document is kept whenever docs is non-empty; the
// caller decides whether an oversized prompt is acceptable.
func FitDocuments(fixed []*schema.Message, docs []string, maxTokens int) int {
	if len(docs) == 0 {
		return 0
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	used := EstimateMessages(fixed)
	n := 0
	for _, d := range docs {
		// +1 for the separator newline.
		cost := Estimate(d) + 1
		if n > 0 && used+cost > maxTokens {
			break
		}
		used += cost
		n++
	}
	return n
}
