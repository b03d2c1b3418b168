// Package tokenizer estimates how many tokens a rendered prompt will cost.
package tokenizer

import "strings"

// Estimate approximates the token count of text as four tokens per three
// words. Empty text counts as zero.
func Estimate(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return max(words*4/3, 1)
}

// EstimateAll sums Estimate over each part.
func EstimateAll(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += Estimate(p)
	}
	return total
}
