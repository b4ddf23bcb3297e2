// Package history bounds a chat transcript by an estimated token budget and
// a message-count budget. Trimming is pure: identical inputs always produce
// identical outputs and the input slice is never mutated.
package history

import (
	"math"
	"strings"

	"github.com/stockgen-ai/generator/internal/shared/models"
)

// minRetained is the trimming floor: a transcript already above both limits
// is never reduced below this many entries.
const minRetained = 10

// EstimateTokens gives a rough token count for a string. Character count
// divided by four is conservative for English; word count times 1.3 catches
// short-word-heavy text. The higher estimate wins.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	charBased := len(text) / 4
	wordBased := int(math.Ceil(float64(len(strings.Fields(text))) * 1.3))

	if wordBased > charBased {
		return wordBased
	}
	return charBased
}

// Estimate totals the token estimate for a system prompt plus transcript.
func Estimate(transcript []models.Turn, systemPrompt string) int {
	total := EstimateTokens(systemPrompt)
	for _, turn := range transcript {
		total += EstimateTokens(turn.Content)
	}
	return total
}

// Trim bounds a transcript to maxMessages entries and maxTokens estimated
// tokens. When both limits are already satisfied (or trimming is disabled)
// the transcript is returned unchanged. Otherwise the newest maxMessages
// entries are retained, re-aligned to start on a user turn, and then whole
// user+assistant pairs are dropped from the front until the estimate fits
// or the retained window reaches the floor.
func Trim(transcript []models.Turn, systemPrompt string, maxMessages, maxTokens int, enabled bool) []models.Turn {
	if !enabled || len(transcript) == 0 {
		return transcript
	}

	total := Estimate(transcript, systemPrompt)
	if total < maxTokens && len(transcript) <= maxMessages {
		return transcript
	}

	start := len(transcript) - maxMessages
	if start < 0 {
		start = 0
	}
	trimmed := append([]models.Turn(nil), transcript[start:]...)

	// The retained window must open on a user turn.
	if len(trimmed) > 0 && trimmed[0].Role == models.RoleAssistant {
		trimmed = trimmed[1:]
	}

	tokens := Estimate(trimmed, systemPrompt)
	for tokens > maxTokens && len(trimmed) > minRetained {
		tokens -= EstimateTokens(trimmed[0].Content)
		trimmed = trimmed[1:]
		if len(trimmed) > 0 {
			tokens -= EstimateTokens(trimmed[0].Content)
			trimmed = trimmed[1:]
		}
	}

	return trimmed
}
