package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stockgen-ai/generator/internal/shared/models"
)

// Error is a failure reported by the model backend itself, as opposed to a
// transport problem reaching it. The orchestrator expires the credential on
// backend errors and merely releases it on transport errors.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
	}
	return "backend error: " + e.Message
}

// AsBackendError reports whether err carries a backend-reported failure.
func AsBackendError(err error) (*Error, bool) {
	var backendErr *Error
	if errors.As(err, &backendErr) {
		return backendErr, true
	}
	return nil, false
}

// IsTokenLimit reports whether the backend rejected the request because the
// transcript exceeded the model's token budget.
func IsTokenLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tokens exceed") ||
		strings.Contains(msg, "token limit") ||
		strings.Contains(msg, "context length") ||
		strings.Contains(msg, "context_length_exceeded")
}

// TextBackend generates a chat completion for a full transcript. The secret
// comes from the lease held for this attempt, never from configuration.
type TextBackend interface {
	Complete(ctx context.Context, secret, model string, transcript []models.Turn) (string, error)
}

// ImageBackend generates one image for a prompt and returns its location.
type ImageBackend interface {
	Generate(ctx context.Context, secret, model, prompt string) (string, error)
}
