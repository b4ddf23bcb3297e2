// Package generator drives the unattended generation loop: leasing pooled
// credentials, invoking the model backend, and keeping the persisted chat
// transcript consistent with the image artifacts it produces.
package generator

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/stockgen-ai/generator/internal/keypool"
	"github.com/stockgen-ai/generator/internal/metrics"
	"github.com/stockgen-ai/generator/internal/providers"
)

// maxAttempts bounds the retry machine: each generation gets this many
// backend invocations total before reporting exhaustion.
const maxAttempts = 3

// FailureReason names the terminal failure states of a generation attempt.
type FailureReason string

const (
	// ReasonNone marks success.
	ReasonNone FailureReason = ""
	// ReasonNoCredential: the pool had no available credential for the
	// scope. Not retried; cycling an empty pool is pointless.
	ReasonNoCredential FailureReason = "no_credential_available"
	// ReasonRetriesExhausted: every attempt failed.
	ReasonRetriesExhausted FailureReason = "retries_exhausted"
	// ReasonExtractionFailure: the model output lacked required markers.
	ReasonExtractionFailure FailureReason = "extraction_failure"
	// ReasonPersistenceFailure: a store write failed after generation.
	ReasonPersistenceFailure FailureReason = "persistence_failure"
	// ReasonPromptUnavailable: the system prompt file could not be read.
	ReasonPromptUnavailable FailureReason = "prompt_unavailable"
)

// attemptOutcome classifies one backend invocation.
type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeBackendError
	outcomeTokenLimit
	outcomeTransportError
)

// operation describes one retryable generation sequence for the state
// machine. Invoke runs with the secret of the credential leased for that
// attempt. OnTokenLimit, when set, is called before the retry that follows
// a token-limit rejection so the caller can shrink its transcript.
type operation struct {
	model        string
	purpose      string
	invoke       func(ctx context.Context, secret string) (string, error)
	onTokenLimit func()
}

// Orchestrator is the retry state machine shared by the text and image
// generators. States run AcquireLease -> InvokeBackend -> outcome handling,
// looping up to maxAttempts times before reporting exhaustion.
type Orchestrator struct {
	leases *keypool.Manager
	logger zerolog.Logger
}

// NewOrchestrator builds the retry machine over a lease manager.
func NewOrchestrator(leases *keypool.Manager, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		leases: leases,
		logger: logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Leases exposes the lease manager for callers that finish an operation
// themselves (success logging happens after post-processing).
func (o *Orchestrator) Leases() *keypool.Manager {
	return o.leases
}

// execute runs the retry machine for one operation.
//
// On success the lease is intentionally still held: the caller finishes
// post-processing (persistence, extraction), then logs usage and releases
// the returned secret itself. On failure every lease taken along the way
// has already been released or expired.
func (o *Orchestrator) execute(ctx context.Context, op operation) (output, credentialID, secret string, reason FailureReason) {
	consumer := o.leases.Consumer(op.purpose)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		credentialID, secret, err := o.leases.Acquire(ctx, op.model, op.purpose)
		if err != nil {
			if errors.Is(err, keypool.ErrNoCredential) {
				o.logger.Error().
					Str("model", op.model).
					Str("purpose", op.purpose).
					Msg("no available credentials in pool")
				return "", "", "", ReasonNoCredential
			}
			// Pool store unreachable: burns the attempt, nothing to release.
			o.logger.Error().Err(err).Int("attempt", attempt).Msg("credential acquisition failed")
			continue
		}

		result, err := op.invoke(ctx, secret)
		outcome := o.classify(err, op)

		switch outcome {
		case outcomeSuccess:
			metrics.BackendCalls.WithLabelValues(op.purpose, "success").Inc()
			return result, credentialID, secret, ReasonNone

		case outcomeTokenLimit:
			metrics.BackendCalls.WithLabelValues(op.purpose, "token_limit").Inc()
			o.logger.Warn().Int("attempt", attempt).Msg("token limit hit, shrinking history budget")
			o.leases.LogUsage(ctx, credentialID, consumer, op.model, false, err.Error())
			op.onTokenLimit()
			// The budget was the problem, not the credential.
			o.leases.Release(ctx, secret)

		case outcomeBackendError:
			metrics.BackendCalls.WithLabelValues(op.purpose, "backend_error").Inc()
			o.logger.Warn().Err(err).Int("attempt", attempt).Msg("backend rejected request, retiring credential")
			o.leases.LogUsage(ctx, credentialID, consumer, op.model, false, err.Error())
			o.leases.MarkExpiredAndRelease(ctx, secret, op.model)

		case outcomeTransportError:
			metrics.BackendCalls.WithLabelValues(op.purpose, "transport_error").Inc()
			o.logger.Warn().Err(err).Int("attempt", attempt).Msg("transport failure reaching backend")
			o.leases.LogUsage(ctx, credentialID, consumer, op.model, false, err.Error())
			o.leases.Release(ctx, secret)
		}
	}

	o.logger.Error().Str("purpose", op.purpose).Msg("all retry attempts exhausted")
	return "", "", "", ReasonRetriesExhausted
}

// classify maps an invocation error onto the state machine's transitions.
// Token-limit handling only applies when the operation can shrink its
// transcript; otherwise a token-limit message is an ordinary backend error.
func (o *Orchestrator) classify(err error, op operation) attemptOutcome {
	if err == nil {
		return outcomeSuccess
	}
	if _, ok := providers.AsBackendError(err); ok {
		if op.onTokenLimit != nil && providers.IsTokenLimit(err) {
			return outcomeTokenLimit
		}
		return outcomeBackendError
	}
	return outcomeTransportError
}
