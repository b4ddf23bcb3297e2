package generator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stockgen-ai/generator/internal/providers"
)

// ImageGenerator renders the image for an extracted prompt. It shares the
// orchestrator's retry machine with the text generator.
type ImageGenerator struct {
	orch    *Orchestrator
	backend providers.ImageBackend
	model   string
	logger  zerolog.Logger
}

// NewImageGenerator wires the image generation service.
func NewImageGenerator(orch *Orchestrator, backend providers.ImageBackend, model string, logger zerolog.Logger) *ImageGenerator {
	return &ImageGenerator{
		orch:    orch,
		backend: backend,
		model:   model,
		logger:  logger.With().Str("component", "image-generator").Logger(),
	}
}

// Generate produces one image for the prompt and returns its location plus
// the credential that paid for it.
func (g *ImageGenerator) Generate(ctx context.Context, prompt string) (string, string, FailureReason) {
	g.logger.Info().Msg("generating image")

	op := operation{
		model:   g.model,
		purpose: "image",
		invoke: func(ctx context.Context, secret string) (string, error) {
			return g.backend.Generate(ctx, secret, g.model, prompt)
		},
	}

	link, credentialID, secret, reason := g.orch.execute(ctx, op)
	if reason != ReasonNone {
		return "", "", reason
	}

	leases := g.orch.Leases()
	leases.LogUsage(ctx, credentialID, leases.Consumer(op.purpose), g.model, true, "")
	leases.Release(ctx, secret)

	g.logger.Info().Str("image_link", link).Msg("image generated")
	return link, secret, ReasonNone
}
