package generator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stockgen-ai/generator/internal/history"
	"github.com/stockgen-ai/generator/internal/providers"
	"github.com/stockgen-ai/generator/internal/shared/config"
	"github.com/stockgen-ai/generator/internal/shared/models"
)

// continuationMessage is sent once a conversation is already underway; the
// system prompt itself is only sent on the very first generation.
const continuationMessage = "Give me a new one"

// MetadataResult is a successful metadata generation: the extracted fields,
// the persisted provisional turn, and the credential that produced it.
type MetadataResult struct {
	Metadata  *models.ImageMetadata
	MessageID string
	APIKey    string
}

// TextGenerator produces image metadata through the chat model. A successful
// call leaves a provisional turn persisted in the conversation store; the
// caller rolls it back if the image stage fails.
type TextGenerator struct {
	orch    *Orchestrator
	backend providers.TextBackend
	store   ConversationStore
	cfg     *config.Config
	logger  zerolog.Logger
}

// NewTextGenerator wires the metadata generation service.
func NewTextGenerator(orch *Orchestrator, backend providers.TextBackend, store ConversationStore, cfg *config.Config, logger zerolog.Logger) *TextGenerator {
	return &TextGenerator{
		orch:    orch,
		backend: backend,
		store:   store,
		cfg:     cfg,
		logger:  logger.With().Str("component", "text-generator").Logger(),
	}
}

// Generate runs one metadata generation cycle against the chat transcript.
// It returns the result, the updated durable transcript, and a failure
// reason. The returned transcript always matches what the conversation
// store holds: on any failure after the provisional turn was persisted,
// both the row and the in-memory pair are rolled back together.
func (g *TextGenerator) Generate(ctx context.Context, chatID string, chatHistory []models.Turn) (*MetadataResult, []models.Turn, FailureReason) {
	g.logger.Info().Msg("generating metadata")

	systemPrompt, err := LoadPrompt(g.cfg, g.logger)
	if err != nil {
		g.logger.Error().Err(err).Msg("cannot load system prompt")
		return nil, chatHistory, ReasonPromptUnavailable
	}

	// Working transcript for this cycle, bounded by the history budget.
	// The budget halves on every token-limit rejection.
	effectiveMax := g.cfg.MaxHistoryMessages
	working := cloneTurns(history.Trim(chatHistory, systemPrompt,
		effectiveMax, g.cfg.MaxTokensLimit, g.cfg.EnableHistoryTrimming))

	userMessage := continuationMessage
	if len(working) == 0 {
		g.logger.Info().Msg("first generation, sending full prompt")
		userMessage = systemPrompt
	}

	op := operation{
		model:   g.cfg.TextModel,
		purpose: "text",
		invoke: func(ctx context.Context, secret string) (string, error) {
			transcript := append(cloneTurns(working), models.Turn{
				Role:    models.RoleUser,
				Content: userMessage,
			})
			return g.backend.Complete(ctx, secret, g.cfg.TextModel, transcript)
		},
		onTokenLimit: func() {
			effectiveMax /= 2
			// The truncation is permanent: the caller's transcript shrinks
			// too, so later cycles start from the smaller window.
			chatHistory = cloneTurns(history.Trim(chatHistory, systemPrompt,
				effectiveMax, g.cfg.MaxTokensLimit, true))
			working = cloneTurns(chatHistory)
			g.logger.Warn().
				Int("max_messages", effectiveMax).
				Int("retained", len(working)).
				Msg("emergency history trim")
		},
	}

	content, credentialID, secret, reason := g.orch.execute(ctx, op)
	if reason != ReasonNone {
		return nil, chatHistory, reason
	}
	consumer := g.orch.Leases().Consumer(op.purpose)

	// Commit the turn to the durable transcript before persisting it, so
	// rollback lengths line up with what the store holds.
	chatHistory = append(chatHistory,
		models.Turn{Role: models.RoleUser, Content: userMessage},
		models.Turn{Role: models.RoleAssistant, Content: content},
	)

	messageID, err := g.store.SaveMessage(ctx, chatID, userMessage, content, secret)
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to persist turn")
		chatHistory = chatHistory[:len(chatHistory)-2]
		g.orch.Leases().LogUsage(ctx, credentialID, consumer, g.cfg.TextModel, false, err.Error())
		g.orch.Leases().Release(ctx, secret)
		return nil, chatHistory, ReasonPersistenceFailure
	}

	meta, err := ExtractMetadata(content)
	if err != nil {
		// The turn must not outlive the artifact it was meant to produce.
		g.logger.Warn().Str("message_id", messageID).Msg("extraction failed, rolling back turn")
		if _, delErr := g.store.DeleteMessage(ctx, messageID); delErr != nil {
			g.logger.Error().Err(delErr).Str("message_id", messageID).Msg("rollback delete failed")
		}
		chatHistory = chatHistory[:len(chatHistory)-2]
		g.orch.Leases().LogUsage(ctx, credentialID, consumer, g.cfg.TextModel, false, "Extraction failed")
		g.orch.Leases().Release(ctx, secret)
		return nil, chatHistory, ReasonExtractionFailure
	}

	g.orch.Leases().LogUsage(ctx, credentialID, consumer, g.cfg.TextModel, true, "")
	g.orch.Leases().Release(ctx, secret)

	g.logger.Info().
		Str("title", meta.Title).
		Str("category", meta.Category).
		Strs("keywords", meta.Keywords).
		Msg("metadata generated")

	return &MetadataResult{
		Metadata:  meta,
		MessageID: messageID,
		APIKey:    secret,
	}, chatHistory, ReasonNone
}

func cloneTurns(turns []models.Turn) []models.Turn {
	return append([]models.Turn(nil), turns...)
}
