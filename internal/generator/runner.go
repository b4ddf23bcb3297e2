package generator

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stockgen-ai/generator/internal/keypool"
	"github.com/stockgen-ai/generator/internal/metrics"
	"github.com/stockgen-ai/generator/internal/shared/config"
	"github.com/stockgen-ai/generator/internal/shared/models"
)

// Runner owns the unattended generation loop for one worker process: load
// the chat, then cycle metadata -> image -> artifact persistence forever,
// sleeping between cycles and never dying on a single failed generation.
type Runner struct {
	cfg    *config.Config
	store  ConversationStore
	leases *keypool.Manager
	text   *TextGenerator
	image  *ImageGenerator
	logger zerolog.Logger

	chatID    string
	chatTitle string
	history   []models.Turn
	generated int
	failed    int
}

// NewRunner wires the generation loop.
func NewRunner(cfg *config.Config, store ConversationStore, leases *keypool.Manager, text *TextGenerator, image *ImageGenerator, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		store:  store,
		leases: leases,
		text:   text,
		image:  image,
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// Bootstrap resolves the chat session and loads its transcript.
func (r *Runner) Bootstrap(ctx context.Context) error {
	chat, err := r.resolveChat(ctx)
	if err != nil {
		return err
	}
	r.chatID = chat.ID
	r.chatTitle = chat.Title

	limit := 0
	if r.cfg.EnableHistoryTrimming {
		limit = r.cfg.MaxHistoryMessages + 20
	}
	r.history, err = r.store.LoadChatHistory(ctx, r.chatID, limit)
	if err != nil {
		return err
	}

	r.logger.Info().
		Str("generator", r.cfg.GeneratorName).
		Str("chat_id", r.chatID).
		Str("chat_title", r.chatTitle).
		Str("prompt_file", r.cfg.PromptFilePath()).
		Int("history_turns", len(r.history)).
		Bool("history_trimming", r.cfg.EnableHistoryTrimming).
		Msg("generation loop ready")
	return nil
}

// resolveChat reuses the configured chat when it exists, otherwise creates
// a fresh one titled after the prompt file.
func (r *Runner) resolveChat(ctx context.Context) (*models.Chat, error) {
	if r.cfg.ChatID != "" {
		chat, err := r.store.GetChat(ctx, r.cfg.ChatID)
		if err == nil {
			r.logger.Info().Str("chat_id", chat.ID).Str("title", chat.Title).Msg("found existing chat")
			_ = r.store.TouchChat(ctx, chat.ID)
			return chat, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		r.logger.Warn().Str("chat_id", r.cfg.ChatID).Msg("configured chat not found, creating new one")
	}

	title := r.cfg.ChatTitle
	if title == "" {
		base := strings.TrimSuffix(r.cfg.PromptFileName, filepath.Ext(r.cfg.PromptFileName))
		title = "Chat - " + base
	}

	chat, err := r.store.CreateChat(ctx, title, r.cfg.PromptFileName)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Str("chat_id", chat.ID).Str("title", chat.Title).Msg("created new chat")
	return chat, nil
}

// Run cycles generations until the context is cancelled. Every cycle
// outcome is absorbed; only cancellation ends the loop.
func (r *Runner) Run(ctx context.Context) {
	delay := time.Duration(r.cfg.DelayBetweenGenerations) * time.Second
	cycle := 0

	for {
		select {
		case <-ctx.Done():
			r.summarize()
			return
		default:
		}

		cycle++
		r.logger.Info().Int("cycle", cycle).Msg("starting generation cycle")

		artifact, reason := r.GenerateOne(ctx)
		if reason == ReasonNone {
			r.generated++
			metrics.Generations.WithLabelValues("success").Inc()
			r.logger.Info().Int("cycle", cycle).Str("title", artifact.Title).Msg("generation complete")
		} else {
			r.failed++
			metrics.Generations.WithLabelValues(string(reason)).Inc()
			r.logger.Warn().Int("cycle", cycle).Str("reason", string(reason)).Msg("generation failed, continuing")
		}

		select {
		case <-ctx.Done():
			r.summarize()
			return
		case <-time.After(delay):
		}
	}
}

// GenerateOne runs one full two-phase cycle: metadata first (persisting a
// provisional turn), then the image. If the image stage or artifact
// persistence fails, the provisional turn is rolled back so the stored
// transcript never references an artifact that does not exist.
func (r *Runner) GenerateOne(ctx context.Context) (*models.GeneratedImage, FailureReason) {
	result, updated, reason := r.text.Generate(ctx, r.chatID, r.history)
	r.history = updated
	if reason != ReasonNone {
		return nil, reason
	}

	imageLink, imageKey, reason := r.image.Generate(ctx, result.Metadata.Prompt)
	if reason != ReasonNone {
		r.rollbackTurn(ctx, result.MessageID)
		return nil, reason
	}

	artifact := &models.GeneratedImage{
		MessageID:   result.MessageID,
		Prompt:      result.Metadata.Prompt,
		Title:       result.Metadata.Title,
		Category:    result.Metadata.Category,
		Description: result.Metadata.Description,
		Keywords:    result.Metadata.Keywords,
		ImageLink:   imageLink,
		APIKey:      imageKey,
		PromptFile:  r.cfg.PromptFileName,
	}
	if _, err := r.store.SaveImage(ctx, artifact); err != nil {
		r.logger.Error().Err(err).Msg("failed to persist artifact")
		r.rollbackTurn(ctx, result.MessageID)
		return nil, ReasonPersistenceFailure
	}

	return artifact, ReasonNone
}

// rollbackTurn deletes the provisional turn and drops the matching
// user+assistant pair from memory, so the next cycle's transcript matches
// exactly what is durably stored.
func (r *Runner) rollbackTurn(ctx context.Context, messageID string) {
	deleted, err := r.store.DeleteMessage(ctx, messageID)
	if err != nil {
		r.logger.Error().Err(err).Str("message_id", messageID).Msg("rollback delete failed")
	} else if deleted {
		r.logger.Info().Str("message_id", messageID).Msg("rolled back orphaned turn")
	}
	if len(r.history) >= 2 {
		r.history = r.history[:len(r.history)-2]
	}
}

// History exposes the in-memory transcript, mainly for tests and the
// shutdown summary.
func (r *Runner) History() []models.Turn {
	return r.history
}

func (r *Runner) summarize() {
	r.logger.Info().
		Str("chat_id", r.chatID).
		Int("successful", r.generated).
		Int("failed", r.failed).
		Int("history_turns", len(r.history)).
		Int("held_leases", r.leases.HeldCount()).
		Msg("generation loop stopped")
}
