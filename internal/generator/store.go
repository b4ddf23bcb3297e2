package generator

import (
	"context"

	"github.com/stockgen-ai/generator/internal/shared/models"
)

// ConversationStore is the slice of the document store the generation loop
// needs: chat bootstrap, turn persistence with rollback, and artifact
// writes. Implemented by the shared database package.
type ConversationStore interface {
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	CreateChat(ctx context.Context, title, promptFile string) (*models.Chat, error)
	TouchChat(ctx context.Context, chatID string) error
	LoadChatHistory(ctx context.Context, chatID string, limit int) ([]models.Turn, error)
	SaveMessage(ctx context.Context, chatID, message, response, apiKey string) (string, error)
	DeleteMessage(ctx context.Context, messageID string) (bool, error)
	SaveImage(ctx context.Context, img *models.GeneratedImage) (string, error)
}
