package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/stockgen-ai/generator/internal/shared/models"
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the underlying handle for stores that share the connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// GetChat retrieves a chat by id. Returns sql.ErrNoRows if absent.
func (db *DB) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	query := `
		SELECT id, title, prompt_file, created_at, updated_at
		FROM chats
		WHERE id = $1
	`

	var chat models.Chat
	err := db.conn.QueryRowContext(ctx, query, chatID).Scan(
		&chat.ID,
		&chat.Title,
		&chat.PromptFile,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// CreateChat inserts a new chat session and returns it.
func (db *DB) CreateChat(ctx context.Context, title, promptFile string) (*models.Chat, error) {
	now := time.Now().UTC()
	chat := &models.Chat{
		ID:         uuid.NewString(),
		Title:      title,
		PromptFile: promptFile,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	query := `
		INSERT INTO chats (id, title, prompt_file, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := db.conn.ExecContext(ctx, query,
		chat.ID, chat.Title, chat.PromptFile, chat.CreatedAt, chat.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

// TouchChat bumps a chat's updated_at timestamp.
func (db *DB) TouchChat(ctx context.Context, chatID string) error {
	query := `UPDATE chats SET updated_at = NOW() WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, chatID)
	return err
}

// LoadChatHistory loads the most recent messages of a chat in chronological
// order and flattens them into user/assistant transcript turns. A limit of
// zero loads everything.
func (db *DB) LoadChatHistory(ctx context.Context, chatID string, limit int) ([]models.Turn, error) {
	query := `
		SELECT message, response FROM (
			SELECT message, response, created_at
			FROM chat_messages
			WHERE chat_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`
	if limit <= 0 {
		query = `
			SELECT message, response
			FROM chat_messages
			WHERE chat_id = $1
			ORDER BY created_at ASC
		`
	}

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.conn.QueryContext(ctx, query, chatID, limit)
	} else {
		rows, err = db.conn.QueryContext(ctx, query, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	defer rows.Close()

	var history []models.Turn
	for rows.Next() {
		var message, response string
		if err := rows.Scan(&message, &response); err != nil {
			return nil, err
		}
		history = append(history,
			models.Turn{Role: models.RoleUser, Content: message},
			models.Turn{Role: models.RoleAssistant, Content: response},
		)
	}
	return history, rows.Err()
}

// CountChatMessages returns the number of persisted turns for a chat.
func (db *DB) CountChatMessages(ctx context.Context, chatID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE chat_id = $1`, chatID).Scan(&count)
	return count, err
}

// SaveMessage persists one conversational turn and bumps the chat's
// updated_at. Returns the new message id.
func (db *DB) SaveMessage(ctx context.Context, chatID, message, response, apiKey string) (string, error) {
	now := time.Now().UTC()
	messageID := uuid.NewString()

	query := `
		INSERT INTO chat_messages (id, chat_id, message, response, api_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := db.conn.ExecContext(ctx, query,
		messageID, chatID, message, response, apiKey, now, now); err != nil {
		return "", fmt.Errorf("failed to save chat message: %w", err)
	}

	if err := db.TouchChat(ctx, chatID); err != nil {
		return messageID, err
	}
	return messageID, nil
}

// GetMessage retrieves one persisted turn by id. Returns sql.ErrNoRows if
// absent (or already rolled back).
func (db *DB) GetMessage(ctx context.Context, messageID string) (*models.ChatMessage, error) {
	query := `
		SELECT id, chat_id, message, response, api_key, created_at, updated_at
		FROM chat_messages
		WHERE id = $1
	`

	var msg models.ChatMessage
	err := db.conn.QueryRowContext(ctx, query, messageID).Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.Message,
		&msg.Response,
		&msg.APIKey,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage removes a persisted turn, used to roll back a provisional
// turn whose image never materialized. Returns true if a row was deleted.
func (db *DB) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE id = $1`, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to delete chat message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SaveImage persists a generated image record.
func (db *DB) SaveImage(ctx context.Context, img *models.GeneratedImage) (string, error) {
	now := time.Now().UTC()
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	img.CreatedAt = now
	img.UpdatedAt = now

	query := `
		INSERT INTO generated_images (
			id, message_id, prompt, title, category, description, keywords,
			image_link, api_key, prompt_file, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if _, err := db.conn.ExecContext(ctx, query,
		img.ID,
		img.MessageID,
		img.Prompt,
		img.Title,
		img.Category,
		img.Description,
		pq.Array(img.Keywords),
		img.ImageLink,
		img.APIKey,
		img.PromptFile,
		img.CreatedAt,
		img.UpdatedAt,
	); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}
	return img.ID, nil
}
