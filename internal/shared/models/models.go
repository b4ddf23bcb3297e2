package models

import "time"

// Credential status values as stored in the credential pool.
const (
	CredentialAvailable = "available"
	CredentialLeased    = "leased"
	CredentialExpired   = "expired"
)

// Credential represents one pooled access token for a model scope.
// A leased credential always carries the consumer tag that holds it;
// an expired credential is terminal and never leased again.
type Credential struct {
	ID         string
	Secret     string
	ModelScope string
	Status     string
	LeasedBy   *string
	LeasedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UsageLogEntry is one append-only credential usage record.
type UsageLogEntry struct {
	ID           string
	CredentialID string
	Consumer     string
	ModelScope   string
	Success      bool
	ErrorDetail  *string
	CreatedAt    time.Time
}

// Chat represents a generation chat session.
type Chat struct {
	ID         string
	Title      string
	PromptFile string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ChatMessage is one persisted conversational turn: the user content sent
// to the model and the assistant content it returned.
type ChatMessage struct {
	ID        string
	ChatID    string
	Message   string
	Response  string
	APIKey    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GeneratedImage is the artifact record produced by a successful cycle.
// MessageID points back to the chat message whose response carried the
// image prompt.
type GeneratedImage struct {
	ID          string
	MessageID   string
	Prompt      string
	Title       string
	Category    string
	Description string
	Keywords    []string
	ImageLink   string
	APIKey      string
	PromptFile  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Turn is one in-memory transcript entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ImageMetadata holds the structured fields extracted from a model response.
// Prompt and Title are required; the rest may be empty.
type ImageMetadata struct {
	Prompt      string
	Title       string
	Category    string
	Description string
	Keywords    []string
}
