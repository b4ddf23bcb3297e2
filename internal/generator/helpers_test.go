package generator_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stockgen-ai/generator/internal/generator"
	"github.com/stockgen-ai/generator/internal/keypool"
	"github.com/stockgen-ai/generator/internal/providers"
	"github.com/stockgen-ai/generator/internal/shared/config"
	"github.com/stockgen-ai/generator/internal/shared/models"
)

const testPrompt = "Invent one new stock photo concept per answer, using the markers."

func backendErr(status int, msg string) error {
	return &providers.Error{StatusCode: status, Message: msg}
}

// memPool is an in-memory credential pool honoring the store's atomicity
// contract.
type memPool struct {
	mu    sync.Mutex
	creds map[string]*models.Credential
	logs  []models.UsageLogEntry
}

func newMemPool(creds ...*models.Credential) *memPool {
	p := &memPool{creds: make(map[string]*models.Credential)}
	for _, c := range creds {
		p.creds[c.ID] = c
	}
	return p
}

func poolCred(id, secret, rawModel string) *models.Credential {
	return &models.Credential{
		ID:         id,
		Secret:     secret,
		ModelScope: keypool.SanitizeScope(rawModel),
		Status:     models.CredentialAvailable,
	}
}

func (p *memPool) LeaseOne(ctx context.Context, modelScope, consumer string) (*models.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.creds))
	for id := range p.creds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c := p.creds[id]
		if c.Status == models.CredentialAvailable && c.ModelScope == modelScope {
			now := time.Now()
			c.Status = models.CredentialLeased
			c.LeasedBy = &consumer
			c.LeasedAt = &now
			copied := *c
			return &copied, nil
		}
	}
	return nil, keypool.ErrNoCredential
}

func (p *memPool) Release(ctx context.Context, credentialID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[credentialID]
	if !ok || c.Status != models.CredentialLeased {
		return false, nil
	}
	c.Status = models.CredentialAvailable
	c.LeasedBy = nil
	c.LeasedAt = nil
	return true, nil
}

func (p *memPool) MarkExpired(ctx context.Context, credentialID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[credentialID]
	if !ok || c.Status == models.CredentialExpired {
		return false, nil
	}
	c.Status = models.CredentialExpired
	c.LeasedBy = nil
	c.LeasedAt = nil
	return true, nil
}

func (p *memPool) LogUsage(ctx context.Context, entry *models.UsageLogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs = append(p.logs, *entry)
	return nil
}

func (p *memPool) status(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds[id].Status
}

// memConvStore is an in-memory ConversationStore.
type memConvStore struct {
	mu       sync.Mutex
	chats    map[string]*models.Chat
	messages []*models.ChatMessage
	images   []*models.GeneratedImage

	failSaveImage bool
}

func newMemConvStore() *memConvStore {
	return &memConvStore{chats: make(map[string]*models.Chat)}
}

func (s *memConvStore) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return chat, nil
}

func (s *memConvStore) CreateChat(ctx context.Context, title, promptFile string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := &models.Chat{ID: uuid.NewString(), Title: title, PromptFile: promptFile}
	s.chats[chat.ID] = chat
	return chat, nil
}

func (s *memConvStore) TouchChat(ctx context.Context, chatID string) error { return nil }

func (s *memConvStore) LoadChatHistory(ctx context.Context, chatID string, limit int) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []*models.ChatMessage
	for _, msg := range s.messages {
		if msg.ChatID == chatID {
			rows = append(rows, msg)
		}
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	var history []models.Turn
	for _, msg := range rows {
		history = append(history,
			models.Turn{Role: models.RoleUser, Content: msg.Message},
			models.Turn{Role: models.RoleAssistant, Content: msg.Response},
		)
	}
	return history, nil
}

func (s *memConvStore) SaveMessage(ctx context.Context, chatID, message, response, apiKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &models.ChatMessage{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		Message:  message,
		Response: response,
		APIKey:   apiKey,
	}
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

func (s *memConvStore) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.messages {
		if msg.ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memConvStore) SaveImage(ctx context.Context, img *models.GeneratedImage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveImage {
		return "", fmt.Errorf("image store unavailable")
	}
	img.ID = uuid.NewString()
	s.images = append(s.images, img)
	return img.ID, nil
}

func (s *memConvStore) hasMessage(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == messageID {
			return true
		}
	}
	return false
}

func (s *memConvStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memConvStore) onlyChat(t *testing.T) *models.Chat {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chats) != 1 {
		t.Fatalf("expected exactly one chat, have %d", len(s.chats))
	}
	for _, chat := range s.chats {
		return chat
	}
	return nil
}

// textReply scripts one backend answer.
type textReply struct {
	content string
	err     error
}

// scriptedTextBackend replays scripted replies and records every transcript
// it was called with.
type scriptedTextBackend struct {
	mu          sync.Mutex
	script      []textReply
	transcripts [][]models.Turn
}

func (b *scriptedTextBackend) Complete(ctx context.Context, secret, model string, transcript []models.Turn) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transcripts = append(b.transcripts, append([]models.Turn(nil), transcript...))
	idx := len(b.transcripts) - 1
	if idx >= len(b.script) {
		idx = len(b.script) - 1
	}
	return b.script[idx].content, b.script[idx].err
}

func (b *scriptedTextBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transcripts)
}

// imageReply scripts one image backend answer.
type imageReply struct {
	url string
	err error
}

type scriptedImageBackend struct {
	mu     sync.Mutex
	script []imageReply
	count  int
}

func (b *scriptedImageBackend) Generate(ctx context.Context, secret, model, prompt string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.count
	b.count++
	if idx >= len(b.script) {
		idx = len(b.script) - 1
	}
	return b.script[idx].url, b.script[idx].err
}

func (b *scriptedImageBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prompt.txt"), []byte(testPrompt), 0o644); err != nil {
		t.Fatal(err)
	}

	return &config.Config{
		GeneratorName:           "test-generator",
		PromptFileName:          "prompt.txt",
		PromptsDir:              dir,
		TextModel:               config.DefaultTextModel,
		ImageModel:              config.DefaultImageModel,
		EnableHistoryTrimming:   true,
		MaxHistoryMessages:      20,
		MaxTokensLimit:          260000,
		DelayBetweenGenerations: 0,
	}
}

// harness wires a full generation stack over in-memory stores.
type harness struct {
	cfg     *config.Config
	pool    *memPool
	conv    *memConvStore
	leases  *keypool.Manager
	text    *generator.TextGenerator
	image   *generator.ImageGenerator
	runner  *generator.Runner
	textAPI *scriptedTextBackend
	imgAPI  *scriptedImageBackend
}

func newHarness(t *testing.T, pool *memPool, textAPI *scriptedTextBackend, imgAPI *scriptedImageBackend) *harness {
	t.Helper()

	cfg := testConfig(t)
	conv := newMemConvStore()
	leases := keypool.NewManager(pool, nil, cfg.GeneratorName, zerolog.Nop())
	orch := generator.NewOrchestrator(leases, zerolog.Nop())
	text := generator.NewTextGenerator(orch, textAPI, conv, cfg, zerolog.Nop())
	image := generator.NewImageGenerator(orch, imgAPI, cfg.ImageModel, zerolog.Nop())
	runner := generator.NewRunner(cfg, conv, leases, text, image, zerolog.Nop())

	return &harness{
		cfg:     cfg,
		pool:    pool,
		conv:    conv,
		leases:  leases,
		text:    text,
		image:   image,
		runner:  runner,
		textAPI: textAPI,
		imgAPI:  imgAPI,
	}
}

// seedTurns builds n transcript entries alternating user/assistant.
func seedTurns(n int) []models.Turn {
	turns := make([]models.Turn, n)
	for i := range turns {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		turns[i] = models.Turn{Role: role, Content: fmt.Sprintf("turn %d", i)}
	}
	return turns
}
