package keypool

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stockgen-ai/generator/internal/metrics"
	"github.com/stockgen-ai/generator/internal/shared/models"
)

// UsageCounter is the fast-path usage accounting behind the durable ledger.
// Implemented by the Redis client; may be nil when counters are disabled.
type UsageCounter interface {
	IncrUsage(ctx context.Context, credentialID string) (int64, error)
}

// Manager wraps the credential Store for one worker process. It tracks the
// leases this process holds so they can be released in bulk on shutdown.
type Manager struct {
	store         Store
	counters      UsageCounter
	generatorName string
	logger        zerolog.Logger

	mu   sync.Mutex
	held map[string]string // secret -> credential id
}

// NewManager creates a lease manager for one generator identity.
func NewManager(store Store, counters UsageCounter, generatorName string, logger zerolog.Logger) *Manager {
	return &Manager{
		store:         store,
		counters:      counters,
		generatorName: generatorName,
		logger:        logger.With().Str("component", "keypool").Logger(),
		held:          make(map[string]string),
	}
}

var scopeReplacer = strings.NewReplacer("/", "__", "\\", "__", ".", "__")

// SanitizeScope converts a raw model identifier into the scope key used to
// partition the pool: every '/', '\' and '.' becomes "__".
func SanitizeScope(rawModel string) string {
	return scopeReplacer.Replace(rawModel)
}

// GeneratorName returns the consumer identity this manager leases under.
func (m *Manager) GeneratorName() string {
	return m.generatorName
}

// Consumer builds the consumer tag recorded in usage log entries.
func (m *Manager) Consumer(purpose string) string {
	return m.generatorName + " - " + purpose + " generation"
}

// Acquire leases one credential for the raw model identifier. Returns
// ErrNoCredential when the pool has none available for the scope; that is
// immediately fatal for the current attempt and is not retried here.
func (m *Manager) Acquire(ctx context.Context, rawModel, purpose string) (string, string, error) {
	scope := SanitizeScope(rawModel)

	cred, err := m.store.LeaseOne(ctx, scope, m.generatorName)
	if err != nil {
		metrics.LeaseAttempts.WithLabelValues("miss").Inc()
		return "", "", err
	}

	m.mu.Lock()
	m.held[cred.Secret] = cred.ID
	m.mu.Unlock()

	metrics.LeaseAttempts.WithLabelValues("hit").Inc()
	m.logger.Debug().
		Str("credential_id", cred.ID).
		Str("scope", scope).
		Str("purpose", purpose).
		Msg("leased credential")
	return cred.ID, cred.Secret, nil
}

// Release frees the credential behind the given secret. No-op when the
// secret is not tracked by this process.
func (m *Manager) Release(ctx context.Context, secret string) bool {
	m.mu.Lock()
	credentialID, ok := m.held[secret]
	if ok {
		delete(m.held, secret)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	released, err := m.store.Release(ctx, credentialID)
	if err != nil {
		m.logger.Error().Err(err).Str("credential_id", credentialID).Msg("failed to release credential")
		return false
	}
	return released
}

// MarkExpiredAndRelease retires the credential behind the given secret and
// drops its local lease entry. The scope's pool shrinks by one permanently.
func (m *Manager) MarkExpiredAndRelease(ctx context.Context, secret, rawModel string) bool {
	m.mu.Lock()
	credentialID, ok := m.held[secret]
	if ok {
		delete(m.held, secret)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	expired, err := m.store.MarkExpired(ctx, credentialID)
	if err != nil {
		m.logger.Error().Err(err).Str("credential_id", credentialID).Msg("failed to expire credential")
		return false
	}

	m.logger.Warn().
		Str("credential_id", credentialID).
		Str("scope", SanitizeScope(rawModel)).
		Msg("credential marked expired")
	return expired
}

// ReleaseAll frees every lease this process still holds. Run on shutdown to
// bound leak exposure; returns the number released.
func (m *Manager) ReleaseAll(ctx context.Context) int {
	m.mu.Lock()
	leases := make(map[string]string, len(m.held))
	for secret, id := range m.held {
		leases[secret] = id
	}
	m.held = make(map[string]string)
	m.mu.Unlock()

	released := 0
	for _, credentialID := range leases {
		ok, err := m.store.Release(ctx, credentialID)
		if err != nil {
			m.logger.Error().Err(err).Str("credential_id", credentialID).Msg("failed to release credential")
			continue
		}
		if ok {
			released++
		}
	}

	if released > 0 {
		m.logger.Info().Int("count", released).Msg("released held credentials")
	}
	return released
}

// HeldCount reports how many leases this process currently tracks.
func (m *Manager) HeldCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

// LogUsage appends a usage record to the ledger and bumps the credential's
// daily counter. Counter failures are swallowed: accounting must never fail
// a generation.
func (m *Manager) LogUsage(ctx context.Context, credentialID, consumer, rawModel string, success bool, errorDetail string) {
	entry := &models.UsageLogEntry{
		CredentialID: credentialID,
		Consumer:     consumer,
		ModelScope:   SanitizeScope(rawModel),
		Success:      success,
	}
	if errorDetail != "" {
		entry.ErrorDetail = &errorDetail
	}

	if err := m.store.LogUsage(ctx, entry); err != nil {
		metrics.UsageLogFailures.Inc()
		m.logger.Error().Err(err).Str("credential_id", credentialID).Msg("failed to write usage log")
	}

	if m.counters != nil {
		if _, err := m.counters.IncrUsage(ctx, credentialID); err != nil {
			m.logger.Debug().Err(err).Str("credential_id", credentialID).Msg("usage counter unavailable")
		}
	}
}
