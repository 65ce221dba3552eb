package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coachrelay/internal/metrics"
	"coachrelay/pkg/interfaces"
	"coachrelay/pkg/types"
)

const (
	// DefaultTTL is the lifetime of a session from creation
	DefaultTTL = time.Hour

	// FUNCTIONAL DISCOVERY: With 10^6 PINs a handful of retries is plenty even
	// with thousands of live sessions
	maxPinAttempts = 32
)

var pinSpace = big.NewInt(1_000_000)

// Option customizes a Manager.
type Option func(*Manager)

// WithClock injects the time source used for creation and expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTTL sets the session lifetime. Zero is allowed.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithPinSource replaces the crypto/rand PIN generator.
func WithPinSource(next func() (string, error)) Option {
	return func(m *Manager) { m.nextPin = next }
}

// Manager is the session registry. It owns the live session records and
// mirrors them to an optional SessionStore.
// ARCHITECTURAL DISCOVERY: PIN uniqueness is a property of the whole registry,
// so one RWMutex guards both maps and the check-and-reserve is one critical section
type Manager struct {
	store    interfaces.SessionStore
	sessions map[string]*types.Session // sessionID -> Session
	pins     map[string]string         // pin -> sessionID
	mu       sync.RWMutex

	ttl     time.Duration
	now     func() time.Time
	nextPin func() (string, error)
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewManager creates a session registry. store may be nil.
func NewManager(store interfaces.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		sessions: make(map[string]*types.Session),
		pins:     make(map[string]string),
		ttl:      DefaultTTL,
		now:      time.Now,
		nextPin:  randomPin,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession registers a new session with a fresh id and a PIN unique among
// unexpired sessions, then persists it.
func (m *Manager) CreateSession(ctx context.Context, ownerName string) (*types.Session, error) {
	name, err := types.NormalizeOwnerName(ownerName)
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := &types.Session{
		ID:        uuid.New().String(),
		OwnerName: name,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.reserve(session); err != nil {
		return nil, err
	}

	if m.store != nil {
		if err := m.store.CreateSession(ctx, session); err != nil {
			m.mu.Lock()
			m.removeLocked(session.ID)
			m.mu.Unlock()
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	}

	m.metrics.SessionCreated()
	m.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"owner":      session.OwnerName,
		"expires_at": session.ExpiresAt,
	}).Info("session created")

	out := *session
	return &out, nil
}

// reserve picks a PIN and inserts the session atomically.
func (m *Manager) reserve(session *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; attempt < maxPinAttempts; attempt++ {
		pin, err := m.nextPin()
		if err != nil {
			return fmt.Errorf("failed to generate pin: %w", err)
		}
		if err := m.claimLocked(pin, session.CreatedAt); err != nil {
			continue
		}
		session.PIN = pin
		m.sessions[session.ID] = session
		m.pins[pin] = session.ID
		return nil
	}
	return ErrPinExhausted
}

// claimLocked reports errPinCollision when pin belongs to an unexpired session.
// A PIN held by an expired but unswept session is free for reuse.
func (m *Manager) claimLocked(pin string, now time.Time) error {
	holder, ok := m.pins[pin]
	if !ok {
		return nil
	}
	if s, ok := m.sessions[holder]; ok && !s.IsExpired(now) {
		return errPinCollision
	}
	return nil
}

// JoinByPin resolves a PIN to its session. An expired session that has not
// been swept yet reports ErrSessionExpired rather than ErrSessionNotFound.
func (m *Manager) JoinByPin(ctx context.Context, pin string) (*types.Session, error) {
	if !types.IsValidPIN(pin) {
		return nil, ErrSessionNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pins[pin]
	if !ok {
		return nil, ErrSessionNotFound
	}
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired(m.now()) {
		return nil, ErrSessionExpired
	}
	out := *session
	return &out, nil
}

// Touch marks the session active and bumps UpdatedAt.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	session.Active = true
	session.UpdatedAt = m.now()
	snapshot := *session
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.UpdateSession(ctx, &snapshot); err != nil {
			m.logger.WithError(err).WithField("session_id", sessionID).Warn("failed to persist session touch")
		}
	}
	return nil
}

// GetSession returns a copy of the session record.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := *session
	return &out, nil
}

// Exists reports whether the registry still holds the session.
func (m *Manager) Exists(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// ListRecent returns unexpired sessions newest first. limit <= 0 returns all.
func (m *Manager) ListRecent(limit int) []*types.Session {
	now := m.now()

	m.mu.RLock()
	sessions := make([]*types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.IsExpired(now) {
			continue
		}
		out := *s
		sessions = append(sessions, &out)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions
}

// Expired lists the ids of sessions whose ExpiresAt is before now.
func (m *Manager) Expired(now time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, s := range m.sessions {
		if s.IsExpired(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Remove deletes the session and reports whether it was present.
func (m *Manager) Remove(ctx context.Context, sessionID string) bool {
	if !m.Evict(sessionID) {
		return false
	}
	m.Purge(ctx, sessionID)
	return true
}

// Evict drops the in-memory record only and reports whether it was present.
// The store is not touched.
func (m *Manager) Evict(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(sessionID)
}

// Purge deletes the stored copy of an evicted session. Failures are logged.
func (m *Manager) Purge(ctx context.Context, sessionID string) {
	if m.store == nil {
		return
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		m.logger.WithError(err).WithField("session_id", sessionID).Warn("failed to delete stored session")
	}
}

// Expire removes every session that expired before now and returns their ids.
// Live relay and cache state is not touched; the sweeper pairs Expired with
// Remove to tear that down atomically.
func (m *Manager) Expire(now time.Time) []string {
	ids := m.Expired(now)
	removed := ids[:0]
	for _, id := range ids {
		if m.Remove(context.Background(), id) {
			removed = append(removed, id)
		}
	}
	return removed
}

func (m *Manager) removeLocked(sessionID string) bool {
	session, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	delete(m.sessions, sessionID)
	// The PIN may already belong to a newer session.
	if m.pins[session.PIN] == sessionID {
		delete(m.pins, session.PIN)
	}
	return true
}

// GetStats returns session registry statistics
func (m *Manager) GetStats() map[string]interface{} {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	live := 0
	for _, s := range m.sessions {
		if !s.IsExpired(now) {
			live++
		}
	}
	return map[string]interface{}{
		"sessions":      len(m.sessions),
		"live_sessions": live,
		"reserved_pins": len(m.pins),
	}
}

func randomPin() (string, error) {
	n, err := rand.Int(rand.Reader, pinSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", types.PINLength, n.Int64()), nil
}
