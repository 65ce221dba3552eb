package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"coachrelay/internal/metrics"
)

const DefaultInterval = time.Hour

var (
	ErrAlreadyRunning = errors.New("sweeper is already running")
	ErrNotRunning     = errors.New("sweeper is not running")
)

// Registry is the session side of a sweep.
type Registry interface {
	Expired(now time.Time) []string
	Evict(sessionID string) bool
	Purge(ctx context.Context, sessionID string)
}

// Relay runs fn inside the session's critical section after clearing its
// connection slots.
type Relay interface {
	Teardown(sessionID string, fn func()) int
}

// Sweeper periodically tears down expired sessions.
// ARCHITECTURAL DISCOVERY: Removal of registry, cache and window state happens
// inside the relay's per-session lock, so a reconnect racing the sweep either
// lands before it (and is cleared) or after it (and is refused). The stored
// copy is deleted after the lock is released.
type Sweeper struct {
	registry Registry
	relay    Relay
	cleanups []func(sessionID string)
	interval time.Duration
	now      func() time.Time
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Sweeper)

// WithCleanup registers per-session state to drop once the registry record is
// gone. Cleanups run in registration order.
func WithCleanup(fns ...func(sessionID string)) Option {
	return func(s *Sweeper) { s.cleanups = append(s.cleanups, fns...) }
}

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Sweeper) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func New(registry Registry, relay Relay, opts ...Option) *Sweeper {
	s := &Sweeper{
		registry: registry,
		relay:    relay,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic sweep. It stops when ctx is cancelled or Stop
// is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
	s.logger.WithField("interval", s.interval.String()).Info("session sweeper started")
	return nil
}

// Stop cancels the loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx, s.now())
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce removes every session that expired before now and returns the ids
// actually removed.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) []string {
	var swept []string
	for _, id := range s.registry.Expired(now) {
		removed := false
		cleared := s.relay.Teardown(id, func() {
			if !s.registry.Evict(id) {
				return
			}
			removed = true
			for _, fn := range s.cleanups {
				fn(id)
			}
		})
		if removed {
			s.registry.Purge(ctx, id)
			swept = append(swept, id)
			s.logger.WithFields(logrus.Fields{
				"session_id":          id,
				"connections_cleared": cleared,
			}).Debug("session swept")
		}
	}

	if len(swept) > 0 {
		s.metrics.Swept(len(swept))
		s.logger.WithField("count", len(swept)).Info("cleaned up expired sessions")
	}
	return swept
}
