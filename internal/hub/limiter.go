package hub

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements per-session question rate limiting
// ARCHITECTURAL DISCOVERY: Per-session state is dropped when the session is
// swept, so the map never outlives the registry
type Limiter struct {
	mu       sync.Mutex
	sessions map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewLimiter allows perMinute questions per session per minute, with bursts up
// to the same number. perMinute <= 0 disables limiting.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		return nil
	}
	return &Limiter{
		sessions: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

// Allow reports whether the session may submit another question now.
func (l *Limiter) Allow(sessionID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.sessions[sessionID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.sessions[sessionID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Forget drops the session's limiter state.
func (l *Limiter) Forget(sessionID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()
}

// Len returns the number of tracked sessions.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
