// Package conversation keeps the rolling per-session context window that
// feeds fallback prompts.
package conversation

import (
	"strings"
	"sync"
	"time"

	"coachrelay/pkg/types"
)

const (
	DefaultSize       = 6
	DefaultLineBudget = 150
)

// Entry is one remembered exchange.
type Entry struct {
	Kind      types.ExchangeKind
	Text      string
	Timestamp time.Time
}

type window struct {
	mu      sync.Mutex
	entries []Entry
}

// Store holds one bounded window per session. The outer map lock is only held
// to find or create a window; appends lock the window itself.
type Store struct {
	mu         sync.RWMutex
	windows    map[string]*window
	size       int
	lineBudget int
	now        func() time.Time
}

// NewStore creates a store keeping the last size exchanges per session and
// truncating rendered lines to lineBudget runes. Non-positive values use the
// defaults.
func NewStore(size, lineBudget int) *Store {
	if size <= 0 {
		size = DefaultSize
	}
	if lineBudget <= 0 {
		lineBudget = DefaultLineBudget
	}
	return &Store{
		windows:    make(map[string]*window),
		size:       size,
		lineBudget: lineBudget,
		now:        time.Now,
	}
}

func (s *Store) get(sessionID string, create bool) *window {
	s.mu.RLock()
	w := s.windows[sessionID]
	s.mu.RUnlock()
	if w != nil || !create {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w = s.windows[sessionID]; w == nil {
		w = &window{}
		s.windows[sessionID] = w
	}
	return w
}

// Append pushes an exchange and discards the oldest ones beyond the bound.
// Only questions and answers are remembered.
func (s *Store) Append(sessionID string, kind types.ExchangeKind, text string) {
	if kind != types.KindQuestion && kind != types.KindAnswer {
		return
	}
	w := s.get(sessionID, true)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, Entry{Kind: kind, Text: text, Timestamp: s.now()})
	if over := len(w.entries) - s.size; over > 0 {
		w.entries = append(w.entries[:0:0], w.entries[over:]...)
	}
}

// Snapshot returns a copy of the window, oldest first.
func (s *Store) Snapshot(sessionID string) []Entry {
	w := s.get(sessionID, false)
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Render formats the window as Q:/A: lines. An empty window renders to "".
func (s *Store) Render(sessionID string) string {
	entries := s.Snapshot(sessionID)
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		if e.Kind == types.KindQuestion {
			b.WriteString("Q: ")
		} else {
			b.WriteString("A: ")
		}
		b.WriteString(clip(e.Text, s.lineBudget))
	}
	return b.String()
}

// Drop forgets the session's window.
func (s *Store) Drop(sessionID string) {
	s.mu.Lock()
	delete(s.windows, sessionID)
	s.mu.Unlock()
}

// Len reports the number of sessions with a window.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
