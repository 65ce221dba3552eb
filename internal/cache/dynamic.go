package cache

import (
	"container/list"
	"sync"
	"time"

	"coachrelay/pkg/types"
)

// DefaultDynamicCapacity bounds learned entries per session.
const DefaultDynamicCapacity = 256

type sessionEntries struct {
	mu    sync.Mutex
	items map[string]*list.Element // question hash -> element holding *types.CacheEntry
	order *list.List               // front is most recently used
}

// Dynamic is the per-session learned tier. Each session has its own lock, so
// check-then-update on an entry is one critical section and unrelated
// sessions never contend.
// ARCHITECTURAL DISCOVERY: The outer map lock is held only to find or create a
// session bucket, never while an entry is touched
type Dynamic struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntries
	capacity int
	now      func() time.Time
}

// NewDynamic creates the dynamic tier. capacity bounds each session with LRU
// eviction by LastUsed; 0 disables the bound.
func NewDynamic(capacity int) *Dynamic {
	if capacity < 0 {
		capacity = 0
	}
	return &Dynamic{
		sessions: make(map[string]*sessionEntries),
		capacity: capacity,
		now:      time.Now,
	}
}

func (d *Dynamic) bucket(sessionID string, create bool) *sessionEntries {
	d.mu.RLock()
	b := d.sessions[sessionID]
	d.mu.RUnlock()
	if b != nil || !create {
		return b
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if b = d.sessions[sessionID]; b == nil {
		b = &sessionEntries{items: make(map[string]*list.Element), order: list.New()}
		d.sessions[sessionID] = b
	}
	return b
}

// Hit looks up an entry and records the use: UsageCount+1, LastUsed=now.
// The returned entry is a copy.
func (d *Dynamic) Hit(sessionID, hash string) (types.CacheEntry, bool) {
	b := d.bucket(sessionID, false)
	if b == nil {
		return types.CacheEntry{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.items[hash]
	if !ok {
		return types.CacheEntry{}, false
	}
	entry := el.Value.(*types.CacheEntry)
	entry.UsageCount++
	entry.LastUsed = d.now()
	b.order.MoveToFront(el)
	return *entry, true
}

// Peek returns a copy of an entry without recording a use.
func (d *Dynamic) Peek(sessionID, hash string) (types.CacheEntry, bool) {
	b := d.bucket(sessionID, false)
	if b == nil {
		return types.CacheEntry{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.items[hash]
	if !ok {
		return types.CacheEntry{}, false
	}
	return *el.Value.(*types.CacheEntry), true
}

// Insert stores entry if its key is absent and reports whether it did. When
// the key already exists the stored entry is returned unchanged.
func (d *Dynamic) Insert(entry types.CacheEntry) (types.CacheEntry, bool) {
	b := d.bucket(entry.SessionID, true)

	b.mu.Lock()
	defer b.mu.Unlock()
	if el, ok := b.items[entry.QuestionHash]; ok {
		return *el.Value.(*types.CacheEntry), false
	}

	stored := entry
	b.items[entry.QuestionHash] = b.order.PushFront(&stored)
	for d.capacity > 0 && b.order.Len() > d.capacity {
		oldest := b.order.Back()
		b.order.Remove(oldest)
		delete(b.items, oldest.Value.(*types.CacheEntry).QuestionHash)
	}
	return stored, true
}

// DropSession removes every entry of the session and returns how many there were.
func (d *Dynamic) DropSession(sessionID string) int {
	d.mu.Lock()
	b := d.sessions[sessionID]
	delete(d.sessions, sessionID)
	d.mu.Unlock()

	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order.Len()
}

// Len returns the number of entries held for a session.
func (d *Dynamic) Len(sessionID string) int {
	b := d.bucket(sessionID, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order.Len()
}

// Sessions returns the number of sessions with at least one bucket.
func (d *Dynamic) Sessions() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}
