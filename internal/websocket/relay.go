package websocket

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"coachrelay/internal/metrics"
	"coachrelay/pkg/interfaces"
	"coachrelay/pkg/protocol"
	"coachrelay/pkg/types"
)

// lockShards is the number of independent session partitions.
const lockShards = 64

// SessionLookup is the part of the session registry the relay depends on.
type SessionLookup interface {
	Exists(sessionID string) bool
	Touch(ctx context.Context, sessionID string) error
}

// slot holds at most one live channel per role.
type slot struct {
	desktop interfaces.Channel
	mobile  interfaces.Channel
}

func (s *slot) get(role types.Role) interfaces.Channel {
	if role == types.RoleDesktop {
		return s.desktop
	}
	return s.mobile
}

func (s *slot) set(role types.Role, ch interfaces.Channel) {
	if role == types.RoleDesktop {
		s.desktop = ch
	} else {
		s.mobile = ch
	}
}

func (s *slot) empty() bool {
	return s.desktop == nil && s.mobile == nil
}

type shard struct {
	mu    sync.Mutex
	slots map[string]*slot // sessionID -> slot
}

// Relay pairs the desktop and mobile channels of each session and forwards
// traffic point-to-point between them.
// ARCHITECTURAL DISCOVERY: Sessions are partitioned over fixed lock shards so
// attach/detach/teardown of one session are serialized without a global lock.
// Lock order is relay shard -> session registry; the registry never calls back.
// Sends always happen after the shard lock is released so a slow peer cannot
// stall the partition.
type Relay struct {
	sessions SessionLookup
	shards   [lockShards]shard
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
}

// NewRelay creates a relay backed by the given session registry.
func NewRelay(sessions SessionLookup, logger logrus.FieldLogger, m *metrics.Metrics) *Relay {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Relay{sessions: sessions, logger: logger, metrics: m}
	for i := range r.shards {
		r.shards[i].slots = make(map[string]*slot)
	}
	return r
}

func (r *Relay) shard(sessionID string) *shard {
	return &r.shards[xxhash.Sum64String(sessionID)%lockShards]
}

// Attach installs ch as the live channel for role, silently replacing any
// previous one. When the peer is already attached both sides are told the
// other is present.
func (r *Relay) Attach(sessionID string, role types.Role, ch interfaces.Channel) error {
	return r.AttachWithGreeting(sessionID, role, ch, nil)
}

// AttachWithGreeting is Attach with a text frame written to ch ahead of any
// presence notice. An empty greeting is skipped.
func (r *Relay) AttachWithGreeting(sessionID string, role types.Role, ch interfaces.Channel, greeting []byte) error {
	if ch == nil {
		return ErrNilChannel
	}

	sh := r.shard(sessionID)
	sh.mu.Lock()
	if !r.sessions.Exists(sessionID) {
		sh.mu.Unlock()
		return ErrSessionNotFound
	}
	s := sh.slots[sessionID]
	if s == nil {
		s = &slot{}
		sh.slots[sessionID] = s
	}
	s.set(role, ch)
	peer := s.get(role.Peer())
	sh.mu.Unlock()

	if err := r.sessions.Touch(context.Background(), sessionID); err != nil {
		r.logger.WithError(err).WithField("session_id", sessionID).Debug("touch after attach failed")
	}

	r.logger.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"role":        role,
		"peer_online": peer != nil,
	}).Info("channel attached")

	if len(greeting) > 0 {
		if err := ch.WriteText(greeting); err != nil {
			r.sendFailed(sessionID, "greeting", err)
		}
	}
	if peer != nil {
		r.deliverJSON(sessionID, peer, protocol.NewPeerConnected(role), protocol.TagPeerConnected)
		r.deliverJSON(sessionID, ch, protocol.NewPeerConnected(role.Peer()), protocol.TagPeerConnected)
	}
	return nil
}

// Detach clears the role only if ch is still the attached channel, so a stale
// detach racing a newer attach is a no-op. The peer is notified only when a
// removal happened.
func (r *Relay) Detach(sessionID string, role types.Role, ch interfaces.Channel) bool {
	sh := r.shard(sessionID)
	sh.mu.Lock()
	s := sh.slots[sessionID]
	if s == nil || s.get(role) != ch {
		sh.mu.Unlock()
		return false
	}
	s.set(role, nil)
	peer := s.get(role.Peer())
	if s.empty() {
		delete(sh.slots, sessionID)
	}
	sh.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"role":       role,
	}).Info("channel detached")

	if peer != nil {
		r.deliverJSON(sessionID, peer, protocol.NewPeerDisconnected(role), protocol.TagPeerDisconnected)
	}
	return true
}

// Relay forwards payload verbatim to the opposite role. A missing peer drops
// the payload; send failures are logged and swallowed.
func (r *Relay) Relay(sessionID string, from types.Role, payload []byte) bool {
	peer := r.channel(sessionID, from.Peer())
	if peer == nil {
		return false
	}
	if err := peer.WriteText(payload); err != nil {
		r.sendFailed(sessionID, "raw", err)
		return false
	}
	r.metrics.RelayDelivered("raw")
	return true
}

// Send delivers a typed envelope to one role of the session with the same
// swallow-and-log discipline as Relay.
func (r *Relay) Send(sessionID string, to types.Role, envelope interface{}, kind string) bool {
	ch := r.channel(sessionID, to)
	if ch == nil {
		return false
	}
	return r.deliverJSON(sessionID, ch, envelope, kind)
}

// Teardown clears both roles without notifying anyone and runs fn inside the
// same critical section, so no Attach or Relay on this session can interleave
// with the removal of its registry, cache and window state.
func (r *Relay) Teardown(sessionID string, fn func()) int {
	sh := r.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cleared := 0
	if s := sh.slots[sessionID]; s != nil {
		if s.desktop != nil {
			cleared++
		}
		if s.mobile != nil {
			cleared++
		}
		delete(sh.slots, sessionID)
	}
	if fn != nil {
		fn()
	}
	return cleared
}

// Peers reports which roles currently hold a live channel.
func (r *Relay) Peers(sessionID string) (desktop, mobile bool) {
	sh := r.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s := sh.slots[sessionID]; s != nil {
		return s.desktop != nil, s.mobile != nil
	}
	return false, false
}

// GetStats returns relay statistics for monitoring and debugging
func (r *Relay) GetStats() map[string]int {
	sessions, connections := 0, 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		sessions += len(sh.slots)
		for _, s := range sh.slots {
			if s.desktop != nil {
				connections++
			}
			if s.mobile != nil {
				connections++
			}
		}
		sh.mu.Unlock()
	}
	return map[string]int{
		"active_sessions":   sessions,
		"total_connections": connections,
	}
}

func (r *Relay) channel(sessionID string, role types.Role) interfaces.Channel {
	sh := r.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s := sh.slots[sessionID]; s != nil {
		return s.get(role)
	}
	return nil
}

func (r *Relay) deliverJSON(sessionID string, ch interfaces.Channel, envelope interface{}, kind string) bool {
	if err := ch.WriteJSON(envelope); err != nil {
		r.sendFailed(sessionID, kind, err)
		return false
	}
	r.metrics.RelayDelivered(kind)
	return true
}

func (r *Relay) sendFailed(sessionID, kind string, err error) {
	r.metrics.RelayFailed()
	r.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"kind":       kind,
		"error":      err,
	}).Warn("peer send failed")
}
