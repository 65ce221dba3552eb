package types

import (
	"time"
)

// Role identifies one of the two connection slots of a session.
type Role string

const (
	RoleDesktop Role = "desktop"
	RoleMobile  Role = "mobile"
)

// Peer returns the opposite role. Relay traffic is strictly point-to-point
// between the two roles of one session.
func (r Role) Peer() Role {
	if r == RoleDesktop {
		return RoleMobile
	}
	return RoleDesktop
}

// ExchangeKind classifies an Exchange.
type ExchangeKind string

const (
	KindQuestion ExchangeKind = "question"
	KindAnswer   ExchangeKind = "answer"
	KindSystem   ExchangeKind = "system"
)

// Source names the cache tier that produced a resolution.
type Source string

const (
	SourceStatic        Source = "static"
	SourceDynamic       Source = "dynamic"
	SourceAIGenerated   Source = "ai_generated"
	SourceErrorFallback Source = "error_fallback"
)

// Session is a time-boxed pairing context joined by PIN.
// ARCHITECTURAL DISCOVERY: PIN uniqueness only holds against unexpired sessions,
// a lapsed PIN may be handed out again before the sweeper removes the old record
type Session struct {
	ID        string    `json:"session_id" db:"session_id"`
	PIN       string    `json:"pin" db:"pin"`
	OwnerName string    `json:"owner_name" db:"owner_name"`
	Active    bool      `json:"active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// IsExpired reports whether the session lapsed strictly before now.
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// Exchange is one question, answer or system event of a session.
type Exchange struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Role      Role         `json:"role"`
	Kind      ExchangeKind `json:"kind"`
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
	Score     *float64     `json:"score,omitempty"`
	Feedback  *string      `json:"feedback,omitempty"`
	Source    Source       `json:"source,omitempty"`
}

// CacheEntry is a learned response in the dynamic tier, keyed by
// (SessionID, QuestionHash).
type CacheEntry struct {
	SessionID    string    `json:"session_id"`
	QuestionHash string    `json:"question_hash"`
	QuestionText string    `json:"question_text"`
	ResponseText string    `json:"response_text"`
	UsageCount   int       `json:"usage_count"`
	LastUsed     time.Time `json:"last_used"`
	CreatedAt    time.Time `json:"created_at"`
}

// Resolution is the outcome of a tiered cache lookup.
type Resolution struct {
	Response   string  `json:"response"`
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback"`
	Source     Source  `json:"source"`
	UsageCount int     `json:"usage_count,omitempty"`
	Category   string  `json:"category,omitempty"`
}
