package interfaces

import (
	"context"

	"coachrelay/pkg/types"
)

// SessionStore persists session records on behalf of the registry.
// ARCHITECTURAL DISCOVERY: The registry owns the live state, the store is a
// write-through mirror so a failing store never changes registry semantics
type SessionStore interface {
	// CreateSession inserts a new session row
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSession writes the mutable fields (active flag and updated_at)
	UpdateSession(ctx context.Context, session *types.Session) error

	// DeleteSession removes the session and its messages
	DeleteSession(ctx context.Context, sessionID string) error
}

// ExchangeRecorder appends exchanges to a durable log.
type ExchangeRecorder interface {
	RecordExchange(ctx context.Context, exchange *types.Exchange) error
}

// DatabaseManager handles all database operations
type DatabaseManager interface {
	SessionStore
	ExchangeRecorder

	// GetSessionHistory retrieves all exchanges for a session ordered by timestamp
	GetSessionHistory(ctx context.Context, sessionID string) ([]*types.Exchange, error)

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
