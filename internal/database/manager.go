package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	dbconfig "coachrelay/pkg/database"
	"coachrelay/pkg/interfaces"
	"coachrelay/pkg/types"
)

const (
	defaultRetryDelay   = 5 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// ErrManagerClosed is returned for writes after Close.
var ErrManagerClosed = errors.New("database manager is closed")

// Manager implements the DatabaseManager interface
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	logger       logrus.FieldLogger
	retryDelay   time.Duration
	writeTimeout time.Duration
}

var _ interfaces.DatabaseManager = (*Manager)(nil)

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Option customizes a Manager.
type Option func(*Manager)

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRetryDelay sets the pause before the single retry of a busy write.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// NewManager opens the database, applies migrations and validates the schema.
func NewManager(config *dbconfig.Config, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	// ARCHITECTURAL DISCOVERY: SQLite connection string carries the pragmas every
	// pooled connection needs, foreign keys in particular
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	if err := dbconfig.NewMigrationManager(db, config.MigrationsPath).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		logger:       logrus.StandardLogger(),
		retryDelay:   defaultRetryDelay,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(manager)
	}
	manager.logger = manager.logger.WithField("component", "database")

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Only a busy or locked database is worth one retry,
			// constraint failures would fail again
			err := op.operation(m.db)
			if isBusy(err) {
				m.logger.WithError(err).WithField("retry_in", m.retryDelay).Warn("database busy, retrying write")
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
			}
			if err != nil {
				m.logger.WithError(err).Error("database write failed")
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return fmt.Errorf("write operation timeout")
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}
	return <-result
}

// CreateSession inserts a new session row
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (id, pin, owner_name, is_active, created_at, updated_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			session.ID,
			session.PIN,
			session.OwnerName,
			session.Active,
			session.CreatedAt.UTC(),
			session.UpdatedAt.UTC(),
			session.ExpiresAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `
		SELECT id, pin, owner_name, is_active, created_at, updated_at, expires_at
		FROM sessions
		WHERE id = ?
	`, sessionID)

	var session types.Session
	err := row.Scan(
		&session.ID,
		&session.PIN,
		&session.OwnerName,
		&session.Active,
		&session.CreatedAt,
		&session.UpdatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &session, nil
}

// UpdateSession writes the active flag and updated_at
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE sessions
			SET is_active = ?, updated_at = ?
			WHERE id = ?
		`, session.Active, session.UpdatedAt.UTC(), session.ID)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// DeleteSession removes the session row; its messages go with it.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

// RecordExchange stores one question, answer or system exchange
func (m *Manager) RecordExchange(ctx context.Context, exchange *types.Exchange) error {
	var source sql.NullString
	if exchange.Source != "" {
		source = sql.NullString{String: string(exchange.Source), Valid: true}
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, kind, role, content, score, feedback, source, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			exchange.ID,
			exchange.SessionID,
			exchange.Kind,
			exchange.Role,
			exchange.Content,
			exchange.Score,
			exchange.Feedback,
			source,
			exchange.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert exchange: %w", err)
		}
		return nil
	})
}

// GetSessionHistory retrieves all exchanges for a session
func (m *Manager) GetSessionHistory(ctx context.Context, sessionID string) ([]*types.Exchange, error) {
	// FUNCTIONAL DISCOVERY: Order by timestamp ASC for chronological message history
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, kind, role, content, score, feedback, source, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history []*types.Exchange
	for rows.Next() {
		var (
			ex       types.Exchange
			score    sql.NullFloat64
			feedback sql.NullString
			source   sql.NullString
		)
		if err := rows.Scan(
			&ex.ID,
			&ex.SessionID,
			&ex.Kind,
			&ex.Role,
			&ex.Content,
			&score,
			&feedback,
			&source,
			&ex.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}

		if score.Valid {
			ex.Score = &score.Float64
		}
		if feedback.Valid {
			ex.Feedback = &feedback.String
		}
		ex.Source = types.Source(source.String)
		history = append(history, &ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return history, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// applySQLiteOptimizations applies performance optimizations
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
