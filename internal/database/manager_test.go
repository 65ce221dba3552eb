package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "coachrelay/pkg/database"
	"coachrelay/pkg/interfaces"
	"coachrelay/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	logger, _ := logtest.NewNullLogger()
	manager, err := NewManager(config, WithLogger(logger), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func testSession(id, pin string) *types.Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &types.Session{
		ID:        id,
		PIN:       pin,
		OwnerName: "Ada",
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestManager_SessionLifecycle(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	s := testSession("s1", "123456")
	require.NoError(t, m.CreateSession(ctx, s))

	got, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "123456", got.PIN)
	assert.Equal(t, "Ada", got.OwnerName)
	assert.False(t, got.Active)
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))

	s.Active = true
	s.UpdatedAt = s.UpdatedAt.Add(time.Minute)
	require.NoError(t, m.UpdateSession(ctx, s))

	got, err = m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.True(t, s.UpdatedAt.Equal(got.UpdatedAt))

	require.NoError(t, m.DeleteSession(ctx, "s1"))
	_, err = m.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	// Deleting twice is fine.
	assert.NoError(t, m.DeleteSession(ctx, "s1"))
}

func TestManager_UpdateMissingSession(t *testing.T) {
	m := setupTestDB(t)
	err := m.UpdateSession(context.Background(), testSession("ghost", "000000"))
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestManager_DuplicateSessionIsNotRetried(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.CreateSession(ctx, testSession("s1", "123456")))

	err := m.CreateSession(ctx, testSession("s1", "654321"))
	require.Error(t, err)
	var sqliteErr sqlite3.Error
	require.ErrorAs(t, err, &sqliteErr)
	assert.Equal(t, sqlite3.ErrConstraint, sqliteErr.Code)
}

func TestManager_RecordAndHistory(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.CreateSession(ctx, testSession("s1", "123456")))

	base := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	score := 8.5
	feedback := "Strong answer"
	require.NoError(t, m.RecordExchange(ctx, &types.Exchange{
		ID: "q1", SessionID: "s1", Role: types.RoleDesktop, Kind: types.KindQuestion,
		Content: "Why us?", Timestamp: base,
	}))
	require.NoError(t, m.RecordExchange(ctx, &types.Exchange{
		ID: "a1", SessionID: "s1", Role: types.RoleMobile, Kind: types.KindAnswer,
		Content: "Because...", Timestamp: base.Add(time.Second),
		Score: &score, Feedback: &feedback, Source: types.SourceDynamic,
	}))

	history, err := m.GetSessionHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, types.KindQuestion, history[0].Kind)
	assert.Nil(t, history[0].Score)
	assert.Equal(t, types.Source(""), history[0].Source)

	assert.Equal(t, types.KindAnswer, history[1].Kind)
	assert.Equal(t, types.RoleMobile, history[1].Role)
	require.NotNil(t, history[1].Score)
	assert.Equal(t, 8.5, *history[1].Score)
	assert.Equal(t, "Strong answer", *history[1].Feedback)
	assert.Equal(t, types.SourceDynamic, history[1].Source)
	assert.True(t, base.Add(time.Second).Equal(history[1].Timestamp))

	// Sweeping the session takes its log with it.
	require.NoError(t, m.DeleteSession(ctx, "s1"))
	history, err = m.GetSessionHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestManager_RecordForUnknownSessionFails(t *testing.T) {
	m := setupTestDB(t)
	err := m.RecordExchange(context.Background(), &types.Exchange{
		ID: "q1", SessionID: "nope", Role: types.RoleDesktop, Kind: types.KindQuestion,
		Content: "Why us?", Timestamp: time.Now(),
	})
	assert.Error(t, err)
}

func TestManager_ConcurrentWrites(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.CreateSession(ctx, testSession("s1", "123456")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.RecordExchange(ctx, &types.Exchange{
				ID: fmt.Sprintf("m%d", i), SessionID: "s1", Role: types.RoleDesktop,
				Kind: types.KindQuestion, Content: "q", Timestamp: time.Now(),
			}))
		}(i)
	}
	wg.Wait()

	history, err := m.GetSessionHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 20)
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	assert.NoError(t, m.HealthCheck(ctx))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.CreateSession(ctx, testSession("s1", "123456")), ErrManagerClosed)
}

func TestNewManager_InvalidConfig(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = ""
	_, err := NewManager(config)
	assert.Error(t, err)
}
