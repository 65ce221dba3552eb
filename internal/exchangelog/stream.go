// Package exchangelog mirrors coaching exchanges onto a Redis stream so other
// processes can follow sessions live without touching the SQLite file.
package exchangelog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"coachrelay/pkg/types"
)

const (
	DefaultStream = "coachrelay:exchanges"
	DefaultMaxLen = 10000
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen caps the stream approximately; 0 leaves it unbounded.
	MaxLen int64
}

// RedisStream appends exchanges with XADD.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
	logger logrus.FieldLogger
}

// NewClient dials nothing; go-redis connects lazily on first command.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisStream(client *redis.Client, cfg Config, logger logrus.FieldLogger) *RedisStream {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.MaxLen < 0 {
		cfg.MaxLen = 0
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisStream{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		logger: logger.WithField("component", "exchangelog"),
	}
}

// RecordExchange appends one exchange. Field order is fixed so consumers can
// rely on it.
func (s *RedisStream) RecordExchange(ctx context.Context, ex *types.Exchange) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		ID:     "*",
		Values: Fields(ex),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	s.logger.WithFields(logrus.Fields{
		"session_id": ex.SessionID,
		"entry_id":   id,
	}).Debug("exchange streamed")
	return nil
}

// Ping checks connectivity for the health endpoint.
func (s *RedisStream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStream) Close() error {
	return s.client.Close()
}

// Fields flattens an exchange into XADD field/value pairs.
func Fields(ex *types.Exchange) []interface{} {
	score := ""
	if ex.Score != nil {
		score = strconv.FormatFloat(*ex.Score, 'f', -1, 64)
	}
	feedback := ""
	if ex.Feedback != nil {
		feedback = *ex.Feedback
	}
	return []interface{}{
		"id", ex.ID,
		"session_id", ex.SessionID,
		"kind", string(ex.Kind),
		"role", string(ex.Role),
		"content", ex.Content,
		"score", score,
		"feedback", feedback,
		"source", string(ex.Source),
		"timestamp", ex.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
