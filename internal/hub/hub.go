package hub

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coachrelay/internal/llm"
	"coachrelay/internal/metrics"
	"coachrelay/pkg/interfaces"
	"coachrelay/pkg/protocol"
	"coachrelay/pkg/types"
)

// Resolver answers a question for a session. It never fails.
type Resolver interface {
	Resolve(ctx context.Context, sessionID, questionText string) types.Resolution
}

// Sender delivers an envelope to one role of a session.
type Sender interface {
	Send(sessionID string, to types.Role, envelope interface{}, kind string) bool
}

// SessionChecker reports whether the registry still holds a session.
type SessionChecker interface {
	Exists(sessionID string) bool
}

// Window is the context window the hub feeds after every resolution.
type Window interface {
	Append(sessionID string, kind types.ExchangeKind, text string)
	Drop(sessionID string)
}

// Config sizes the worker pool and its admission control.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerMinute int
	// MinChars is the shortest trimmed question worth resolving.
	MinChars int
}

func DefaultConfig() Config {
	return Config{Workers: 8, QueueSize: 64, RatePerMinute: 30, MinChars: 6}
}

// QuestionContext wraps an inbound event with its origin
// FUNCTIONAL DISCOVERY: Context preservation ensures answers go to the peer
// of the role that asked
type QuestionContext struct {
	SessionID string
	From      types.Role
	Event     protocol.Event
	Received  time.Time
}

// Hub runs the per-session question pipeline: transcribe, acknowledge,
// resolve, remember, deliver, record.
// ARCHITECTURAL DISCOVERY: Events are sharded onto worker queues by session id,
// so one session's questions stay in order while a slow fallback in one
// session never delays another shard
type Hub struct {
	queues          []chan *QuestionContext
	shutdownChannel chan struct{}
	wg              sync.WaitGroup

	resolver    Resolver
	sender      Sender
	sessions    SessionChecker
	window      Window
	transcriber interfaces.Transcriber
	recorders   []interfaces.ExchangeRecorder
	limiter     *Limiter
	cfg         Config

	logger  logrus.FieldLogger
	metrics *metrics.Metrics

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

// Option customizes a Hub.
type Option func(*Hub)

// WithTranscriber enables audio_chunk events.
func WithTranscriber(t interfaces.Transcriber) Option {
	return func(h *Hub) { h.transcriber = t }
}

// WithRecorders adds durable sinks for question and answer exchanges.
func WithRecorders(r ...interfaces.ExchangeRecorder) Option {
	return func(h *Hub) { h.recorders = append(h.recorders, r...) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(h *Hub) { h.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a new hub
func NewHub(resolver Resolver, sender Sender, sessions SessionChecker, window Window, cfg Config, opts ...Option) *Hub {
	d := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = d.MinChars
	}

	h := &Hub{
		queues:          make([]chan *QuestionContext, cfg.Workers),
		shutdownChannel: make(chan struct{}),
		resolver:        resolver,
		sender:          sender,
		sessions:        sessions,
		window:          window,
		limiter:         NewLimiter(cfg.RatePerMinute),
		cfg:             cfg,
		logger:          logrus.StandardLogger(),
	}
	for i := range h.queues {
		h.queues[i] = make(chan *QuestionContext, cfg.QueueSize)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true

	h.logger.WithField("workers", len(h.queues)).Info("starting coaching hub")
	for _, q := range h.queues {
		h.wg.Add(1)
		go h.run(ctx, q)
	}
	return nil
}

// Stop signals the workers and waits for in-flight questions to finish.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	h.logger.Info("stopping coaching hub")
	h.wg.Wait()
	return nil
}

// Submit queues an event without blocking the caller's read loop.
func (h *Hub) Submit(sessionID string, from types.Role, event protocol.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	// Limiter state exists only for sessions the registry still holds.
	if !h.sessions.Exists(sessionID) {
		h.metrics.QuestionRejected("unknown_session")
		return ErrSessionNotFound
	}

	if !h.limiter.Allow(sessionID) {
		h.metrics.QuestionRejected("rate_limited")
		return ErrRateLimited
	}

	qc := &QuestionContext{SessionID: sessionID, From: from, Event: event, Received: time.Now()}
	// TECHNICAL DISCOVERY: Non-blocking send with error handling prevents hub lockup
	select {
	case h.queues[h.queueFor(sessionID)] <- qc:
		return nil
	default:
		h.metrics.QuestionRejected("queue_full")
		return ErrQueueFull
	}
}

// Forget drops per-session admission state once a session is gone.
func (h *Hub) Forget(sessionID string) {
	h.limiter.Forget(sessionID)
}

func (h *Hub) queueFor(sessionID string) int {
	return int(xxhash.Sum64String(sessionID) % uint64(len(h.queues)))
}

// run is one worker loop
func (h *Hub) run(ctx context.Context, queue <-chan *QuestionContext) {
	defer h.wg.Done()
	for {
		select {
		case qc := <-queue:
			// FUNCTIONAL DISCOVERY: Processing continues despite individual failures
			h.process(ctx, qc)
		case <-h.shutdownChannel:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) process(ctx context.Context, qc *QuestionContext) {
	log := h.logger.WithFields(logrus.Fields{
		"session_id": qc.SessionID,
		"from":       qc.From,
		"event":      qc.Event.Type,
	})
	if !h.sessions.Exists(qc.SessionID) {
		log.Debug("dropping event for unknown session")
		return
	}

	text := qc.Event.Text
	if qc.Event.Type == protocol.EventAudioChunk {
		text = h.transcribe(ctx, qc.Event.Audio, log)
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < h.cfg.MinChars {
		log.WithField("chars", utf8.RuneCountInString(text)).Debug("nothing to process")
		return
	}

	peer := qc.From.Peer()
	h.sender.Send(qc.SessionID, peer, protocol.NewProcessing(), protocol.TagProcessing)

	res := h.resolver.Resolve(ctx, qc.SessionID, text)

	h.window.Append(qc.SessionID, types.KindQuestion, text)
	h.window.Append(qc.SessionID, types.KindAnswer, res.Response)
	if !h.sessions.Exists(qc.SessionID) {
		// Swept while resolving; do not leave a window behind.
		h.window.Drop(qc.SessionID)
		return
	}

	h.sender.Send(qc.SessionID, peer, protocol.NewResponse(text, res), protocol.TagResponse)
	log.WithFields(logrus.Fields{
		"source":     res.Source,
		"score":      res.Score,
		"latency_ms": time.Since(qc.Received).Milliseconds(),
	}).Info("question answered")

	h.record(ctx, qc, text, res, log)
}

func (h *Hub) transcribe(ctx context.Context, audio []byte, log logrus.FieldLogger) string {
	if h.transcriber == nil {
		log.WithError(llm.ErrTranscriptionUnavailable).Warn("audio received without a transcriber")
		return ""
	}
	text, err := h.transcriber.Transcribe(ctx, audio)
	if err != nil {
		log.WithError(err).Warn("transcription failed")
		return ""
	}
	return text
}

func (h *Hub) record(ctx context.Context, qc *QuestionContext, text string, res types.Resolution, log logrus.FieldLogger) {
	if len(h.recorders) == 0 {
		return
	}
	now := time.Now()
	score := res.Score
	feedback := res.Feedback
	exchanges := []*types.Exchange{
		{
			ID:        uuid.New().String(),
			SessionID: qc.SessionID,
			Role:      qc.From,
			Kind:      types.KindQuestion,
			Content:   text,
			Timestamp: qc.Received,
		},
		{
			ID:        uuid.New().String(),
			SessionID: qc.SessionID,
			Role:      qc.From.Peer(),
			Kind:      types.KindAnswer,
			Content:   res.Response,
			Timestamp: now,
			Score:     &score,
			Feedback:  &feedback,
			Source:    res.Source,
		},
	}

	for _, rec := range h.recorders {
		for _, ex := range exchanges {
			if err := rec.RecordExchange(ctx, ex); err != nil {
				log.WithError(err).Warn("failed to record exchange")
				break
			}
		}
	}
}
