package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"coachrelay/internal/session"
	"coachrelay/pkg/types"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	healthTimeout    = 5 * time.Second
)

// Registry is the slice of the session registry the API needs.
type Registry interface {
	CreateSession(ctx context.Context, ownerName string) (*types.Session, error)
	JoinByPin(ctx context.Context, pin string) (*types.Session, error)
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListRecent(limit int) []*types.Session
	GetStats() map[string]interface{}
}

// Presence reports live connections per session.
type Presence interface {
	Peers(sessionID string) (desktop, mobile bool)
	GetStats() map[string]int
}

// HistorySource serves the stored exchange log of a session.
type HistorySource interface {
	GetSessionHistory(ctx context.Context, sessionID string) ([]*types.Exchange, error)
}

// CacheInspector reports how many learned responses a session holds.
type CacheInspector interface {
	Len(sessionID string) int
}

// HealthCheck is one named dependency probe.
type HealthCheck func(ctx context.Context) error

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	registry      Registry
	presence      Presence
	history       HistorySource
	cache         CacheInspector
	checks        map[string]HealthCheck
	metrics       http.Handler
	websocket     http.HandlerFunc
	publicBaseURL string
	logger        logrus.FieldLogger
	router        chi.Router
}

type Option func(*Server)

func WithHistory(h HistorySource) Option {
	return func(s *Server) { s.history = h }
}

func WithCacheInspector(c CacheInspector) Option {
	return func(s *Server) { s.cache = c }
}

// WithHealthCheck adds a dependency to /health. A failing check turns the
// response into 503.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithWebSocket mounts the relay upgrade handler on /ws/{session_id}/{role}.
func WithWebSocket(h http.HandlerFunc) Option {
	return func(s *Server) { s.websocket = h }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.logger = l }
}

// FUNCTIONAL DISCOVERY: Constructor initializes all dependencies and sets up routing
// Dependency injection pattern maintains architectural boundaries
func NewServer(registry Registry, presence Presence, publicBaseURL string, opts ...Option) *Server {
	s := &Server{
		registry:      registry,
		presence:      presence,
		checks:        make(map[string]HealthCheck),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all API routes for web client compatibility
func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.With(jsonMiddleware).Get("/health", s.healthCheck)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.websocket != nil {
		r.Get("/ws/{session_id}/{role}", s.websocket)
	}

	r.Route("/api/sessions", func(r chi.Router) {
		r.Use(jsonMiddleware)
		r.Post("/", s.createSession)
		r.Get("/", s.listSessions)
		r.Post("/join", s.joinSession)
		r.Get("/{session_id}", s.getSession)
		r.Get("/{session_id}/history", s.getHistory)
	})

	s.router = r
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type CreateSessionRequest struct {
	OwnerName string `json:"owner_name"`
}

type JoinSessionRequest struct {
	PIN string `json:"pin"`
}

type SessionResponse struct {
	Session *types.Session `json:"session"`
	JoinURL string         `json:"join_url"`
}

type SessionDetailResponse struct {
	Session          *types.Session `json:"session"`
	JoinURL          string         `json:"join_url"`
	DesktopConnected bool           `json:"desktop_connected"`
	MobileConnected  bool           `json:"mobile_connected"`
	CachedResponses  int            `json:"cached_responses"`
}

type ListSessionsResponse struct {
	Sessions []*types.Session `json:"sessions"`
}

type HistoryResponse struct {
	SessionID string            `json:"session_id"`
	Exchanges []*types.Exchange `json:"exchanges"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Checks      map[string]string      `json:"checks"`
	Connections map[string]int         `json:"connections"`
	Sessions    map[string]interface{} `json:"sessions"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	created, err := s.registry.CreateSession(r.Context(), req.OwnerName)
	if err != nil {
		if errors.Is(err, session.ErrInvalidOwnerName) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.WithError(err).Error("failed to create session")
		s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusCreated, SessionResponse{Session: created, JoinURL: s.joinURL(created.ID)})
}

// POST /api/sessions/join
// FUNCTIONAL DISCOVERY: An expired but unswept session answers 410 so the phone
// can tell "wrong PIN" from "ask for a new one"
func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	var req JoinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	joined, err := s.registry.JoinByPin(r.Context(), req.PIN)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	case errors.Is(err, session.ErrSessionExpired):
		s.sendError(w, "Session expired", http.StatusGone)
		return
	case err != nil:
		s.sendError(w, "Failed to join session", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, SessionResponse{Session: joined, JoinURL: s.joinURL(joined.ID)})
}

// GET /api/sessions?limit=n
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	sessions := s.registry.ListRecent(limit)
	if sessions == nil {
		sessions = []*types.Session{}
	}
	s.writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: sessions})
}

// GET /api/sessions/{session_id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	found, err := s.registry.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		return
	}

	resp := SessionDetailResponse{Session: found, JoinURL: s.joinURL(found.ID)}
	resp.DesktopConnected, resp.MobileConnected = s.presence.Peers(sessionID)
	if s.cache != nil {
		resp.CachedResponses = s.cache.Len(sessionID)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GET /api/sessions/{session_id}/history
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendError(w, "History is not stored", http.StatusNotImplemented)
		return
	}
	sessionID := chi.URLParam(r, "session_id")
	if _, err := s.registry.GetSession(r.Context(), sessionID); err != nil {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}

	exchanges, err := s.history.GetSessionHistory(r.Context(), sessionID)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Error("failed to load history")
		s.sendError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if exchanges == nil {
		exchanges = []*types.Exchange{}
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{SessionID: sessionID, Exchanges: exchanges})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = "unhealthy"
			checks[name] = "error: " + err.Error()
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Checks:      checks,
		Connections: s.presence.GetStats(),
		Sessions:    s.registry.GetStats(),
	})
}

func (s *Server) joinURL(sessionID string) string {
	return s.publicBaseURL + "/mobile?" + url.Values{"session_id": {sessionID}}.Encode()
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
