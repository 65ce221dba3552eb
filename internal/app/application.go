package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"coachrelay/internal/api"
	"coachrelay/internal/cache"
	"coachrelay/internal/config"
	"coachrelay/internal/conversation"
	"coachrelay/internal/database"
	"coachrelay/internal/exchangelog"
	"coachrelay/internal/hub"
	"coachrelay/internal/llm"
	"coachrelay/internal/logging"
	"coachrelay/internal/metrics"
	"coachrelay/internal/session"
	"coachrelay/internal/sweeper"
	"coachrelay/internal/websocket"
	pkgdatabase "coachrelay/pkg/database"
	"coachrelay/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
	dbManager  *database.Manager
	stream     *exchangelog.RedisStream
	sessions   *session.Manager
	resolver   *cache.Resolver
	window     *conversation.Store
	relay      *websocket.Relay
	messageHub *hub.Hub
	sweeper    *sweeper.Sweeper
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
	running    bool

	generator   interfaces.Generator
	transcriber interfaces.Transcriber
}

// Option overrides a component the application would otherwise build itself.
type Option func(*Application)

func WithLogger(l logrus.FieldLogger) Option {
	return func(app *Application) { app.logger = l }
}

// WithGenerator replaces the OpenAI-backed generative fallback.
func WithGenerator(g interfaces.Generator) Option {
	return func(app *Application) { app.generator = g }
}

// WithTranscriber replaces the OpenAI-backed transcriber.
func WithTranscriber(t interfaces.Transcriber) Option {
	return func(app *Application) { app.transcriber = t }
}

// WithListener serves HTTP on l instead of listening on the configured address.
func WithListener(l net.Listener) Option {
	return func(app *Application) { app.listener = l }
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Sessions → Cache → Relay → Hub → Sweeper → API → HTTP
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{config: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		app.logger = logger
	}
	app.metrics = metrics.New()

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
		MigrationsPath:  cfg.Database.MigrationsPath,
	}
	dbManager, err := database.NewManager(dbConfig, database.WithLogger(app.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	app.dbManager = dbManager
	app.logger.WithField("path", cfg.Database.Path).Info("database ready")

	if err := app.build(); err != nil {
		_ = dbManager.Close()
		if app.stream != nil {
			_ = app.stream.Close()
		}
		return nil, err
	}
	return app, nil
}

func (app *Application) build() error {
	cfg := app.config

	// STEP 2: Session registry writes through to the database
	app.sessions = session.NewManager(app.dbManager,
		session.WithTTL(cfg.Session.TTL),
		session.WithLogger(app.logger),
		session.WithMetrics(app.metrics),
	)

	// STEP 3: Response tiers and the context window
	static, err := loadStaticTable(cfg.Cache.StaticTablePath)
	if err != nil {
		return err
	}
	app.window = conversation.NewStore(cfg.Cache.WindowSize, cfg.Cache.WindowLineBudget)
	if err := app.buildOpenAI(); err != nil {
		return err
	}
	app.resolver = cache.NewResolver(static, cache.NewDynamic(cfg.Cache.DynamicCapacity), app.window, app.generator,
		cache.ResolverConfig{
			MaxTokens:   cfg.Generator.MaxTokens,
			Temperature: cfg.Generator.Temperature,
			Timeout:     cfg.Generator.Timeout,
		},
		cache.WithSessionCheck(app.sessions.Exists),
		cache.WithLogger(app.logger),
		cache.WithMetrics(app.metrics),
	)

	// STEP 4: Pairing relay
	app.relay = websocket.NewRelay(app.sessions, app.logger, app.metrics)

	// STEP 5: Question hub, recording to the database and optionally to Redis
	recorders := []interfaces.ExchangeRecorder{app.dbManager}
	if cfg.Redis.Addr != "" {
		streamCfg := exchangelog.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		}
		app.stream = exchangelog.NewRedisStream(exchangelog.NewClient(streamCfg), streamCfg, app.logger)
		recorders = append(recorders, app.stream)
	}
	hubOpts := []hub.Option{
		hub.WithRecorders(recorders...),
		hub.WithLogger(app.logger),
		hub.WithMetrics(app.metrics),
	}
	if app.transcriber != nil {
		hubOpts = append(hubOpts, hub.WithTranscriber(app.transcriber))
	}
	app.messageHub = hub.NewHub(app.resolver, app.relay, app.sessions, app.window, hub.Config{
		Workers:       cfg.Hub.Workers,
		QueueSize:     cfg.Hub.QueueSize,
		RatePerMinute: cfg.Hub.RatePerMinute,
		MinChars:      cfg.Hub.MinChars,
	}, hubOpts...)

	// STEP 6: Expiry sweeper, registry first, then every per-session cache
	app.sweeper = sweeper.New(app.sessions, app.relay,
		sweeper.WithInterval(cfg.Session.SweepInterval),
		sweeper.WithCleanup(
			func(sessionID string) { app.resolver.DropSession(sessionID) },
			app.window.Drop,
			app.messageHub.Forget,
		),
		sweeper.WithLogger(app.logger),
		sweeper.WithMetrics(app.metrics),
	)

	// STEP 7: WebSocket handler and API server
	wsHandler := websocket.NewHandler(app.relay, app.messageHub, websocket.HandlerConfig{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	}, app.logger, app.metrics)

	apiOpts := []api.Option{
		api.WithLogger(app.logger),
		api.WithHistory(app.dbManager),
		api.WithCacheInspector(app.resolver),
		api.WithMetricsHandler(app.metrics.Handler()),
		api.WithWebSocket(wsHandler.HandleWebSocket),
		api.WithHealthCheck("database", app.dbManager.HealthCheck),
	}
	if app.stream != nil {
		apiOpts = append(apiOpts, api.WithHealthCheck("redis", app.stream.Ping))
	}
	app.apiServer = api.NewServer(app.sessions, app.relay, cfg.HTTP.PublicBaseURL, apiOpts...)

	// STEP 8: HTTP server
	app.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return nil
}

// buildOpenAI wires the generative fallback and the transcriber unless the
// caller supplied its own. Without an API key there is no fallback.
func (app *Application) buildOpenAI() error {
	cfg := app.config
	if cfg.Generator.APIKey == "" {
		if app.generator == nil {
			app.logger.Warn("no OpenAI API key configured, generative fallback disabled")
		}
		return nil
	}
	if app.generator != nil && (app.transcriber != nil || !cfg.Transcriber.Enabled) {
		return nil
	}

	client, err := llm.NewClient(llm.ClientConfig{APIKey: cfg.Generator.APIKey, BaseURL: cfg.Generator.BaseURL})
	if err != nil {
		return fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}
	if app.generator == nil {
		generator := llm.NewOpenAIGenerator(client, cfg.Generator.Model, cfg.Generator.SystemPrompt, app.logger)
		app.generator = llm.NewBreakerGenerator(generator, llm.BreakerConfig{
			Name:        "generator",
			MaxFailures: uint32(cfg.Generator.BreakerMaxFailures),
			OpenTimeout: cfg.Generator.BreakerOpenTimeout,
		}, app.logger)
	}
	if app.transcriber == nil && cfg.Transcriber.Enabled {
		app.transcriber = llm.NewOpenAITranscriber(client, cfg.Transcriber.Model, cfg.Transcriber.Language)
	}
	return nil
}

func loadStaticTable(path string) (*cache.StaticTable, error) {
	if path == "" {
		table, err := cache.DefaultStaticTable()
		if err != nil {
			return nil, fmt.Errorf("failed to load built-in static table: %w", err)
		}
		return table, nil
	}
	table, err := cache.LoadStaticTable(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load static table %s: %w", path, err)
	}
	return table, nil
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Hub and sweeper start first, then the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	// STEP 1: Start question hub (background resolution workers)
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 2: Start expiry sweeper
	if err := app.sweeper.Start(ctx); err != nil {
		_ = app.messageHub.Stop()
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	// STEP 3: Bind before serving so callers can connect as soon as Start returns
	if app.listener == nil {
		listener, err := net.Listen("tcp", app.httpServer.Addr)
		if err != nil {
			_ = app.sweeper.Stop()
			_ = app.messageHub.Stop()
			return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
		}
		app.listener = listener
	}

	go func() {
		if err := app.httpServer.Serve(app.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.WithError(err).Error("HTTP server error")
		}
	}()

	app.running = true
	app.logger.WithField("addr", app.GetAddr()).Info("coachrelay started")
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Sweeper → Hub → Stream → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down coachrelay")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}
	if app.running {
		app.running = false
		if err := app.sweeper.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("sweeper shutdown: %w", err))
		}
		if err := app.messageHub.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("message hub shutdown: %w", err))
		}
	}
	if app.stream != nil {
		if err := app.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis stream shutdown: %w", err))
		}
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		app.logger.WithError(err).Warn("shutdown finished with errors")
		return err
	}
	app.logger.Info("coachrelay shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the routed HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
