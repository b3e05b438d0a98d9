package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"kpicompare/internal/config"
	apierrors "kpicompare/internal/errors"
	"kpicompare/internal/files"
	"kpicompare/internal/infrastructure"
	customMiddleware "kpicompare/internal/middleware"
	"kpicompare/internal/operations"
	"kpicompare/internal/services"
	handlers "kpicompare/internal/transport/http"
	ws "kpicompare/internal/websocket"
	"kpicompare/pkg/contracts"
)

// VERSION is the version reported by the health endpoints
var VERSION = contracts.Version

// BuildTime is the link-time build stamp, or the process start time when unset
var BuildTime = buildTime()

func buildTime() string {
	if contracts.BuildTime != "" && contracts.BuildTime != "unknown" {
		return contracts.BuildTime
	}
	return time.Now().UTC().Format(time.RFC3339)
}

const (
	// runRetention is how long finished runs stay in the store
	runRetention = 24 * time.Hour
	// cleanupInterval is how often expired runs are evicted
	cleanupInterval = 10 * time.Minute
	// compressionLevel is the gzip level for JSON and CSV responses
	compressionLevel = 5
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
	Services      *ServiceContainer

	ErrorHandler *apierrors.ErrorHandler
	Validator    *customMiddleware.Validator

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	Runs       *operations.MemoryRunStore
	Files      *files.Manager
	WebSocket  *ws.Hub
	Comparison *services.ComparisonService
	Health     *services.HealthService
}

// NewApplication loads configuration, initializes the global logger and
// builds the application. An empty configFile uses the default lookup.
func NewApplication(configFile string) (*Application, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFrom(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(cfg, logger)
}

// New builds the application from an already loaded configuration
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", VERSION),
		slog.String("build_time", BuildTime))

	paths, err := config.ResolvePaths(cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution(logger)

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.CreateBusinessMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
		ErrorHandler:  apierrors.NewErrorHandler(logger, cfg.Telemetry.Environment == "development"),
		Validator:     customMiddleware.NewValidator(logger),
		stopCleanup:   make(chan struct{}),
	}

	app.initializeServices()

	if err := app.setupRouter(); err != nil {
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}

	app.createServer()

	return app, nil
}

// initializeServices wires the run store, workspace manager, websocket hub
// and services together
func (a *Application) initializeServices() {
	hub := ws.NewHub(a.Logger, a.Metrics)
	hub.Start()

	store := operations.NewMemoryRunStore(a.Config.Pipeline.MaxRuns)
	fm := files.NewManager(a.Paths.WorkDir, a.Config.Pipeline.MaxExtractedBytes, a.Logger)

	comparison := services.NewComparisonService(a.Config.Pipeline, fm, store, hub, a.Metrics, a.Logger)
	health := services.NewHealthService(VERSION, BuildTime, a.Paths, store, hub, a.Logger)

	a.Services = &ServiceContainer{
		Runs:       store,
		Files:      fm,
		WebSocket:  hub,
		Comparison: comparison,
		Health:     health,
	}
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() error {
	r := chi.NewRouter()

	// Order: RequestID → RealIP → OTel → errors/logging → headers → CORS → rate limit → audit
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders, a.Metrics)
	if err != nil {
		return err
	}
	r.Use(otelMiddleware.Handler)
	r.Use(apierrors.NewErrorMiddleware(a.ErrorHandler, a.Logger).Handler)

	secure := customMiddleware.DefaultSecureHeaders()
	secure.DevMode = a.isDevelopmentMode()
	r.Use(secure.Handler)

	if a.Config.Security.EnableCORS {
		r.Use(customMiddleware.CORS(a.getCORSConfig()))
	}

	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	r.Mount(config.HealthEndpoint, handlers.NewHealthHandler(a.Services.Health, a.Logger).Routes())

	var metricsHandler http.Handler
	if a.OTelProviders != nil {
		metricsHandler = a.OTelProviders.PrometheusHTTP
	}
	r.Handle(config.MetricsEndpoint, handlers.NewMetricsHandler(metricsHandler))

	// Health and metrics stay outside the rate limit for probes and scrapers
	r.Group(func(r chi.Router) {
		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.ErrorHandler,
				a.Logger,
			).Handler)
		}
		r.Use(customMiddleware.AuditLog(a.Logger))
		r.Use(customMiddleware.Compress(compressionLevel))

		runs := handlers.NewRunsHandler(
			a.Services.Comparison,
			a.Services.WebSocket,
			a.Validator,
			a.ErrorHandler,
			handlers.RunsHandlerOptions{
				MaxUploadBytes:  a.Config.Server.MaxUploadBytes,
				AllowedOrigins:  a.Config.Security.AllowedOrigins,
				ReadBufferSize:  a.Config.WebSocket.ReadBufferSize,
				WriteBufferSize: a.Config.WebSocket.WriteBufferSize,
			},
			a.Logger,
		)
		r.Mount(config.RunsEndpoint, runs.Routes())
	})

	a.Router = r
	return nil
}

// getCORSConfig returns the CORS configuration from the security section
func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		Logger:         a.Logger,
	}
}

// isDevelopmentMode reports whether the telemetry environment is development
func (a *Application) isDevelopmentMode() bool {
	env := a.Config.Telemetry.Environment
	return env == "" || env == "development" || env == "dev"
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Start starts the HTTP server and the run cleanup loop. Serve errors other
// than a clean shutdown call cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", config.AppName),
		slog.String("version", VERSION),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	go a.cleanupLoop()

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))
	return nil
}

func (a *Application) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCleanup:
			return
		case <-ticker.C:
			if n := a.Services.Runs.CleanupOldRuns(runRetention); n > 0 {
				a.Logger.Info("Expired runs removed", slog.Int("count", n))
			}
		}
	}
}

// Stop gracefully stops the application: the server drains first, then
// running comparisons are cancelled, then the hub and telemetry close.
func (a *Application) Stop(ctx context.Context) error {
	var stopErr error
	a.stopOnce.Do(func() {
		stopErr = a.stop(ctx)
	})
	return stopErr
}

func (a *Application) stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	close(a.stopCleanup)

	if err := a.Services.Comparison.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("comparison service shutdown: %w", err))
	}

	a.Services.WebSocket.Stop()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}

	return errors.Join(errs...)
}

// Run runs the application until interrupted or ctx is done
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	<-ctx.Done()
	a.Logger.Info("Received shutdown signal")

	return a.Stop(context.WithoutCancel(ctx))
}
