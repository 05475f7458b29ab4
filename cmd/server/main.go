package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"

	"github.com/codealloy/alloy-api/internal/clients"
	"github.com/codealloy/alloy-api/internal/config"
	"github.com/codealloy/alloy-api/internal/handlers"
	"github.com/codealloy/alloy-api/internal/inference"
	"github.com/codealloy/alloy-api/internal/middleware"
	"github.com/codealloy/alloy-api/internal/migration"
	"github.com/codealloy/alloy-api/internal/orchestrator"
	"github.com/codealloy/alloy-api/internal/repository"
	"github.com/codealloy/alloy-api/internal/routes"
	"github.com/codealloy/alloy-api/internal/verify"
	"github.com/codealloy/alloy-api/internal/worker"
	"github.com/codealloy/alloy-api/internal/workspace"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config *config.Config
	db     *sql.DB
	logger zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(level)
	}

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL)

	app := &application{
		config: cfg,
		db:     db,
		logger: logger,
	}

	// Repositories and collaborators.
	jobRepo := repository.NewJobRepository(db)
	eventRepo := repository.NewEventRepository(db)
	ws := workspace.NewManager(cfg.Workspace, logger)
	invoker := inference.NewClient(cfg.Inference, logger)
	knowledge := clients.NewKnowledgeClient(cfg.Integration.KnowledgeURL, cfg.Integration.Timeout, logger)
	analyzer := clients.NewAnalyzerClient(cfg.Integration.AnalyzerURL, cfg.Integration.Timeout, logger)

	// Verification pipeline: sandboxed tool execution when a tools container
	// is configured, direct host execution otherwise.
	runner := app.buildRunner(logger)
	pipeline, err := verify.NewPipeline(cfg.Verify, runner, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load verification tool table")
	}

	// Orchestrator and background worker.
	eventRecorder := orchestrator.NewEventRecorder(eventRepo, logger)
	attempter := orchestrator.NewAttempter(ws, invoker, pipeline, knowledge, cfg.Models, logger)
	coordinator := orchestrator.NewCoordinator(attempter, ws, logger)
	orch := orchestrator.New(jobRepo, eventRecorder, ws, coordinator, analyzer, cfg.Workspace.KeepWorkingCopies, logger)
	jobWorker := worker.New(worker.Config{
		PollInterval:      cfg.Worker.PollInterval,
		MaxConcurrentJobs: cfg.Worker.MaxConcurrentJobs,
		ShutdownGrace:     cfg.Worker.ShutdownGrace,
	}, jobRepo, orch, logger)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	if err := pipeline.WatchTools(workerCtx); err != nil {
		logger.Warn().Err(err).Msg("Verification tool table hot reload unavailable")
	}

	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		if err := jobWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Worker stopped with error")
		}
	}()

	// HTTP surface.
	transformationHandler := handlers.NewTransformationHandler(jobRepo, eventRepo, orch, logger)
	repositoryHandler := handlers.NewRepositoryHandler(ws, analyzer, logger)
	webhookHandler := handlers.NewWebhookHandler(cfg.Webhook.Secret, transformationHandler, ws, logger)

	router := routes.NewRouter(db, cfg.JWTSecret, transformationHandler, repositoryHandler, webhookHandler)
	loggedRouter := middleware.LoggingMiddleware(logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	app.startServer(corsHandler, logger)

	// Stop claiming new jobs and drain running executions.
	stopWorker()
	workerWG.Wait()

	logger.Info().Msg("Application terminated.")
}

// buildRunner picks the verification tool runner. A configured sandbox
// container routes every tool invocation through the Docker API.
func (app *application) buildRunner(logger zerolog.Logger) verify.Runner {
	if app.config.Verify.SandboxContainer == "" {
		return verify.NewLocalRunner()
	}
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Docker client for verification sandbox")
	}
	ensureCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := verify.EnsureContainer(ensureCtx, dockerClient, app.config.Verify,
		app.config.Workspace.Root, app.config.Verify.ScratchDir); err != nil {
		logger.Fatal().Err(err).Msg("Failed to provision verification tools container")
	}
	logger.Info().Str("container", app.config.Verify.SandboxContainer).Msg("Verification tools run in sandbox container")
	return verify.NewSandboxRunner(dockerClient, app.config.Verify.SandboxContainer)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
