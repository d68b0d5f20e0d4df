// Kestrel orchestrator server: provides the HTTP API, manages queue
// workers, and drives agent instances through their template loops.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kestrelops/kestrel/pkg/api"
	"github.com/kestrelops/kestrel/pkg/cleanup"
	"github.com/kestrelops/kestrel/pkg/config"
	"github.com/kestrelops/kestrel/pkg/database"
	"github.com/kestrelops/kestrel/pkg/fetch"
	"github.com/kestrelops/kestrel/pkg/llm"
	"github.com/kestrelops/kestrel/pkg/masking"
	"github.com/kestrelops/kestrel/pkg/mcp"
	"github.com/kestrelops/kestrel/pkg/queue"
	"github.com/kestrelops/kestrel/pkg/services"
	"github.com/kestrelops/kestrel/pkg/session"
	"github.com/kestrelops/kestrel/pkg/slack"
	"github.com/kestrelops/kestrel/pkg/spawn"
	"github.com/kestrelops/kestrel/pkg/tools"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("Ignoring non-numeric environment value", "key", key, "value", value)
	}
	return defaultValue
}

// stores bundles the per-entity persistence interfaces so memory and
// PostgreSQL backends wire identically.
type stores struct {
	templates services.TemplateStore
	instances services.InstanceStore
	events    services.EventStore
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	storeBackend := getEnv("STORE_BACKEND", "postgres")
	slog.Info("Starting Kestrel",
		"config_dir", *configDir,
		"store_backend", storeBackend)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize persistence. The memory backend keeps everything
	// in-process; useful for development and single-node evaluation.
	var (
		store    stores
		dbClient *database.Client
	)
	switch storeBackend {
	case "memory":
		mem := services.NewMemoryStore()
		store = stores{templates: mem, instances: mem, events: mem}
		slog.Warn("Using in-memory store; state is lost on restart")
	case "postgres":
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		sql := database.NewStore(dbClient)
		store = stores{templates: sql, instances: sql, events: sql}
		slog.Info("Connected to PostgreSQL database")
	default:
		slog.Error("Unknown STORE_BACKEND", "value", storeBackend)
		os.Exit(1)
	}

	templateService := services.NewTemplateService(store.templates)
	instanceService := services.NewInstanceService(store.instances)
	eventService := services.NewEventService(store.events)
	slog.Info("Services initialized")

	// 3. Tool registry, spawner, and the spawn_agent tool
	registry := tools.NewRegistry()
	registry.SetFetcher(fetch.NewService(fetch.Options{
		AuthToken: os.Getenv("GITHUB_TOKEN"),
	}))
	spawner := spawn.NewSpawner(templateService, instanceService, eventService, cfg.Policy)
	if err := spawn.Register(registry, spawner); err != nil {
		slog.Error("Failed to register spawn_agent tool", "error", err)
		os.Exit(1)
	}

	// 4. MCP multiplexer: connect configured servers, keep failures
	// visible in /healthz rather than fatal.
	mux := mcp.NewMultiplexer(cfg.Servers, registry)
	mux.SetMasker(masking.New())
	mux.Initialize(ctx)
	defer func() {
		if err := mux.Close(); err != nil {
			slog.Error("Error closing MCP sessions", "error", err)
		}
	}()
	if inactive := mux.Inactive(); len(inactive) > 0 {
		slog.Warn("Some MCP servers failed to connect", "inactive", inactive)
	}

	// 5. LLM client
	llmClient, err := llm.NewOpenAIClient(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "model", cfg.LLM.Model)

	// 6. Session store and worker pool (pool starts before the HTTP server
	// so queued instances from a previous run get picked up immediately)
	sessions := session.NewStore(cfg.Policy.PendingTTL.Std())

	notifier := slack.NewNotifier(slack.NotifierConfig{
		Token:        os.Getenv("SLACK_BOT_TOKEN"),
		Channel:      os.Getenv("SLACK_CHANNEL_ID"),
		DashboardURL: os.Getenv("DASHBOARD_URL"),
	})
	if notifier != nil {
		slog.Info("Slack approval notifications enabled")
	}

	poolOpts := queue.Options{
		WorkerCount:  getEnvInt("WORKER_COUNT", 4),
		PollInterval: time.Duration(getEnvInt("POLL_INTERVAL_MS", 500)) * time.Millisecond,
		Jitter:       time.Duration(getEnvInt("POLL_JITTER_MS", 100)) * time.Millisecond,
		RunTimeout:   time.Duration(getEnvInt("RUN_TIMEOUT_SEC", 600)) * time.Second,
	}
	runner := queue.NewRunner(queue.Deps{
		Instances:    instanceService,
		Templates:    templateService,
		Events:       eventService,
		Sessions:     sessions,
		Registry:     registry,
		Mux:          mux,
		LLM:          llmClient,
		Policy:       cfg.Policy,
		Notifier:     notifier,
		DefaultModel: cfg.LLM.Model,
	}, poolOpts.RunTimeout)
	pool := queue.NewRunnerPool(poolOpts, instanceService, runner)
	pool.Start(ctx)

	sweeper := cleanup.NewService(sessions,
		time.Duration(getEnvInt("CLEANUP_INTERVAL_SEC", 300))*time.Second,
		time.Duration(getEnvInt("SESSION_MAX_IDLE_SEC", 3600))*time.Second)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 7. HTTP server
	server := api.NewServer(templateService, instanceService, eventService,
		spawner, pool, sessions, mux, dbClient)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Kestrel started successfully", "workers", poolOpts.WorkerCount)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: drain workers first so in-flight runs reach a
	// rest state, then close the HTTP listener.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded; in-flight runs were interrupted")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
