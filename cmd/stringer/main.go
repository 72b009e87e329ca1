// Stringer newsroom agent server: serves the HTTP/WebSocket API and runs
// the agent workflow pool against a file-backed store.
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
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/copydesk/stringer/pkg/api"
	"github.com/copydesk/stringer/pkg/config"
	"github.com/copydesk/stringer/pkg/events"
	"github.com/copydesk/stringer/pkg/llm"
	"github.com/copydesk/stringer/pkg/settings"
	"github.com/copydesk/stringer/pkg/store"
	"github.com/copydesk/stringer/pkg/vector"
	"github.com/copydesk/stringer/pkg/version"
	"github.com/copydesk/stringer/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveUnder roots a relative path under dir; absolute paths pass through.
func resolveUnder(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	configPath := flag.String("config",
		getEnv("STRINGER_CONFIG", "config.yaml"),
		"Path to configuration file")
	dataDir := flag.String("data-dir", "",
		"Override the data directory from the configuration")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// Load .env before configuration reads the environment.
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	} else {
		slog.Info("Loaded environment from .env")
	}

	// A missing file at the default location is fine; an explicitly named
	// file must exist.
	pathExplicit := os.Getenv("STRINGER_CONFIG") != ""
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			pathExplicit = true
		}
	})

	// 1. Resolve configuration
	cfg, err := config.Load(*configPath, pathExplicit)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	setupLogging(cfg.Logging)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		slog.Error("Failed to create data directory", "dir", cfg.Storage.DataDir, "error", err)
		os.Exit(1)
	}

	slog.Info("Starting stringer",
		"version", version.Full(),
		"addr", cfg.Server.Addr(),
		"data_dir", cfg.Storage.DataDir)

	// 2. Settings document
	settingsStore := settings.NewStore(filepath.Join(cfg.Storage.DataDir, "settings.json"))
	if err := settingsStore.Load(); err != nil {
		slog.Error("Failed to load settings", "error", err)
		os.Exit(1)
	}

	// 3. Agent roster (mid-flight statuses from a previous run reload as created)
	agentStore := store.NewStore(filepath.Join(cfg.Storage.DataDir, "agents.json"))
	if err := agentStore.Load(); err != nil {
		slog.Error("Failed to load agent store", "error", err)
		os.Exit(1)
	}
	slog.Info("Agent store loaded", "agents", agentStore.Count())

	// 4. Event fan-out
	bus := events.NewBus()
	publisher := events.NewPublisher(bus)
	connManager := events.NewConnectionManager(bus, 10*time.Second)

	// 5. Vector retrieval. Index geometry and the embedding endpoint bind
	// here; settings changes to them take effect on the next start.
	rcfg := settingsStore.GetRetrievalConfig()
	index := vector.NewIndex(rcfg.Dimension, vector.MetricInnerProduct,
		resolveUnder(cfg.Storage.DataDir, rcfg.IndexPath),
		resolveUnder(cfg.Storage.DataDir, rcfg.MetadataPath))
	if err := index.LoadOrCreate(); err != nil {
		slog.Error("Failed to load vector index", "error", err)
		os.Exit(1)
	}
	// Embedding auth stays in the environment; settings.json is readable
	// through the API.
	embedder, err := vector.NewEmbedder(vector.EmbedderConfig{
		BaseURL:   rcfg.EmbeddingURL,
		Model:     rcfg.EmbeddingModel,
		APIKey:    os.Getenv("STRINGER_EMBEDDING_API_KEY"),
		Dimension: rcfg.Dimension,
	})
	if err != nil {
		slog.Error("Failed to initialize embedder", "error", err)
		os.Exit(1)
	}
	retriever := vector.NewRetriever(index, embedder, settingsStore, publisher)
	slog.Info("Vector index ready",
		"documents", index.Count(),
		"dimension", index.Dimension(),
		"enabled", rcfg.Enabled)

	// 6. LLM client
	llmClient := llm.NewClient(settingsStore, publisher, cfg.Workflow.MaxConcurrentLLMCalls)

	// 7. Workflow pool
	pool := workflow.New(agentStore, settingsStore, llmClient, retriever, publisher, cfg.Workflow)

	// 8. Start HTTP server (non-blocking)
	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: api.New(agentStore, settingsStore, pool, retriever, index, llmClient, connManager).Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: drain the pool, then close sockets.
	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Workflow pool stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Workflow pool shutdown timeout exceeded; interrupted runs reload as created")
	}

	connManager.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
