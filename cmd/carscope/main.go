package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/carscope/carscope/internal/api"
	"github.com/carscope/carscope/internal/config"
	"github.com/carscope/carscope/internal/housekeeping"
	carmcp "github.com/carscope/carscope/internal/mcp"
	"github.com/carscope/carscope/internal/realtime"
	"github.com/carscope/carscope/internal/search"
	"github.com/carscope/carscope/internal/store"
	"github.com/carscope/carscope/internal/task"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("carscope %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: carscope <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the Carscope server\n")
	fmt.Fprintf(os.Stderr, "  check     Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  version   Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting carscope",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- SQLite Store ---
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "path", cfg.Database.Path)

	// --- Realtime subsystem ---
	reg := realtime.NewRegistry(cfg.Realtime.WriteTimeout)
	disp := realtime.NewDispatcher(reg)
	disp.Start()
	defer disp.Stop()

	msgHandler := realtime.NewMessageHandler(reg)

	// --- Search pipeline ---
	sources := make([]search.Source, 0, len(cfg.Search.Sources))
	for _, name := range cfg.Search.Sources {
		sources = append(sources, search.NewCatalogSource(name, nil))
	}
	agg := search.NewAggregator(cfg.Search.PerSourceTimeout, sources...)
	pipeline := search.NewPipeline(agg, store.NewSaver(db))

	// --- Orchestrator ---
	orch := task.NewOrchestrator(pipeline, disp, reg, cfg.Realtime.TaskTimeout)

	// --- Housekeeping ---
	janitor := housekeeping.NewScheduler(reg, orch, db, housekeeping.Options{
		PingInterval:    cfg.Realtime.PingInterval,
		CleanupInterval: cfg.Realtime.CleanupInterval,
		TaskMaxAge:      cfg.Realtime.TaskMaxAge,
		StoreRetention:  time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour,
	})
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("starting housekeeping: %w", err)
	}
	defer janitor.Stop()

	// --- HTTP Router ---
	srv := api.NewServer(reg, disp, msgHandler, orch, db)
	r := srv.Routes()

	// --- MCP Server ---
	if cfg.MCP.Enabled {
		mcpSrv := carmcp.NewServer(&carmcp.Deps{
			Orchestrator: orch,
			History:      db,
			Version:      version,
		})
		r.Handle("/mcp", mcpserver.NewStreamableHTTPServer(mcpSrv))
	}

	// --- HTTP Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("carscope is ready", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return httpSrv.Shutdown(shutdownCtx)
}
