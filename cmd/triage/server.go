package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/sefton37/triage/internal/api"
	"github.com/sefton37/triage/internal/classifier"
	"github.com/sefton37/triage/internal/config"
	"github.com/sefton37/triage/internal/dispatch"
	"github.com/sefton37/triage/internal/exemplar"
	"github.com/sefton37/triage/internal/learn"
	"github.com/sefton37/triage/internal/ollama"
	"github.com/sefton37/triage/internal/ops"
	"github.com/sefton37/triage/internal/ratelimit"
	"github.com/sefton37/triage/internal/router"
	"github.com/sefton37/triage/internal/storage"
	"github.com/sefton37/triage/internal/verify"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the triage server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running triage server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show triage system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

// The PID file lives next to the database so stop and status find a
// server started against the same data dir.
func pidFile(dataDir string) string {
	return filepath.Join(dataDir, "triage.pid")
}

func writePID(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, fmt.Appendf(nil, "%d", os.Getpid()), 0o644)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(bytes.TrimSpace(data)))
}

// probe issues a GET and reports the status code. The body is discarded;
// callers only care whether anything answered.
func probe(client *http.Client, url string) (int, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	})))
	slog.Info("starting triage", "version", version, "port", cfg.Server.Port)

	// Refuse to start twice. A live health endpoint on our port means
	// another instance owns it.
	httpProbe := &http.Client{Timeout: 2 * time.Second}
	pidPath := pidFile(cfg.Storage.DataDir)
	if _, err := probe(httpProbe, fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		if pid, pidErr := readPID(pidPath); pidErr == nil {
			printWarning("triage is already running (PID %d)", pid)
			return fmt.Errorf("another instance is running (PID %d)", pid)
		}
		printWarning("triage is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("another instance owns port %d", cfg.Server.Port)
	}
	if err := writePID(pidPath); err != nil {
		return fmt.Errorf("recording PID: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ollama must be reachable with both models pulled before we accept
	// any work.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.ClassifyModel, cfg.Ollama.JudgeModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening data store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	appHandler, mcpSrv, worker := buildStack(cfg, store, ollamaClient)
	go worker.Run(ctx)

	// MCP rides stdio while HTTP owns the port; both front the same
	// operations service.
	stdio := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("mcp stdio transport failed", "error", err)
		}
	}()
	slog.Info("mcp server on stdio")

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler: appHandler,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	slog.Info("triage listening", "addr", srv.Addr)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildStack wires the classify-route-verify service and both transports
// on top of an open store and a reachable Ollama.
func buildStack(cfg config.Config, store *storage.Store, client *ollama.Client) (http.Handler, *server.MCPServer, *learn.Worker) {
	completer := ollama.NewCompleter(client)
	limiter := ratelimit.NewTokenBucket(cfg.Limits.ClassifyPerMinute)
	exemplars := exemplar.NewContext(store)
	cls := classifier.New(completer, exemplars, limiter, classifier.Config{
		Model:         cfg.Ollama.ClassifyModel,
		Timeout:       cfg.Classify.Timeout(),
		ExemplarLimit: cfg.Classify.ExemplarLimit,
	})
	judge := verify.NewIntentJudge(completer, cfg.Ollama.JudgeModel, cfg.Verify.JudgeTimeout())
	pipe := verify.NewPipeline(judge, verify.Mode(cfg.Verify.Mode), cfg.Verify.LenientMinPass)
	svc := ops.NewService(store, cls, router.DefaultTable(), pipe)

	registry := dispatch.New(dispatch.Deps{
		Ops:       svc,
		Exemplars: exemplars,
		Evaluator: learn.NewEvaluator(cls),
		Store:     store,
		Version:   version,
	})
	appHandler := api.NewAppHandler(api.AppDeps{
		Ops:       svc,
		Exemplars: exemplars,
		Store:     store,
		Registry:  registry,
		Token:     cfg.API.Token,
	})
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Ops:       svc,
		Exemplars: exemplars,
	})

	// The metrics worker drains learn_metrics jobs queued by feedback
	// writes.
	worker := learn.NewWorker(store, 500*time.Millisecond)
	return appHandler, mcpSrv, worker
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pidPath := pidFile(cfg.Storage.DataDir)
	pid, err := readPID(pidPath)
	if err != nil {
		printError("triage is not running (no PID file)")
		return fmt.Errorf("no running server: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err == nil {
		err = proc.Signal(syscall.SIGTERM)
	}
	if err != nil {
		// The process is gone; clear the stale PID file.
		os.Remove(pidPath)
		printError("could not stop triage (PID %d): %v", pid, err)
		return err
	}
	printSuccess("Sent stop signal to triage (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	httpProbe := &http.Client{Timeout: 2 * time.Second}
	healthy := false
	code, err := probe(httpProbe, fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	switch {
	case err != nil:
		printStatus("Server", "not running")
	case code == http.StatusOK:
		healthy = true
		printStatus("Server", "listening on port %d", cfg.Server.Port)
	default:
		printStatus("Server", "error (HTTP %d)", code)
	}

	if _, err := probe(httpProbe, cfg.Ollama.BaseURL+"/api/version"); err != nil {
		printStatus("Ollama", "unreachable")
	} else {
		printStatus("Ollama", "serving at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Classify model", "%s", cfg.Ollama.ClassifyModel)
	printStatus("Judge model", "%s", cfg.Ollama.JudgeModel)
	printStatus("Verify mode", "%s", cfg.Verify.Mode)

	// Row counts need a live server; skip them otherwise.
	if healthy {
		apiClient := newAPIClientWith(cfg)
		if n, ok := fetchCount(ctx, apiClient, "/operations?limit=100"); ok {
			printStatus("Operations", "%s", countLabel(n, 100))
		}
		if n, ok := fetchCount(ctx, apiClient, "/corrections?limit=100"); ok {
			printStatus("Corrections", "%s", countLabel(n, 100))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// fetchCount reads a JSON array endpoint and reports its length.
func fetchCount(ctx context.Context, c *apiClient, path string) (int, bool) {
	resp, err := c.get(ctx, path)
	if err != nil {
		return 0, false
	}
	var items []json.RawMessage
	if err := decodeJSON(resp, &items); err != nil {
		return 0, false
	}
	return len(items), true
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
