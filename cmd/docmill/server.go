package main

import (
	"context"
	"encoding/json"
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

	"github.com/spf13/cobra"

	"github.com/docmill/docmill/internal/api"
	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/jobs"
	"github.com/docmill/docmill/internal/metrics"
	"github.com/docmill/docmill/internal/parser"
	"github.com/docmill/docmill/internal/storage"
	"github.com/docmill/docmill/internal/webhook"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the docmill server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running docmill server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docmill server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "docmill.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildRegistry(cfg config.Config) *parser.Registry {
	reg := parser.NewRegistry()
	reg.Register(parser.BackendPipeline, parser.NewPipelineBackend())
	reg.Register(parser.BackendVLMHTTP, parser.NewVLMHTTPBackend(cfg.Parse.VLMServerURL))
	reg.Register(parser.BackendVLMMLX, parser.NewVLMMLXBackend(cfg.Parse.MLXBaseURL))
	return reg
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "docmill version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})))

	// Refuse to start twice. The health probe catches a live server even
	// when a stale pid file is lying around.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("docmill is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("docmill is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	artifacts, err := storage.NewManager(
		filepath.Join(cfg.Storage.DataDir, "outputs"),
		cfg.Storage.OutputTTLHours,
		cfg.Storage.CleanupIntervalMinutes,
	)
	if err != nil {
		return fmt.Errorf("initializing artifact storage: %w", err)
	}

	registry := buildRegistry(cfg)
	notifier := webhook.NewNotifier(cfg.Webhook.TimeoutSeconds)
	orchestrator := jobs.NewOrchestrator(
		jobs.NewStore(),
		registry,
		artifacts,
		notifier,
		cfg.Jobs.MaxConcurrent,
		cfg.Storage.OutputTTLHours,
	)

	handler := api.NewHandler(api.Deps{
		Config:       cfg,
		Orchestrator: orchestrator,
		Registry:     registry,
		Metrics:      metrics.NewRecorder(0),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("docmill listening", "addr", addr, "backends", registry.Names())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// In-flight requests get a grace period; background jobs are
	// abandoned with the process, their records are in memory anyway.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("docmill is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop docmill (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to docmill (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running on port %d", cfg.Server.Port)

	var health struct {
		BackendReady map[string]bool    `json:"backend_ready"`
		Limits       map[string]int     `json:"limits"`
		Metrics      map[string]float64 `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		printError("decoding health response: %v", err)
		return nil
	}

	for name, ready := range health.BackendReady {
		state := "ready"
		if !ready {
			state = "not ready"
		}
		printStatus("Backend "+name, "%s", state)
	}
	printStatus("Active job limit", "%d", health.Limits["max_concurrent_jobs"])
	printStatus("Requests", "%.0f (%.0f failed)",
		health.Metrics["requests_total"], health.Metrics["failures_total"])
	if health.Metrics["requests_total"] > 0 {
		printStatus("Latency", "avg %.1fms, p95 %.1fms",
			health.Metrics["latency_avg_ms"], health.Metrics["latency_p95_ms"])
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
