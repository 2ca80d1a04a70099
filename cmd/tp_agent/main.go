package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tubeprompt/internal/agent"
	"github.com/dgnsrekt/tubeprompt/internal/api"
	"github.com/dgnsrekt/tubeprompt/internal/cdpcontrol"
	"github.com/dgnsrekt/tubeprompt/internal/config"
	"github.com/dgnsrekt/tubeprompt/internal/events"
	"github.com/dgnsrekt/tubeprompt/internal/lookup"
	"github.com/dgnsrekt/tubeprompt/internal/netutil"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load agent config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("tp_agent config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"tab_url_filter", cfg.TabURLFilter,
		"eval_timeout_ms", cfg.EvalTimeout.Milliseconds(),
		"inject_attempts", cfg.InjectAttempts,
		"inject_interval_ms", cfg.InjectInterval.Milliseconds(),
		"repair_per_second", cfg.RepairPerSecond,
		"feed_mode", cfg.FeedMode,
		"lookup_file", cfg.LookupFile,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	tables, err := lookup.Load(cfg.LookupFile)
	if err != nil {
		slog.Error("failed to load lookup tables", "path", cfg.LookupFile, "error", err)
		os.Exit(1)
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	cdpClient := cdpcontrol.NewClient(cfg.CDPURL(), cfg.TabURLFilter, cfg.EvalTimeout)
	if err := cdpClient.Connect(context.Background()); err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cdpClient.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	broker := events.NewBroker()
	opts := agent.OptionsFromConfig(cfg, tables)
	opts.Events = broker
	svc := agent.NewService(cdpClient, opts)
	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc, broker), ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		if err := svc.Run(ctx, cfg.TabSyncInterval); err != nil {
			slog.Error("tp_agent tab sync stopped", "error", err)
		}
	}()

	go func() {
		slog.Info("tp_agent listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("tp_agent server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("tp_agent shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("tp_agent shutdown failed", "error", err)
	}
	<-agentDone
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
