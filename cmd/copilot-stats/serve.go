package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alecgard/copilot-stats/internal/api"
	"github.com/alecgard/copilot-stats/internal/config"
	"github.com/alecgard/copilot-stats/internal/metrics"
	"github.com/alecgard/copilot-stats/internal/pricing"
	"github.com/alecgard/copilot-stats/internal/replay"
	"github.com/alecgard/copilot-stats/internal/tool"
)

var serveFlags struct {
	logFile  string
	instance string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Tail the audit log and serve usage over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.logFile, "log-file", "", "audit log to tail (default: from config)")
	serveCmd.Flags().StringVar(&serveFlags.instance, "instance", "", "only count lines from this instance id")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	path := cfg.LogFile
	if serveFlags.logFile != "" {
		path = serveFlags.logFile
	}

	table, err := pricing.New(cfg.Multipliers)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	tailer := replay.NewTailer(path, replay.Replayer{InstanceID: serveFlags.instance, Metrics: m}, table, logger)
	m.RegisterLedgerCollector(tailer.Snapshot)

	tools, err := tool.NewRegistry(tool.Builtin(tailer)...)
	if err != nil {
		return err
	}

	go func() {
		if err := tailer.Run(ctx); err != nil {
			slog.Error("audit log tailer stopped", "path", path, "error", err)
		}
	}()

	router := api.NewRouter(api.RouterDeps{
		Tools:          tools,
		Metrics:        m,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "log_file", path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()

	return srv.Shutdown(shutdownCtx)
}
