package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shravanasati/restserver/internal/config"
	"github.com/shravanasati/restserver/internal/logger"
	"github.com/shravanasati/restserver/internal/metrics"
	"github.com/shravanasati/restserver/middleware"
	"github.com/shravanasati/restserver/server"
)

const shutdownTimeout = 10 * time.Second

// flagBindings maps flag names to config keys.
var flagBindings = map[string]string{
	"host":       "server.host",
	"port":       "server.port",
	"workers":    "server.workers",
	"queue":      "server.queue_limit",
	"static":     "static.dir",
	"log-level":  "log.level",
	"log-format": "log.format",
	"color":      "log.color",
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Long: `Start the server and block until SIGINT or SIGTERM.

Settings are read from defaults, then the --config file, then RESTSERVER_
environment variables (RESTSERVER_SERVER__PORT=9000), then flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, config.FlagValues(cmd.Flags(), flagBindings))
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringP("host", "H", server.DefaultHost, "Host to bind to")
	cmd.Flags().IntP("port", "p", server.DefaultPort, "Port to listen on (0 picks a free port)")
	cmd.Flags().IntP("workers", "w", server.DefaultWorkers, "Number of requests handled at once")
	cmd.Flags().Int("queue", server.DefaultQueueLimit, "Requests allowed to wait for a worker")
	cmd.Flags().String("static", "", "Directory served for targets without a route")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
	cmd.Flags().Bool("color", false, "Colored access log on stdout")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	printBanner()

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	sc := cfg.Server
	sc.Logger = log
	sc.Metrics = m
	srv := server.New(sc)

	if cfg.Log.Color {
		srv.Use(middleware.LoggingColored(os.Stdout))
	} else {
		srv.Use(middleware.Logging(log))
	}
	if m != nil {
		srv.Use(middleware.Metrics(m))
	}

	if err := registerRoutes(srv, cfg, m); err != nil {
		return err
	}

	log.Info("using address", "host", sc.Host, "port", sc.Port)
	if err := srv.StartListening(sc.Workers); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
