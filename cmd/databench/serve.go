package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/databench/databench/analyses"
	"github.com/databench/databench/internal/config"
	"github.com/databench/databench/pkg/middleware"
	"github.com/databench/databench/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		host              string
		port              int
		configPath        string
		logLevel          string
		heartbeatInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the analysis server",
		Long: `Start the analysis server.

Defaults come from the built-in configuration, overridden by the
HOST and PORT environment variables, a YAML config file, and
finally command-line flags.

Examples:
  databench serve
  databench serve --port=8080
  databench serve --config=databench.yaml --log=debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, configPath, logLevel, heartbeatInterval)
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringVarP(&logLevel, "log", "l", "", "Log level (debug, info, warn, error)")
	cmd.Flags().DurationVar(&heartbeatInterval, "heartbeat-interval", 0, "WebSocket heartbeat interval")

	return cmd
}

func runServe(host string, port int, configPath, logLevel string, heartbeatInterval time.Duration) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if heartbeatInterval > 0 {
		cfg.Server.HeartbeatInterval = heartbeatInterval
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	catalog, err := analyses.NewCatalog()
	if err != nil {
		return err
	}
	if cfg.Bundle.Description != "" {
		catalog.Description = cfg.Bundle.Description
	}
	if cfg.Bundle.Author != "" {
		catalog.Author = cfg.Bundle.Author
	}
	if cfg.Bundle.Version != "" {
		catalog.Version = cfg.Bundle.Version
	}
	catalog.Seal()

	srvConfig := server.DefaultServerConfig()
	srvConfig.Address = cfg.Address()
	srvConfig.MaxSessions = cfg.Server.MaxSessions
	srvConfig.SessionConfig = &server.SessionConfig{
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		MaxMessageSize:    cfg.Server.MaxMessageSize,
		SendBuffer:        cfg.Server.SendBuffer,
	}

	srv := server.New(srvConfig, catalog, logger)
	srv.Dispatch.Use(
		middleware.Prometheus(),
		middleware.OTel(),
	)
	srv.Sessions().SetOnSessionCreate(func(*server.Session) {
		middleware.RecordSessionCreate()
	})
	srv.Sessions().SetOnSessionClose(func(*server.Session) {
		middleware.RecordSessionDestroy()
	})

	return srv.Run()
}

// newLogger builds the process logger from the log config.
func newLogger(cfg config.Log) *slog.Logger {
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
	return slog.New(handler)
}
