package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vctt94/bisonbotkit/logging"

	"pongarena/server"
)

const (
	releaseVersion = "0.1.0"
)

func serve(ctx context.Context, cfg *Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logFile := ""
	if cfg.logDir != "" {
		logFile = filepath.Join(cfg.logDir, "pongarena.log")
	}
	bknd, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        logFile,
		DebugLevel:     cfg.debugLevel,
		MaxLogFiles:    10,
		MaxBufferLines: 1000,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	srv, err := server.NewServer(ctx, server.Config{
		ListenAddr:    cfg.listenAddr(),
		MaxSessions:   cfg.maxSessions,
		TickInterval:  cfg.tickInterval(),
		QueueTimeout:  cfg.queueTimeout,
		GracePeriod:   cfg.gracePeriod,
		PostgresDSN:   cfg.postgresDSN,
		TournamentURL: cfg.tournamentURL,
		LogBackend:    bknd,
	})
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

func main() {
	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}
