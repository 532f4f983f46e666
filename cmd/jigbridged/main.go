package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jiglab/jigbridge/internal/config"
	"github.com/jiglab/jigbridge/internal/daemon"
	"github.com/jiglab/jigbridge/internal/interp"
	"github.com/jiglab/jigbridge/internal/protocol"
	"github.com/jiglab/jigbridge/internal/state"
	"github.com/jiglab/jigbridge/internal/transcript"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "TOML config path")
	listenAddr := flag.String("addr", "", "listen address override")
	transcriptPath := flag.String("transcript", "", "transcript SQLite path override")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *transcriptPath != "" {
		cfg.TranscriptPath = *transcriptPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// stdout belongs to the controller protocol, so all logging goes
	// to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rec *transcript.Recorder
	if cfg.TranscriptPath != "" {
		rec, err = transcript.Open(ctx, cfg.TranscriptPath, cfg.TranscriptRedact)
		if err != nil {
			fatal(err)
		}
		rec.Logger = logger
		defer rec.Close() //nolint:errcheck
		if err := transcript.ApplyMigrations(ctx, rec.DB()); err != nil {
			fatal(err)
		}
		logger.Info("transcript recording", "path", cfg.TranscriptPath, "redact", cfg.TranscriptRedact)
	}

	store := state.NewStore()
	enc := protocol.NewEncoder(os.Stdout, rec.EncoderTap(ctx))

	in := interp.New(store, enc)
	in.Recorder = rec
	in.Logger = logger

	srv := daemon.NewServer(cfg, store, enc)
	srv.Logger = logger

	interpErr := make(chan error, 1)
	go func() {
		interpErr <- in.Run(ctx, os.Stdin)
	}()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-srv.ExitRequested():
			logger.Info("shutdown requested over http")
		case err := <-interpErr:
			switch {
			case err == nil:
				logger.Info("control stream closed")
			case errors.Is(err, interp.ErrExitRequested):
				logger.Info("controller requested exit")
			default:
				logger.Error("control stream failed", "err", err)
			}
		}
		cancel()
	}()

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "jigbridged: %v\n", err)
	os.Exit(1)
}
