package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/wsreplay/internal/archive"
	"github.com/snarg/wsreplay/internal/catalog"
	"github.com/snarg/wsreplay/internal/config"
	"github.com/snarg/wsreplay/internal/hash"
	"github.com/snarg/wsreplay/internal/server"
	"github.com/snarg/wsreplay/internal/session"
)

var version = "dev"

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.Mode, "mode", "", "session mode for the default session (passthrough, record, playback)")
	flag.StringVar(&overrides.HTTPAddr, "port", "", "listen address, e.g. :8080")
	flag.StringVar(&overrides.SocketPath, "socket", "", "UNIX socket path to listen on")
	flag.StringVar(&overrides.UpstreamURL, "upstream", "", "platform websocket URL for passthrough/record")
	flag.StringVar(&overrides.RecordingPath, "recording-path", "", "recording file for the default session")
	flag.StringVar(&overrides.BaseRecordingDir, "base-recording-dir", "", "directory holding recordings")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Error().Err(err).Msg("failed to load config")
		os.Exit(2)
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("mode", cfg.Mode).Msg("wsreplay starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Recording catalog
	cat := catalog.New(cfg.BaseRecordingDir, log)
	if err := cat.Start(); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.BaseRecordingDir).Msg("failed to start recording catalog")
	}
	defer cat.Stop()

	// Optional S3 archival
	var archiver session.Archiver = session.NopArchiver{}
	if cfg.S3Bucket != "" {
		store, err := archive.NewS3Store(archive.Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build s3 store")
		}
		headCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := store.HeadBucket(headCtx); err != nil {
			cancel()
			log.Fatal().Err(err).Str("bucket", cfg.S3Bucket).Msg("s3 bucket check failed")
		}
		cancel()
		uploader := archive.NewUploader(store, cfg.ArchiveQueueSize, log)
		uploader.Start(2)
		defer uploader.Stop()
		archiver = uploader
		log.Info().Str("bucket", cfg.S3Bucket).Msg("recording archival enabled")
	}

	// Sessions
	sessions := session.NewRegistry(cfg.BaseRecordingDir, hash.New(cfg.Normalize), archiver, log)

	// Default session from the process mode, so a program can connect
	// without a control round trip first.
	if cfg.Mode != "" {
		mode, _ := session.ParseMode(cfg.Mode)
		if _, err := sessions.Create(ctx, session.Options{
			ID:            "default",
			Mode:          mode,
			RecordingPath: cfg.RecordingPath,
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to create default session")
		}
	}

	// Server
	srv := server.New(server.Options{
		HTTPAddr:    cfg.HTTPAddr,
		SocketPath:  cfg.SocketPath,
		UpstreamURL: cfg.UpstreamURL,
		IdleTimeout: cfg.IdleTimeout,
		Version:     version,
	}, sessions, cat, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}

	// Graceful shutdown with 10s timeout; session close flushes any
	// in-progress recordings before the process exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	sessions.CloseAll()

	log.Info().Msg("wsreplay stopped")
}
