package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"chat-relay/internal/api"
	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/middleware"
	"chat-relay/internal/tasks"
	"chat-relay/internal/upload"
)

func newServeCmd(f *flags) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the chat server (default)",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return runServer(ctx, f.Config)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Logger

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close message store")
		}
	}()

	files, err := upload.NewDiskStore(cfg.UploadDir, logger)
	if err != nil {
		return err
	}

	sweeper := tasks.NewUploadSweeper(files, cfg.UploadPartTTL, logger)
	if err := sweeper.Start(cfg.UploadSweepSchedule); err != nil {
		return err
	}
	defer sweeper.Stop()

	hub := chat.NewHub(logger)
	sessions := api.NewSessions()
	relay := chat.NewRelay(store, hub, cfg.StoreTimeout, logger)

	srv := &http.Server{
		Addr: cfg.Address(),
		Handler: api.NewRouter(api.Deps{
			Relay:          relay,
			Hub:            hub,
			Sessions:       sessions,
			Files:          files,
			Origins:        middleware.NewOriginPolicy(cfg.Origins(), logger),
			SendBuffer:     cfg.SendBuffer,
			UploadMaxBytes: cfg.UploadMaxBytes,
			PublicBaseURL:  cfg.PublicBaseURL,
			TrustProxy:     cfg.TrustProxy,
			Log:            logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", srv.Addr).Str("store", cfg.StoreDriver).Msg("chat relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received, cleaning up")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown incomplete")
	}
	// Websocket connections are hijacked and not covered by Shutdown. The
	// store is closed by a deferred call, so every session must end first.
	sessions.Close()
	hub.Close()
	if err := sessions.Wait(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("websocket sessions still running at shutdown")
	}

	logger.Info().Msg("graceful shutdown complete")
	return nil
}
