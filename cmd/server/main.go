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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"go-relay/internal/app"
	"go-relay/internal/archive"
	"go-relay/internal/metrics"
	myMiddleware "go-relay/internal/middleware"
	"go-relay/internal/moderation"
	"go-relay/internal/relay"
	"go-relay/internal/server"
)

const (
	serviceName     = "chat-relay"
	shutdownTimeout = 10 * time.Second
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cliApp := &cli.App{
		Name:   serviceName,
		Usage:  "real-time multi-room chat relay",
		Flags:  relayFlags,
		Action: run,
	}
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	// 1. Config
	cfg := loadConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := app.NewLogger(cfg.Env, serviceName, app.CommitHash())

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// 2. Moderation collaborator (optional)
	reviewer, closeModeration, err := newReviewer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeModeration()

	// 3. Relay
	hub := relay.NewHub(relay.Options{
		SendQueue:       cfg.SendQueue,
		MaxMessageBytes: cfg.MaxMessageBytes,
		ChatRate:        cfg.ChatRate,
		ChatBurst:       cfg.ChatBurst,
		CheckOrigin:     server.CheckOrigin(cfg.AllowedOrigins),
		Reviewer:        reviewer,
		Metrics:         m,
		Logger:          logger,
	})

	// 4. Archive (optional). It gets its own context so it drains only after
	// the hub has stopped producing events.
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	defer stopArchive()
	var writer *archive.Writer
	if cfg.ArchiveDSN != "" {
		database, err := archive.NewDatabase(ctx, cfg.ArchiveDSN)
		if err != nil {
			return fmt.Errorf("connect archive: %w", err)
		}
		defer database.Close()
		if err := database.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("migrate archive: %w", err)
		}
		logger.Info().Msg("chat archive enabled")

		writer = archive.NewWriter(archive.NewRepository(database.Conn), archive.WriterOptions{}, logger.With().Str("component", "archive").Logger())
		hub.AddListener(writer)
	}

	// 5. Routes
	var auth *myMiddleware.AuthMiddleware
	if cfg.JWTSecret != "" {
		auth = myMiddleware.NewAuthMiddleware(myMiddleware.NewHMACValidator(cfg.JWTSecret))
		logger.Info().Msg("token gate enabled on /ws")
	}
	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: server.NewRouter(server.Deps{
			Hub:            hub,
			Metrics:        m,
			Logger:         logger,
			Auth:           auth,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	if writer != nil {
		group.Go(func() error { return writer.Run(archiveCtx) })
	}

	group.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		defer stopArchive()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// http.Server.Shutdown does not track hijacked websocket connections,
		// the hub closes those itself.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
		if err := hub.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("relay shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newReviewer builds the moderation gate for cfg. It returns a nil Reviewer
// when moderation is off.
func newReviewer(ctx context.Context, cfg app.Config, logger zerolog.Logger) (relay.Reviewer, func(), error) {
	noop := func() {}

	var mod moderation.Moderator
	switch cfg.ModerationMode {
	case app.ModerationOff:
		return nil, noop, nil
	case app.ModerationKeywords:
		mod = moderation.NewKeywords(cfg.ModerationWords)
	case app.ModerationHTTP:
		mod = moderation.NewHTTP(cfg.ModerationURL, &http.Client{Timeout: cfg.ModerationTimeout})
	}

	closeFn := noop
	if cfg.RedisAddr != "" {
		cache, err := moderation.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, noop, fmt.Errorf("connect redis: %w", err)
		}
		closeFn = func() {
			if err := cache.Close(); err != nil {
				logger.Warn().Err(err).Msg("close redis")
			}
		}
		mod = moderation.NewCached(mod, cache, cfg.ModerationTTL, logger)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("moderation verdict cache enabled")
	}

	gate, err := moderation.NewGate(mod, moderation.GateConfig{
		Timeout:    cfg.ModerationTimeout,
		FailClosed: cfg.ModerationFail == "closed",
		Action:     moderation.Action(cfg.ModerationAction),
	}, logger.With().Str("component", "moderation").Logger())
	if err != nil {
		closeFn()
		return nil, noop, err
	}
	logger.Info().Str("mode", cfg.ModerationMode).Str("fail", cfg.ModerationFail).Msg("moderation enabled")
	return gate, closeFn, nil
}
