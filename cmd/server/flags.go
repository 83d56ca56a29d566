package main

import (
	"github.com/urfave/cli/v2"

	"go-relay/internal/app"
)

var opts = app.Default()

var relayFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "env",
		Usage:       "environment (dev or prod)",
		Value:       opts.Env,
		EnvVars:     []string{"ENV"},
		Destination: &opts.Env,
	},
	&cli.IntFlag{
		Name:        "port",
		Usage:       "port to listen on",
		Value:       opts.Port,
		EnvVars:     []string{"PORT"},
		Destination: &opts.Port,
	},
	&cli.IntFlag{
		Name:        "send-queue",
		Usage:       "outbound frames buffered per connection before it counts as a slow consumer",
		Value:       opts.SendQueue,
		EnvVars:     []string{"SEND_QUEUE"},
		Destination: &opts.SendQueue,
	},
	&cli.Int64Flag{
		Name:        "max-message-bytes",
		Usage:       "largest inbound frame accepted",
		Value:       opts.MaxMessageBytes,
		EnvVars:     []string{"MAX_MESSAGE_BYTES"},
		Destination: &opts.MaxMessageBytes,
	},
	&cli.Float64Flag{
		Name:        "chat-rate",
		Usage:       "chat frames per second per connection, 0 disables limiting",
		Value:       opts.ChatRate,
		EnvVars:     []string{"CHAT_RATE"},
		Destination: &opts.ChatRate,
	},
	&cli.IntFlag{
		Name:        "chat-burst",
		Usage:       "chat frames a connection may send in a burst",
		Value:       opts.ChatBurst,
		EnvVars:     []string{"CHAT_BURST"},
		Destination: &opts.ChatBurst,
	},
	&cli.StringSliceFlag{
		Name:    "allowed-origins",
		Usage:   "origins allowed to connect, * for any",
		Value:   cli.NewStringSlice(opts.AllowedOrigins...),
		EnvVars: []string{"ALLOWED_ORIGINS"},
	},

	&cli.StringFlag{
		Name:        "moderation-mode",
		Usage:       "off, keywords or http",
		Value:       opts.ModerationMode,
		EnvVars:     []string{"MODERATION_MODE"},
		Destination: &opts.ModerationMode,
	},
	&cli.StringFlag{
		Name:        "moderation-url",
		Usage:       "classifier endpoint used by the http moderation mode",
		EnvVars:     []string{"MODERATION_URL"},
		Destination: &opts.ModerationURL,
	},
	&cli.DurationFlag{
		Name:        "moderation-timeout",
		Usage:       "deadline for one moderation call",
		Value:       opts.ModerationTimeout,
		EnvVars:     []string{"MODERATION_TIMEOUT"},
		Destination: &opts.ModerationTimeout,
	},
	&cli.StringFlag{
		Name:        "moderation-fail",
		Usage:       "open broadcasts unmoderated when moderation fails, closed drops the message",
		Value:       opts.ModerationFail,
		EnvVars:     []string{"MODERATION_FAIL"},
		Destination: &opts.ModerationFail,
	},
	&cli.StringFlag{
		Name:        "moderation-action",
		Usage:       "redact, flag or drop harmful messages",
		Value:       opts.ModerationAction,
		EnvVars:     []string{"MODERATION_ACTION"},
		Destination: &opts.ModerationAction,
	},
	&cli.StringSliceFlag{
		Name:    "moderation-words",
		Usage:   "word list for the keywords moderation mode",
		EnvVars: []string{"MODERATION_WORDS"},
	},
	&cli.DurationFlag{
		Name:        "moderation-cache-ttl",
		Usage:       "how long cached verdicts live in redis",
		Value:       opts.ModerationTTL,
		EnvVars:     []string{"MODERATION_CACHE_TTL"},
		Destination: &opts.ModerationTTL,
	},

	&cli.StringFlag{
		Name:        "redis-addr",
		Usage:       "redis address for the moderation verdict cache, empty disables it",
		EnvVars:     []string{"REDIS_ADDR"},
		Destination: &opts.RedisAddr,
	},
	&cli.IntFlag{
		Name:        "redis-db",
		Usage:       "redis database number",
		EnvVars:     []string{"REDIS_DB"},
		Destination: &opts.RedisDB,
	},
	&cli.StringFlag{
		Name:        "archive-dsn",
		Usage:       "postgres DSN for the chat archive, empty disables it",
		EnvVars:     []string{"ARCHIVE_DSN", "DB_DSN"},
		Destination: &opts.ArchiveDSN,
	},
	&cli.StringFlag{
		Name:        "jwt-secret",
		Usage:       "HS256 secret; when set /ws requires a bearer token",
		EnvVars:     []string{"JWT_SECRET"},
		Destination: &opts.JWTSecret,
	},
}

// loadConfig completes opts with the values urfave/cli cannot bind directly.
func loadConfig(c *cli.Context) app.Config {
	cfg := opts
	cfg.AllowedOrigins = c.StringSlice("allowed-origins")
	cfg.ModerationWords = c.StringSlice("moderation-words")
	return cfg
}
