package app

import (
	"errors"
	"fmt"
	"time"
)

// Moderation modes.
const (
	ModerationOff      = "off"
	ModerationKeywords = "keywords"
	ModerationHTTP     = "http"
)

type Config struct {
	Env  string
	Port int

	// Relay
	SendQueue       int
	MaxMessageBytes int64
	ChatRate        float64 // chat frames per second per connection
	ChatBurst       int
	AllowedOrigins  []string

	// Moderation collaborator
	ModerationMode    string
	ModerationURL     string
	ModerationTimeout time.Duration
	ModerationFail    string // "open" or "closed"
	ModerationAction  string // "redact", "flag" or "drop"
	ModerationWords   []string
	ModerationTTL     time.Duration

	// Optional backing services
	RedisAddr  string
	RedisDB    int
	ArchiveDSN string
	JWTSecret  string
}

// Default returns the configuration used when no flag or env var overrides a value.
func Default() Config {
	return Config{
		Env:               "dev",
		Port:              8080,
		SendQueue:         256,
		MaxMessageBytes:   4096,
		ChatRate:          5,
		ChatBurst:         10,
		AllowedOrigins:    []string{"*"},
		ModerationMode:    ModerationOff,
		ModerationTimeout: 2 * time.Second,
		ModerationFail:    "open",
		ModerationAction:  "redact",
		ModerationTTL:     10 * time.Minute,
	}
}

// Addr is the listen address derived from Port.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.SendQueue <= 0 {
		errs = append(errs, errors.New("send queue must be positive"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("max message bytes must be positive"))
	}
	switch c.ModerationMode {
	case ModerationOff, ModerationKeywords:
	case ModerationHTTP:
		if c.ModerationURL == "" {
			errs = append(errs, errors.New("moderation url required when moderation mode is http"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown moderation mode %q", c.ModerationMode))
	}
	if c.ModerationFail != "open" && c.ModerationFail != "closed" {
		errs = append(errs, fmt.Errorf("moderation failure policy must be open or closed, got %q", c.ModerationFail))
	}
	switch c.ModerationAction {
	case "redact", "flag", "drop":
	default:
		errs = append(errs, fmt.Errorf("unknown moderation action %q", c.ModerationAction))
	}
	return errors.Join(errs...)
}
