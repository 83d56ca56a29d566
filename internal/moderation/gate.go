package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Action applied to a message a Moderator judged harmful.
type Action string

const (
	ActionRedact Action = "redact"
	ActionFlag   Action = "flag"
	ActionDrop   Action = "drop"
)

// RedactedText replaces the text of redacted messages.
const RedactedText = "[message removed by moderation]"

// Outcome labels for a review, used for metrics and logs.
const (
	OutcomeClean       = "clean"
	OutcomeHarmful     = "harmful"
	OutcomeFailedOpen  = "failed_open"
	OutcomeFailedClose = "failed_closed"
)

// Decision is what the relay should do with one chat message.
type Decision struct {
	Drop      bool
	Text      string
	Moderated bool
	Action    string // reported to clients as moderationAction
	Outcome   string
}

// Gate turns verdicts into decisions. It applies a timeout to every
// evaluation and resolves collaborator failures with an explicit policy.
type Gate struct {
	mod        Moderator
	timeout    time.Duration
	failClosed bool
	action     Action
	log        zerolog.Logger
}

type GateConfig struct {
	Timeout    time.Duration
	FailClosed bool
	Action     Action
}

func NewGate(mod Moderator, cfg GateConfig, log zerolog.Logger) (*Gate, error) {
	switch cfg.Action {
	case ActionRedact, ActionFlag, ActionDrop:
	default:
		return nil, fmt.Errorf("unknown moderation action %q", cfg.Action)
	}
	return &Gate{
		mod:        mod,
		timeout:    cfg.Timeout,
		failClosed: cfg.FailClosed,
		action:     cfg.Action,
		log:        log,
	}, nil
}

// Review never returns an error: failures are folded into the decision.
func (g *Gate) Review(ctx context.Context, text string) (d Decision) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).Msg("moderator panicked")
			d = g.failure(text)
		}
	}()

	v, err := g.mod.Evaluate(ctx, text)
	if err != nil {
		g.log.Warn().Err(err).Bool("fail_closed", g.failClosed).Msg("moderation unavailable")
		return g.failure(text)
	}
	if !v.IsHarmful {
		return Decision{Text: text, Outcome: OutcomeClean}
	}

	g.log.Info().Str("reason", v.Reason).Str("action", string(g.action)).Msg("harmful message")
	switch g.action {
	case ActionDrop:
		return Decision{Drop: true, Outcome: OutcomeHarmful, Action: "dropped"}
	case ActionFlag:
		return Decision{Text: text, Moderated: true, Action: "flagged", Outcome: OutcomeHarmful}
	default:
		return Decision{Text: RedactedText, Moderated: true, Action: "redacted", Outcome: OutcomeHarmful}
	}
}

func (g *Gate) failure(text string) Decision {
	if g.failClosed {
		return Decision{Drop: true, Outcome: OutcomeFailedClose}
	}
	return Decision{Text: text, Outcome: OutcomeFailedOpen}
}
