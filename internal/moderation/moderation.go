// Package moderation provides the collaborators the relay consults before a
// chat message is broadcast.
package moderation

import (
	"context"
	"strings"
	"unicode"
)

// Verdict is a classifier's answer for one piece of text.
type Verdict struct {
	IsHarmful bool   `json:"isHarmful"`
	Reason    string `json:"reason"`
}

// Moderator classifies chat text.
type Moderator interface {
	Evaluate(ctx context.Context, text string) (Verdict, error)
}

// Keywords flags text containing any of a fixed set of words.
// Matching is case-insensitive and on whole words.
type Keywords struct {
	words map[string]struct{}
}

func NewKeywords(words []string) *Keywords {
	k := &Keywords{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			k.words[w] = struct{}{}
		}
	}
	return k
}

func (k *Keywords) Evaluate(ctx context.Context, text string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	for _, f := range fields {
		if _, ok := k.words[f]; ok {
			return Verdict{IsHarmful: true, Reason: "matched blocked term"}, nil
		}
	}
	return Verdict{}, nil
}
