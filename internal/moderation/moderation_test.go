package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywords_Evaluate(t *testing.T) {
	k := NewKeywords([]string{"Hate", "  ", "kill"})

	tests := []struct {
		text    string
		harmful bool
	}{
		{"hello there", false},
		{"I HATE mondays", true},
		{"skill issue", false},
		{"kill, then stop", true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			v, err := k.Evaluate(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.harmful, v.IsHarmful)
		})
	}
}

func TestKeywords_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewKeywords(nil).Evaluate(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTP_Evaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req evaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(Verdict{IsHarmful: req.Text == "bad", Reason: "test"})
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, srv.Client())

	v, err := h.Evaluate(context.Background(), "bad")
	require.NoError(t, err)
	assert.True(t, v.IsHarmful)
	assert.Equal(t, "test", v.Reason)

	v, err = h.Evaluate(context.Background(), "fine")
	require.NoError(t, err)
	assert.False(t, v.IsHarmful)
}

func TestHTTP_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, srv.Client()).Evaluate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

type stubModerator struct {
	verdict Verdict
	err     error
	delay   time.Duration
	calls   int
	mu      sync.Mutex
}

func (s *stubModerator) Evaluate(ctx context.Context, _ string) (Verdict, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Verdict{}, ctx.Err()
		}
	}
	return s.verdict, s.err
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	b, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func TestCached_HitsInnerOnce(t *testing.T) {
	inner := &stubModerator{verdict: Verdict{IsHarmful: true, Reason: "r"}}
	c := NewCached(inner, &memCache{data: map[string][]byte{}}, time.Minute, zerolog.Nop())

	for i := 0; i < 3; i++ {
		v, err := c.Evaluate(context.Background(), "same text")
		require.NoError(t, err)
		assert.True(t, v.IsHarmful)
	}
	assert.Equal(t, 1, inner.calls)
}

func TestCached_BrokenCacheFallsThrough(t *testing.T) {
	inner := &stubModerator{verdict: Verdict{}}
	c := NewCached(inner, &memCache{data: map[string][]byte{}, err: errors.New("down")}, time.Minute, zerolog.Nop())

	_, err := c.Evaluate(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.Evaluate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestGate_Review(t *testing.T) {
	harmful := &stubModerator{verdict: Verdict{IsHarmful: true, Reason: "abuse"}}
	clean := &stubModerator{}
	broken := &stubModerator{err: errors.New("boom")}

	tests := []struct {
		name string
		mod  Moderator
		cfg  GateConfig
		want Decision
	}{
		{"clean passes", clean, GateConfig{Action: ActionRedact},
			Decision{Text: "hi", Outcome: OutcomeClean}},
		{"redact", harmful, GateConfig{Action: ActionRedact},
			Decision{Text: RedactedText, Moderated: true, Action: "redacted", Outcome: OutcomeHarmful}},
		{"flag", harmful, GateConfig{Action: ActionFlag},
			Decision{Text: "hi", Moderated: true, Action: "flagged", Outcome: OutcomeHarmful}},
		{"drop", harmful, GateConfig{Action: ActionDrop},
			Decision{Drop: true, Action: "dropped", Outcome: OutcomeHarmful}},
		{"fail open", broken, GateConfig{Action: ActionRedact},
			Decision{Text: "hi", Outcome: OutcomeFailedOpen}},
		{"fail closed", broken, GateConfig{Action: ActionRedact, FailClosed: true},
			Decision{Drop: true, Outcome: OutcomeFailedClose}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGate(tt.mod, tt.cfg, zerolog.Nop())
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Review(context.Background(), "hi"))
		})
	}
}

func TestGate_TimeoutUsesPolicy(t *testing.T) {
	slow := &stubModerator{delay: time.Second}
	g, err := NewGate(slow, GateConfig{Timeout: 20 * time.Millisecond, FailClosed: true, Action: ActionRedact}, zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	d := g.Review(context.Background(), "hi")
	assert.True(t, d.Drop)
	assert.Equal(t, OutcomeFailedClose, d.Outcome)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

type panicModerator struct{}

func (panicModerator) Evaluate(context.Context, string) (Verdict, error) { panic("classifier bug") }

func TestGate_RecoversModeratorPanic(t *testing.T) {
	g, err := NewGate(panicModerator{}, GateConfig{Action: ActionRedact}, zerolog.Nop())
	require.NoError(t, err)
	d := g.Review(context.Background(), "hi")
	assert.Equal(t, Decision{Text: "hi", Outcome: OutcomeFailedOpen}, d)
}

func TestNewGate_UnknownAction(t *testing.T) {
	_, err := NewGate(&stubModerator{}, GateConfig{Action: "yell"}, zerolog.Nop())
	assert.Error(t, err)
}
