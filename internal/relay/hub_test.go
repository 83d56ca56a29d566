package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-relay/internal/moderation"
)

const readTimeout = 2 * time.Second

func newTestHub(t *testing.T, opts Options, listeners ...Listener) (*Hub, *httptest.Server) {
	t.Helper()
	opts.Logger = zerolog.Nop()
	hub := NewHub(opts)
	for _, l := range listeners {
		hub.AddListener(l)
	}
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
	})
	return hub, srv
}

func wsURL(srv *httptest.Server, roomID string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if roomID == "" {
		return u
	}
	return u + "?" + RoomParam + "=" + url.QueryEscape(roomID)
}

func dial(t *testing.T, srv *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, roomID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type    string       `json:"type"`
	Members []MemberInfo `json:"members"`
	ChatEvent
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f), string(data))
	return f
}

func readMembers(t *testing.T, conn *websocket.Conn) []MemberInfo {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, FrameMemberList, f.Type)
	return f.Members
}

func readChat(t *testing.T, conn *websocket.Conn) ChatEvent {
	t.Helper()
	f := readFrame(t, conn)
	require.Empty(t, f.Type, "expected a chat frame")
	return f.ChatEvent
}

func sendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": FrameChat, "text": text}))
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
}

func ids(ms []MemberInfo) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestHub_TwoClientScenario(t *testing.T) {
	_, srv := newTestHub(t, Options{})

	a := dial(t, srv, "general")
	first := readMembers(t, a)
	require.Len(t, first, 1)
	idA := first[0].ID

	b := dial(t, srv, "general")
	seenByA := readMembers(t, a)
	seenByB := readMembers(t, b)
	require.Len(t, seenByA, 2)
	assert.Equal(t, seenByA, seenByB)
	assert.Equal(t, idA, seenByA[0].ID)
	idB := seenByA[1].ID

	sendChat(t, b, "hello")
	for _, conn := range []*websocket.Conn{a, b} {
		ev := readChat(t, conn)
		assert.Equal(t, "hello", ev.Text)
		assert.Equal(t, idB, ev.SenderID)
		assert.Equal(t, seenByA[1].Pseudonym, ev.SenderName)
		assert.Equal(t, "general", ev.RoomID)
		assert.NotEmpty(t, ev.ID)
		assert.InDelta(t, time.Now().UnixMilli(), ev.Timestamp, float64(5*time.Second/time.Millisecond))
		assert.False(t, ev.IsModerated)
	}

	require.NoError(t, a.Close())
	assert.Equal(t, []string{idB}, ids(readMembers(t, b)))
}

func TestHub_RejectsMissingRoom(t *testing.T) {
	hub, srv := newTestHub(t, Options{})

	for _, target := range []string{wsURL(srv, ""), wsURL(srv, "   ")} {
		_, resp, err := websocket.DefaultDialer.Dial(target, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	assert.Zero(t, hub.ConnectionCount())
	assert.Zero(t, hub.RoomCount())
}

func TestHub_RoomIsolation(t *testing.T) {
	_, srv := newTestHub(t, Options{})

	a := dial(t, srv, "r1")
	readMembers(t, a)
	c := dial(t, srv, "r2")
	readMembers(t, c)

	sendChat(t, a, "only r1")
	assert.Equal(t, "only r1", readChat(t, a).Text)
	expectSilence(t, c)
}

func TestHub_MalformedFramesAreDropped(t *testing.T) {
	_, srv := newTestHub(t, Options{})

	a := dial(t, srv, "general")
	readMembers(t, a)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing"}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","text":"   "}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`[1,2,3]`)))
	sendChat(t, a, "still here")

	assert.Equal(t, "still here", readChat(t, a).Text)
}

func TestHub_DisconnectedMemberGetsNothing(t *testing.T) {
	hub, srv := newTestHub(t, Options{})

	a := dial(t, srv, "general")
	readMembers(t, a)
	b := dial(t, srv, "general")
	readMembers(t, a)
	readMembers(t, b)

	require.NoError(t, b.Close())
	require.Len(t, readMembers(t, a), 1)

	sendChat(t, a, "after")
	assert.Equal(t, "after", readChat(t, a).Text)
	assert.Equal(t, 1, hub.ConnectionCount())
	assert.Len(t, hub.Members("general"), 1)
}

func TestHub_ConcurrentJoins(t *testing.T) {
	hub, srv := newTestHub(t, Options{})
	const n = 10

	conns := make([]*websocket.Conn, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "busy"), nil)
			if assert.NoError(t, err) {
				conns[i] = conn
			}
		}(i)
	}
	wg.Wait()

	for _, conn := range conns {
		require.NotNil(t, conn)
		defer conn.Close()
		for {
			members := readMembers(t, conn)
			seen := map[string]bool{}
			for _, m := range members {
				require.False(t, seen[m.ID], "duplicate member %s", m.ID)
				seen[m.ID] = true
			}
			if len(members) == n {
				break
			}
		}
	}
	assert.Len(t, hub.Members("busy"), n)
}

type stubReviewer struct {
	decide func(text string) moderation.Decision
}

func (s stubReviewer) Review(_ context.Context, text string) moderation.Decision {
	return s.decide(text)
}

func TestHub_ModerationAnnotatesAndDrops(t *testing.T) {
	reviewer := stubReviewer{decide: func(text string) moderation.Decision {
		switch text {
		case "rude":
			return moderation.Decision{Text: moderation.RedactedText, Moderated: true, Action: "redacted", Outcome: moderation.OutcomeHarmful}
		case "awful":
			return moderation.Decision{Drop: true, Outcome: moderation.OutcomeHarmful}
		}
		return moderation.Decision{Text: text, Outcome: moderation.OutcomeClean}
	}}
	_, srv := newTestHub(t, Options{Reviewer: reviewer})

	a := dial(t, srv, "general")
	readMembers(t, a)

	sendChat(t, a, "rude")
	ev := readChat(t, a)
	assert.Equal(t, moderation.RedactedText, ev.Text)
	assert.True(t, ev.IsModerated)
	assert.Equal(t, "redacted", ev.ModerationAction)

	sendChat(t, a, "awful")
	sendChat(t, a, "nice")
	assert.Equal(t, "nice", readChat(t, a).Text)
}

type recorder struct {
	mu     sync.Mutex
	events []ChatEvent
}

func (r *recorder) OnChat(ev ChatEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestHub_ListenersSeeBroadcastEvents(t *testing.T) {
	rec := &recorder{}
	_, srv := newTestHub(t, Options{}, rec)

	a := dial(t, srv, "general")
	readMembers(t, a)
	sendChat(t, a, "logged")
	ev := readChat(t, a)

	require.Eventually(t, func() bool { return rec.len() == 1 }, readTimeout, 10*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, ev.ID, rec.events[0].ID)
}

func TestHub_RateLimit(t *testing.T) {
	_, srv := newTestHub(t, Options{ChatRate: 0.001, ChatBurst: 2})

	a := dial(t, srv, "general")
	readMembers(t, a)
	for i := 0; i < 4; i++ {
		sendChat(t, a, fmt.Sprintf("m%d", i))
	}
	assert.Equal(t, "m0", readChat(t, a).Text)
	assert.Equal(t, "m1", readChat(t, a).Text)
	expectSilence(t, a)
}

func TestHub_Shutdown(t *testing.T) {
	hub, srv := newTestHub(t, Options{})

	a := dial(t, srv, "general")
	readMembers(t, a)
	b := dial(t, srv, "other")
	readMembers(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))

	assert.Zero(t, hub.ConnectionCount())
	assert.Zero(t, hub.RoomCount())

	a.SetReadDeadline(time.Now().Add(readTimeout))
	_, _, err := a.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "general"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_DisconnectIsIdempotent(t *testing.T) {
	hub := NewHub(Options{Logger: zerolog.Nop()})
	require.True(t, hub.admit())

	c := newClient(hub, nil, "general", 8)
	require.NoError(t, hub.connect(c))
	assert.Equal(t, 1, hub.ConnectionCount())

	hub.disconnect(c)
	hub.disconnect(c)

	assert.Zero(t, hub.ConnectionCount())
	assert.Zero(t, hub.RoomCount())
	assert.Equal(t, stateClosed, c.state.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, hub.Shutdown(ctx))
}

type panicReviewer struct{}

func (panicReviewer) Review(context.Context, string) moderation.Decision { panic("reviewer bug") }

func TestHub_FramePanicIsContained(t *testing.T) {
	hub := NewHub(Options{Logger: zerolog.Nop(), Reviewer: panicReviewer{}})
	require.True(t, hub.admit())
	c := newClient(hub, nil, "general", 8)
	require.NoError(t, hub.connect(c))

	assert.NotPanics(t, func() {
		hub.handleFrame(c, []byte(`{"type":"chat","text":"boom"}`))
	})
	assert.Equal(t, 1, hub.ConnectionCount())
	hub.disconnect(c)
}
