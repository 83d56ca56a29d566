package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"go-relay/internal/metrics"
)

// ErrMissingRoom is returned for connection requests without a roomId.
var ErrMissingRoom = errors.New("relay: roomId query parameter required")

// RoomParam is the query parameter carrying the target room.
const RoomParam = "roomId"

type Options struct {
	SendQueue       int
	MaxMessageBytes int64
	ChatRate        float64 // chat frames per second; <= 0 disables limiting
	ChatBurst       int

	// CheckOrigin is handed to the websocket upgrader; nil allows every origin.
	CheckOrigin func(r *http.Request) bool

	Reviewer Reviewer
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// Hub accepts connections, wires them into the registry and directory, and
// tears them down again. It owns all relay state; nothing is global.
type Hub struct {
	opts        Options
	registry    *Registry
	rooms       *Directory
	broadcaster *Broadcaster
	reviewer    Reviewer
	listeners   []Listener
	upgrader    websocket.Upgrader
	metrics     *metrics.Metrics
	log         zerolog.Logger

	// ctx is cancelled on Shutdown so in-flight moderation calls stop early.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup // one per accepted connection, done after teardown
}

func NewHub(opts Options) *Hub {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 4096
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	registry := NewRegistry()
	rooms := NewDirectory()
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		opts:        opts,
		registry:    registry,
		rooms:       rooms,
		broadcaster: NewBroadcaster(rooms, registry, opts.Metrics, opts.Logger),
		reviewer:    opts.Reviewer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		metrics: opts.Metrics,
		log:     opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddListener registers l for chat events. Call it before serving.
func (h *Hub) AddListener(l Listener) {
	h.listeners = append(h.listeners, l)
}

// Members returns the current roster of roomID.
func (h *Hub) Members(roomID string) []MemberInfo {
	return h.broadcaster.Roster(roomID)
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int { return h.registry.Len() }

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int { return h.rooms.Len() }

// roomFromRequest extracts the target room from the upgrade request.
func roomFromRequest(r *http.Request) (string, error) {
	roomID := strings.TrimSpace(r.URL.Query().Get(RoomParam))
	if roomID == "" {
		return "", ErrMissingRoom
	}
	return roomID, nil
}

// ServeWs handles websocket requests from the peer.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomFromRequest(r)
	if err != nil {
		h.metrics.RejectedUpgrades.Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.admit() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied with an HTTP error
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		h.wg.Done()
		return
	}

	client := newClient(h, conn, roomID, h.opts.SendQueue)
	if h.opts.ChatRate > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(h.opts.ChatRate), max(h.opts.ChatBurst, 1))
	}

	if err := h.connect(client); err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("connect failed")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""))
		conn.Close()
		h.wg.Done()
		return
	}

	go client.writePump()
	go client.readPump()

	// Shutdown may have snapshotted the registry before we registered.
	if h.isClosed() {
		client.close(websocket.CloseGoingAway)
	}
}

func (h *Hub) admit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// connect runs register → join → announce for a freshly upgraded client.
func (h *Hub) connect(c *Client) error {
	if _, err := h.registry.Register(c); err != nil {
		return err
	}
	c.log = h.log.With().Str("member_id", c.ID).Str("room_id", c.RoomID).Logger()

	c.state.Store(stateJoined)
	if err := h.rooms.Join(c.RoomID, c); err != nil {
		c.state.Store(stateClosed)
		h.registry.Unregister(c.ID)
		return err
	}

	h.metrics.Connections.Inc()
	h.metrics.Rooms.Set(float64(h.rooms.Len()))
	c.log.Info().Str("pseudonym", c.Pseudonym).Msg("member joined")

	h.broadcaster.AnnounceMembers(c.RoomID)
	return nil
}

// disconnect tears a member down exactly once, however often it is called.
func (h *Hub) disconnect(c *Client) {
	if !c.state.CompareAndSwap(stateJoined, stateClosing) {
		return
	}

	h.rooms.Leave(c.RoomID, c.ID)
	h.registry.Unregister(c.ID)
	h.metrics.Connections.Dec()
	h.metrics.Rooms.Set(float64(h.rooms.Len()))

	h.broadcaster.AnnounceMembers(c.RoomID)

	c.close(websocket.CloseNormalClosure)
	c.state.Store(stateClosed)
	c.log.Info().Msg("member left")
	h.wg.Done()
}

// Shutdown closes every open connection and waits until all of them have been
// torn down or ctx expires. New connections are refused from the first call.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	clients := h.registry.Snapshot()
	h.log.Info().Int("connections", len(clients)).Msg("closing relay connections")
	for _, c := range clients {
		c.close(websocket.CloseGoingAway)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
