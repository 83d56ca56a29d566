package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait.
)

// Connection states. A connection only moves forward through them.
const (
	stateConnecting int32 = iota
	stateJoined
	stateClosing
	stateClosed
)

var (
	errClientClosed = errors.New("relay: client closed")
	errQueueFull    = errors.New("relay: outbound queue full")
)

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	ID        string
	Pseudonym string
	RoomID    string

	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames. Never closed; done signals shutdown.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeCode int

	state   atomic.Int32
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, roomID string, queue int) *Client {
	return &Client{
		RoomID: roomID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, queue),
		done:   make(chan struct{}),
		log:    zerolog.Nop(),
	}
}

func (c *Client) joined() bool { return c.state.Load() == stateJoined }

// enqueue hands msg to the write pump without blocking.
func (c *Client) enqueue(msg []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errQueueFull
	}
}

// close asks the write pump to send a close frame and drop the connection.
// Safe to call any number of times from any goroutine.
func (c *Client) close(code int) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		close(c.done)
	})
}

func (c *Client) member() MemberInfo {
	return MemberInfo{ID: c.ID, Pseudonym: c.Pseudonym}
}

// writePump pumps messages from the hub to the websocket connection.
// It is the only goroutine that writes data frames to conn.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// One frame per payload so concurrent broadcasts never interleave.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, ""))
			return
		}
	}
}
