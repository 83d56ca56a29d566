package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"go-relay/internal/metrics"
	"go-relay/internal/moderation"
)

// Reviewer decides what happens to a chat message before it is relayed.
// *moderation.Gate is the production implementation.
type Reviewer interface {
	Review(ctx context.Context, text string) moderation.Decision
}

// Listener observes chat events after they have been broadcast.
// OnChat runs on the sender's goroutine and must not block.
type Listener interface {
	OnChat(ev ChatEvent)
}

// readPump pumps frames from the websocket connection to the hub until the
// connection closes, then tears the member down.
func (c *Client) readPump() {
	defer c.hub.disconnect(c)

	c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Info().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		c.hub.handleFrame(c, message)
	}
}

// handleFrame processes one inbound frame. Bad frames are dropped and a panic
// is contained to the frame that caused it.
func (h *Hub) handleFrame(c *Client, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("recovered while handling frame")
		}
	}()

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.metrics.FramesDropped.WithLabelValues(metrics.DropMalformed).Inc()
		c.log.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	switch frame.Type {
	case FrameChat:
		h.handleChat(c, frame.Text)
	default:
		h.metrics.FramesDropped.WithLabelValues(metrics.DropUnknownType).Inc()
		c.log.Debug().Str("type", frame.Type).Msg("ignoring frame")
	}
}

func (h *Hub) handleChat(c *Client, text string) {
	if strings.TrimSpace(text) == "" {
		h.metrics.FramesDropped.WithLabelValues(metrics.DropMalformed).Inc()
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		h.metrics.FramesDropped.WithLabelValues(metrics.DropRateLimited).Inc()
		c.log.Debug().Msg("chat rate limit exceeded")
		return
	}

	ev := ChatEvent{
		ID:         newID(),
		Text:       text,
		SenderID:   c.ID,
		SenderName: c.Pseudonym,
		Timestamp:  time.Now().UnixMilli(),
		RoomID:     c.RoomID,
	}

	if h.reviewer != nil {
		d := h.reviewer.Review(h.ctx, text)
		h.metrics.Moderation.WithLabelValues(d.Outcome).Inc()
		if d.Drop {
			h.metrics.FramesDropped.WithLabelValues(metrics.DropModeration).Inc()
			c.log.Info().Str("event_id", ev.ID).Str("outcome", d.Outcome).Msg("chat message withheld")
			return
		}
		ev.Text = d.Text
		ev.IsModerated = d.Moderated
		ev.ModerationAction = d.Action
	}

	if _, err := h.broadcaster.Broadcast(c.RoomID, ev); err != nil {
		c.log.Error().Err(err).Msg("broadcast chat event")
		return
	}
	h.metrics.ChatEvents.Inc()

	for _, l := range h.listeners {
		l.OnChat(ev)
	}
}
