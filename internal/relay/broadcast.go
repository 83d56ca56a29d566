package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-relay/internal/metrics"
)

// Broadcaster fans payloads out to the members of a room.
//
// Delivery happens under the room lock, so every member observes the
// broadcasts of one room in the same order and a member that has left is
// never sent to. Sends never block: each member has its own bounded queue
// and a member whose queue is full is disconnected as a slow consumer.
type Broadcaster struct {
	rooms    *Directory
	registry *Registry
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewBroadcaster(rooms *Directory, registry *Registry, m *metrics.Metrics, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{rooms: rooms, registry: registry, metrics: m, log: log}
}

// Broadcast marshals payload once and queues it for every open member of roomID.
// It returns the number of members the payload was queued for; an empty room is a no-op.
func (b *Broadcaster) Broadcast(roomID string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal broadcast: %w", err)
	}

	var n int
	b.rooms.withRoom(roomID, func(members []*Client) {
		n = b.deliver(members, data)
	})
	return n, nil
}

// AnnounceMembers sends roomID's current roster to everyone in it. The roster
// is computed and delivered under the same lock, so each member sees snapshots
// in membership order.
func (b *Broadcaster) AnnounceMembers(roomID string) {
	b.rooms.withRoom(roomID, func(members []*Client) {
		if len(members) == 0 {
			return
		}
		data, err := json.Marshal(newMemberList(b.roster(roomID, members)))
		if err != nil {
			b.log.Error().Err(err).Str("room_id", roomID).Msg("marshal member list")
			return
		}
		b.deliver(members, data)
	})
}

// Roster returns the membership snapshot of roomID.
func (b *Broadcaster) Roster(roomID string) []MemberInfo {
	var out []MemberInfo
	b.rooms.withRoom(roomID, func(members []*Client) {
		out = b.roster(roomID, members)
	})
	if out == nil {
		out = []MemberInfo{}
	}
	return out
}

// roster must be called under the room lock.
func (b *Broadcaster) roster(roomID string, members []*Client) []MemberInfo {
	out := make([]MemberInfo, 0, len(members))
	for _, c := range members {
		if !c.joined() {
			continue
		}
		if _, ok := b.registry.Get(c.ID); !ok {
			b.log.Warn().Str("room_id", roomID).Str("member_id", c.ID).Msg("member in directory but not in registry")
			continue
		}
		out = append(out, c.member())
	}
	return out
}

// deliver must be called under the room lock.
func (b *Broadcaster) deliver(members []*Client, data []byte) int {
	var n int
	for _, c := range members {
		if !c.joined() {
			continue
		}
		switch err := c.enqueue(data); {
		case err == nil:
			n++
		case errors.Is(err, errQueueFull):
			b.metrics.SlowDisconnects.Inc()
			c.log.Warn().Msg("outbound queue full, disconnecting slow consumer")
			c.close(websocket.CloseTryAgainLater)
		}
		// errClientClosed: torn down between snapshot and send, expected.
	}
	b.metrics.Deliveries.Add(float64(n))
	return n
}
