package main

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedDeliveries(t *testing.T) {
	tests := []struct {
		name      string
		opts      loadOpts
		connected int
		want      int64
	}{
		{"even split", loadOpts{Rooms: 2, Messages: 3}, 4, 2 * (2 * 2 * 3)},
		{"uneven split", loadOpts{Rooms: 2, Messages: 1}, 3, 2*2 + 1*1},
		{"fewer clients than rooms", loadOpts{Rooms: 5, Messages: 2}, 2, 2 * (1 * 1 * 2)},
		{"nobody connected", loadOpts{Rooms: 3, Messages: 10}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expectedDeliveries(tt.opts, tt.connected))
		})
	}
}

func TestDialURL(t *testing.T) {
	got, err := dialURL(loadOpts{URL: "ws://localhost:8080/ws", Token: "abc"}, "load-3")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "load-3", u.Query().Get("roomId"))
	assert.Equal(t, "abc", u.Query().Get("token"))
}

func TestRoomFor(t *testing.T) {
	assert.Equal(t, "load-0", roomFor(4, 4))
	assert.Equal(t, "load-1", roomFor(5, 4))
}
