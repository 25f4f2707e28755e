package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// attachClient registers a connectionless client and returns its outgoing queue.
func attachClient(h *Hub) chan []byte {
	c := &wsClient{send: make(chan []byte, 16)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c.send
}

func nextCommand(t *testing.T, frames chan []byte) map[string]any {
	t.Helper()
	var frame []byte
	select {
	case frame = <-frames:
	default:
		t.Fatal("no frame queued")
	}

	var msg WebSocketMessage
	require.NoError(t, json.Unmarshal(frame, &msg))
	require.Equal(t, MsgPlayerCommand, msg.Type)
	var data map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	return data
}

func TestRemoteElement_ZeroValuesReachTheBrowser(t *testing.T) {
	hub := NewHub(testLogger())
	frames := attachClient(hub)
	el := hub.Element()

	require.NoError(t, el.Seek(0))
	cmd := nextCommand(t, frames)
	assert.Equal(t, "seek", cmd["command"])
	assert.Contains(t, cmd, "value")
	assert.Equal(t, float64(0), cmd["value"])

	require.NoError(t, el.SetVolume(0))
	cmd = nextCommand(t, frames)
	assert.Equal(t, "volume", cmd["command"])
	assert.Equal(t, float64(0), cmd["value"])

	require.NoError(t, el.SetMuted(false))
	cmd = nextCommand(t, frames)
	assert.Equal(t, "muted", cmd["command"])
	assert.Contains(t, cmd, "on")
	assert.Equal(t, false, cmd["on"])

	require.NoError(t, el.SetFullscreen(false))
	cmd = nextCommand(t, frames)
	assert.Equal(t, false, cmd["on"])

	require.NoError(t, el.SetRate(1.5))
	cmd = nextCommand(t, frames)
	assert.Equal(t, 1.5, cmd["value"])
}

func TestRemoteElement_CommandsWithoutArguments(t *testing.T) {
	hub := NewHub(testLogger())
	frames := attachClient(hub)

	require.NoError(t, hub.Element().Play())
	cmd := nextCommand(t, frames)
	assert.Equal(t, "play", cmd["command"])
	assert.NotContains(t, cmd, "value")
	assert.NotContains(t, cmd, "on")
}
