package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/highlightr/highlightr-agent/internal/player"
	"github.com/highlightr/highlightr-agent/internal/workflow"
)

// Message types exchanged on /events.
const (
	MsgSession       = "session"
	MsgPlayerCommand = "player.command"
	MsgElementEvent  = "element.event"
	MsgPointer       = "pointer"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsSendBuffer = 64
	wsReadLimit  = 64 << 10
)

// WebSocketMessage is the envelope of every frame on /events.
type WebSocketMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// PlayerCommand tells the browser element what to do. Value and On are pointers so that
// seek 0, volume 0 and muted false still carry their field.
type PlayerCommand struct {
	Command string   `json:"command"`
	Source  string   `json:"source,omitempty"`
	Value   *float64 `json:"value,omitempty"`
	On      *bool    `json:"on,omitempty"`
}

// PointerMessage reports pointer activity over the player.
type PointerMessage struct {
	Action string `json:"action"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session events out to every connected UI and routes element events from the
// browser back to the player.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	element  *RemoteElement

	mu        sync.Mutex
	clients   map[*wsClient]struct{}
	onPointer func(left bool)
}

// NewHub accepts WebSocket handshakes from localhost and the extra origins given.
func NewHub(logger *slog.Logger, origins ...string) *Hub {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	h := &Hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || isAllowedOrigin(origin) || allowed[origin]
		},
	}
	h.element = &RemoteElement{hub: h, subs: make(map[int]func(player.Event))}
	return h
}

// Element is the browser media element driven through this hub.
func (h *Hub) Element() *RemoteElement {
	return h.element
}

// OnPointer registers the pointer activity handler.
func (h *Hub) OnPointer(fn func(left bool)) {
	h.mu.Lock()
	h.onPointer = fn
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// PublishSession pushes a session event to every client.
func (h *Hub) PublishSession(ev workflow.Event) {
	h.broadcast(MsgSession, ev)
}

func (h *Hub) broadcast(msgType string, payload any) {
	frame, err := encodeMessage(msgType, payload)
	if err != nil {
		h.logger.Error("failed to encode websocket message", "type", msgType, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			// Slow client; drop it rather than stall the session.
			h.logger.Warn("dropping slow websocket client")
			h.removeLocked(c)
		}
	}
}

func encodeMessage(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebSocketMessage{Type: msgType, Data: data, Timestamp: time.Now().Unix()})
}

func (h *Hub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// ServeWS upgrades the request and serves the client until it disconnects. initial is sent
// first so a new UI can render at once.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial *workflow.Event) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	if initial != nil {
		if frame, err := encodeMessage(MsgSession, initial); err == nil {
			c.send <- frame
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(c)
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		h.handleMessage(data)
	}
}

func (h *Hub) handleMessage(data []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debug("ignoring malformed websocket message", "error", err)
		return
	}

	switch msg.Type {
	case MsgElementEvent:
		var ev player.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			h.logger.Debug("ignoring malformed element event", "error", err)
			return
		}
		h.element.dispatch(ev)
	case MsgPointer:
		var p PointerMessage
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		h.mu.Lock()
		fn := h.onPointer
		h.mu.Unlock()
		if fn != nil {
			fn(p.Action == "leave")
		}
	default:
		h.logger.Debug("ignoring websocket message", "type", msg.Type)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// RemoteElement is a player.Element living in the browser. Commands are broadcast to every
// connected UI; any of them may report element events back.
type RemoteElement struct {
	hub *Hub

	mu      sync.Mutex
	subs    map[int]func(player.Event)
	nextSub int
}

func (e *RemoteElement) command(c PlayerCommand) error {
	e.hub.broadcast(MsgPlayerCommand, c)
	return nil
}

func (e *RemoteElement) Load(src string) error {
	return e.command(PlayerCommand{Command: "load", Source: src})
}

func (e *RemoteElement) Play() error {
	return e.command(PlayerCommand{Command: "play"})
}

func (e *RemoteElement) Pause() error {
	return e.command(PlayerCommand{Command: "pause"})
}

func (e *RemoteElement) Seek(seconds float64) error {
	return e.command(PlayerCommand{Command: "seek", Value: &seconds})
}

func (e *RemoteElement) SetVolume(v float64) error {
	return e.command(PlayerCommand{Command: "volume", Value: &v})
}

func (e *RemoteElement) SetMuted(muted bool) error {
	return e.command(PlayerCommand{Command: "muted", On: &muted})
}

func (e *RemoteElement) SetRate(rate float64) error {
	return e.command(PlayerCommand{Command: "rate", Value: &rate})
}

func (e *RemoteElement) SetFullscreen(on bool) error {
	return e.command(PlayerCommand{Command: "fullscreen", On: &on})
}

func (e *RemoteElement) Subscribe(fn func(player.Event)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *RemoteElement) dispatch(ev player.Event) {
	e.mu.Lock()
	subs := make([]func(player.Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}
