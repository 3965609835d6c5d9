// Package hub implements NotificationHub (§4.6): the WebSocket server and
// notification dispatcher dashboard clients connect to.
//
// Connection handling follows gorilla/websocket's standard pattern — one
// reader goroutine doing blocking ReadMessage, one writer goroutine owning
// the single WriteMessage call site and draining a per-session outbox
// channel, since gorilla connections are not safe for concurrent writers.
// The bounded, oldest-drop outbox generalizes the teacher's bounded-
// resource philosophy (hostproxy's maxRequestBodySize byte cap) from
// bytes to message counts.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kodelens/kodelens/internal/model"
)

const (
	// Channels.
	ChannelDataUpdates         = "data_updates"
	ChannelConversationUpdates = "conversation_updates"
	ChannelSystemUpdates       = "system_updates"

	serverVersion = "1"
)

var allChannels = []string{ChannelDataUpdates, ChannelConversationUpdates, ChannelSystemUpdates}

// Frame is the generic {type, ...} envelope for every WebSocket message,
// in either direction (§4.6).
type Frame struct {
	Type string `json:"type"`

	// Client -> server fields.
	Channel string `json:"channel,omitempty"`

	// Server -> client fields.
	Version         string    `json:"version,omitempty"`
	Channels        []string  `json:"channels,omitempty"`
	Source          string    `json:"source,omitempty"`
	SnapshotVersion int64     `json:"snapshotVersion,omitempty"`
	Filepath        string    `json:"filepath,omitempty"`
	OldState        string    `json:"oldState,omitempty"`
	NewState        string    `json:"newState,omitempty"`
	At              time.Time `json:"at,omitempty"`
	Metrics         any       `json:"metrics,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RefreshRequestFunc is invoked when a client sends a refresh_request
// frame. It should invalidate computations and schedule a snapshot
// rebuild; the hub sends the resulting data_refresh frame itself.
type RefreshRequestFunc func() (source string, snapshotVersion int64)

// Config configures a Hub's heartbeat and outbox behaviour (§4.6).
type Config struct {
	OutboxCapacity int
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// DefaultConfig matches §4.6/§9's defaults (256 frames, 30s ping, 60s
// pong timeout — two missed pongs close the session).
func DefaultConfig() Config {
	return Config{
		OutboxCapacity: 256,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
	}
}

// client is one connected dashboard WebSocket session. Its §3 identity and
// subscription bookkeeping live on the embedded model.ClientSession; client
// itself only adds the transport plumbing (conn, outbox, lifecycle) around
// that data-model type.
type client struct {
	conn       *websocket.Conn
	outbox     chan Frame
	onOverflow func()

	mu      sync.Mutex
	session *model.ClientSession

	closeOnce sync.Once
	closed    chan struct{}
}

// Hub is the WebSocket server and per-channel broadcaster.
type Hub struct {
	cfg           Config
	onRefresh     RefreshRequestFunc
	onOverflow    func()
	onProtocolErr func()

	mu      sync.RWMutex
	clients map[string]*client
}

// New creates a Hub. onRefresh is called synchronously when a client
// requests a refresh; its return values are broadcast as a data_refresh
// frame. onOverflow and onProtocolErr are optional PerfMonitor hooks.
func New(cfg Config, onRefresh RefreshRequestFunc, onOverflow, onProtocolErr func()) *Hub {
	return &Hub{
		cfg:           cfg,
		onRefresh:     onRefresh,
		onOverflow:    onOverflow,
		onProtocolErr: onProtocolErr,
		clients:       make(map[string]*client),
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and runs the
// client's full lifecycle until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	now := time.Now()
	c := &client{
		conn:       conn,
		outbox:     make(chan Frame, h.cfg.OutboxCapacity),
		onOverflow: h.onOverflow,
		session:    model.NewClientSession(uuid.Must(uuid.NewV7()).String(), now),
		closed:     make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.session.ClientID] = c
	h.mu.Unlock()

	defer h.removeClient(c)

	c.send(Frame{Type: "connection", Version: serverVersion, Channels: allChannels})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); h.writeLoop(c) }()
	go func() { defer wg.Done(); h.readLoop(c) }()
	wg.Wait()
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c.session.ClientID)
	h.mu.Unlock()
	c.close()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) writeLoop(c *client) {
	pingTicker := time.NewTicker(h.cfg.PingInterval)
	defer pingTicker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.closed:
			return
		case <-pingTicker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case frame, ok := <-c.outbox:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *client) {
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		c.mu.Lock()
		c.session.LastSeenAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.protocolError(c)
			return
		}
		if !h.handleClientFrame(c, frame) {
			h.protocolError(c)
			return
		}
	}
}

// protocolError counts a ClientProtocolError (§7) and closes the
// connection with a protocol-error close code.
func (h *Hub) protocolError(c *client) {
	if h.onProtocolErr != nil {
		h.onProtocolErr()
	}
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseProtocolError, "unrecognized frame")
	c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

// handleClientFrame applies a decoded client frame. It returns false for
// an unrecognized frame type, signalling the caller to close the session.
func (h *Hub) handleClientFrame(c *client, frame Frame) bool {
	c.mu.Lock()
	c.session.LastSeenAt = time.Now()
	c.mu.Unlock()

	switch frame.Type {
	case "subscribe":
		c.mu.Lock()
		c.session.Subscribe(frame.Channel)
		c.mu.Unlock()
		c.send(Frame{Type: "subscription_confirmed", Channel: frame.Channel})

	case "unsubscribe":
		c.mu.Lock()
		c.session.Unsubscribe(frame.Channel)
		c.mu.Unlock()

	case "ping":
		c.send(Frame{Type: "pong"})

	case "refresh_request":
		if h.onRefresh == nil {
			return true
		}
		source, version := h.onRefresh()
		h.Broadcast(ChannelDataUpdates, Frame{Type: "data_refresh", Source: source, SnapshotVersion: version})

	default:
		return false
	}
	return true
}

// Broadcast sends frame to every client subscribed to channel, in the
// hub's current subscriber snapshot. Frames are delivered in send order
// per subscriber; disconnection mid-broadcast drops the frame for that
// client only, not the whole broadcast.
func (h *Hub) Broadcast(channel string, frame Frame) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		c.mu.Lock()
		subscribed := c.session.IsSubscribed(channel)
		c.mu.Unlock()
		if subscribed {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.send(frame)
	}
}

// BroadcastConversationStateChange is a typed convenience wrapper for the
// conversation_state_change server frame.
func (h *Hub) BroadcastConversationStateChange(filepath, oldState, newState string, at time.Time) {
	h.Broadcast(ChannelConversationUpdates, Frame{
		Type:     "conversation_state_change",
		Filepath: filepath,
		OldState: oldState,
		NewState: newState,
		At:       at,
	})
}

// BroadcastSystemHealth is a typed convenience wrapper for the
// system_health server frame.
func (h *Hub) BroadcastSystemHealth(metrics any) {
	h.Broadcast(ChannelSystemUpdates, Frame{Type: "system_health", Metrics: metrics})
}

// send delivers frame to the client's outbox without blocking. On
// overflow, the oldest queued frame is dropped to make room (§4.6).
func (c *client) send(frame Frame) {
	select {
	case c.outbox <- frame:
		return
	default:
	}

	select {
	case <-c.outbox:
		if c.onOverflow != nil {
			c.onOverflow()
		}
	default:
	}
	select {
	case c.outbox <- frame:
	default:
		// Another sender won the race; drop this frame silently rather
		// than block the caller.
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}
