package hub

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kodelens/kodelens/internal/model"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestHub(onRefresh RefreshRequestFunc) (*Hub, *httptest.Server) {
	cfg := DefaultConfig()
	cfg.PingInterval = time.Hour
	cfg.PongTimeout = time.Hour
	h := New(cfg, onRefresh, nil, nil)
	server := httptest.NewServer(h)
	return h, server
}

func TestServeHTTP_SendsConnectionFrameOnConnect(t *testing.T) {
	h, server := newTestHub(nil)
	defer server.Close()

	conn := dial(t, server)

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if frame.Type != "connection" {
		t.Errorf("Type = %q, want %q", frame.Type, "connection")
	}
	if len(frame.Channels) != 3 {
		t.Errorf("len(Channels) = %d, want 3", len(frame.Channels))
	}

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", h.ClientCount())
	}
}

func TestSubscribeThenBroadcast_DeliversToSubscriber(t *testing.T) {
	h, server := newTestHub(nil)
	defer server.Close()

	conn := dial(t, server)
	var connFrame Frame
	conn.ReadJSON(&connFrame)

	conn.WriteJSON(Frame{Type: "subscribe", Channel: ChannelDataUpdates})
	var confirm Frame
	if err := conn.ReadJSON(&confirm); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if confirm.Type != "subscription_confirmed" || confirm.Channel != ChannelDataUpdates {
		t.Fatalf("unexpected confirm frame: %+v", confirm)
	}

	h.Broadcast(ChannelDataUpdates, Frame{Type: "data_refresh", Source: "watcher"})

	var got Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Type != "data_refresh" || got.Source != "watcher" {
		t.Errorf("got %+v, want data_refresh from watcher", got)
	}
}

func TestBroadcast_SkipsUnsubscribedClient(t *testing.T) {
	h, server := newTestHub(nil)
	defer server.Close()

	conn := dial(t, server)
	var connFrame Frame
	conn.ReadJSON(&connFrame)

	h.Broadcast(ChannelConversationUpdates, Frame{Type: "conversation_state_change"})

	conn.WriteJSON(Frame{Type: "ping"})
	var pong Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if pong.Type != "pong" {
		t.Errorf("expected pong to be the next frame (conversation_state_change should have been skipped), got %+v", pong)
	}
}

func TestRefreshRequest_InvokesCallbackAndBroadcasts(t *testing.T) {
	called := false
	onRefresh := func() (string, int64) {
		called = true
		return "manual", 7
	}
	h, server := newTestHub(onRefresh)
	defer server.Close()

	conn := dial(t, server)
	var connFrame Frame
	conn.ReadJSON(&connFrame)

	conn.WriteJSON(Frame{Type: "subscribe", Channel: ChannelDataUpdates})
	var confirm Frame
	conn.ReadJSON(&confirm)

	conn.WriteJSON(Frame{Type: "refresh_request"})

	var refresh Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&refresh); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if !called {
		t.Error("expected onRefresh to be invoked")
	}
	if refresh.Type != "data_refresh" || refresh.SnapshotVersion != 7 {
		t.Errorf("got %+v, want data_refresh with snapshotVersion 7", refresh)
	}
}

func TestUnknownFrameType_ClosesConnectionWithProtocolError(t *testing.T) {
	var protoErrs int
	cfg := DefaultConfig()
	cfg.PingInterval = time.Hour
	cfg.PongTimeout = time.Hour
	h := New(cfg, nil, nil, func() { protoErrs++ })
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dial(t, server)
	var connFrame Frame
	conn.ReadJSON(&connFrame)

	conn.WriteJSON(Frame{Type: "not_a_real_type"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the connection to be closed after an unrecognized frame type")
	}
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a CloseError, got %v (%T)", err, err)
	}
	if closeErr.Code != websocket.CloseProtocolError {
		t.Errorf("close code = %d, want %d", closeErr.Code, websocket.CloseProtocolError)
	}
	if protoErrs != 1 {
		t.Errorf("onProtocolErr invocations = %d, want 1", protoErrs)
	}
}

func TestSend_DropsOldestFrameOnOverflow(t *testing.T) {
	var overflows int
	onOverflow := func() { overflows++ }

	c := &client{
		outbox:     make(chan Frame, 2),
		onOverflow: onOverflow,
		session:    model.NewClientSession("test-client", time.Now()),
		closed:     make(chan struct{}),
	}

	c.send(Frame{Type: "a"})
	c.send(Frame{Type: "b"})
	c.send(Frame{Type: "c"})

	if overflows != 1 {
		t.Errorf("overflows = %d, want 1", overflows)
	}
	first := <-c.outbox
	second := <-c.outbox
	if first.Type != "b" || second.Type != "c" {
		t.Errorf("expected oldest frame dropped, got %q then %q", first.Type, second.Type)
	}
}
