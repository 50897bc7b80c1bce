package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"marketchat/pkg/protocol"
)

// wsServer is a scripted peer: it acks every connection with a connected
// event, records what the client sends, and lets tests push events or drop
// the socket.
type wsServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     []*websocket.Conn
	received  []protocol.Envelope
	accepts   int
	rejecting bool
}

func newWSServer(t *testing.T) (*wsServer, *httptest.Server) {
	s := &wsServer{t: t}
	srv := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rejecting := s.rejecting
	s.mu.Unlock()
	if rejecting {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.accepts++
	s.mu.Unlock()

	ack, _ := protocol.NewEnvelope(protocol.EventConnected,
		protocol.ConnectedPayload{UserID: r.URL.Query().Get("user_id")})
	conn.WriteJSON(ack)

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, env)
		s.mu.Unlock()
	}
}

func (s *wsServer) push(event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	require.NoError(s.t, err)

	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	require.NoError(s.t, conn.WriteJSON(env))
}

func (s *wsServer) setRejecting(v bool) {
	s.mu.Lock()
	s.rejecting = v
	s.mu.Unlock()
}

func (s *wsServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *wsServer) receivedEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	for i, env := range s.received {
		out[i] = env.Event
	}
	return out
}

func (s *wsServer) acceptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestClient_ConnectedOnAck: the status flips only once the server's
// connected event arrives, and Emit is gated on it.
func TestClient_ConnectedOnAck(t *testing.T) {
	_, srv := newWSServer(t)
	c := NewClient(wsURL(srv), "user-1")
	defer c.Close()

	require.Equal(t, StatusDisconnected, c.Status())
	require.ErrorIs(t, c.Emit("typing", nil), ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return c.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
}

// TestClient_EmitReachesServer sends an event and checks the server read it.
func TestClient_EmitReachesServer(t *testing.T) {
	server, srv := newWSServer(t)
	c := NewClient(wsURL(srv), "user-1")
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return c.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Emit(protocol.EventTyping, protocol.TypingPayload{
		ChatRoomID: "room-1", UserID: "user-1", IsTyping: true,
	}))

	require.Eventually(t, func() bool {
		events := server.receivedEvents()
		return len(events) == 1 && events[0] == protocol.EventTyping
	}, 2*time.Second, 10*time.Millisecond)
}

// TestClient_HandlersSurviveRedial: after the server drops the socket the
// client redials and previously registered handlers still fire.
func TestClient_HandlersSurviveRedial(t *testing.T) {
	server, srv := newWSServer(t)
	c := NewClient(wsURL(srv), "user-1",
		WithRedialBackoff(10*time.Millisecond, 50*time.Millisecond))
	defer c.Close()

	var (
		mu       sync.Mutex
		typing   int
		statuses []Status
	)
	c.On(protocol.EventUserTyping, func(data json.RawMessage) {
		mu.Lock()
		typing++
		mu.Unlock()
	})
	c.OnStatusChange(func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return c.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	server.push(protocol.EventUserTyping, protocol.TypingSignal{UserID: "u2", IsTyping: true})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return typing == 1
	}, 2*time.Second, 10*time.Millisecond)

	server.dropAll()
	require.Eventually(t, func() bool {
		return server.acceptCount() >= 2 && c.Status() == StatusConnected
	}, 3*time.Second, 10*time.Millisecond)

	server.push(protocol.EventUserTyping, protocol.TypingSignal{UserID: "u2", IsTyping: true})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return typing == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, statuses, StatusDisconnected, "the drop must be observable")
}

// TestClient_EmitWhileDroppedFails: between drop and successful redial the
// client reports disconnected and refuses sends.
func TestClient_EmitWhileDroppedFails(t *testing.T) {
	server, srv := newWSServer(t)
	c := NewClient(wsURL(srv), "user-1",
		WithRedialBackoff(time.Hour, time.Hour)) // park the redial
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return c.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	server.setRejecting(true)
	server.dropAll()
	require.Eventually(t, func() bool {
		return c.Status() == StatusDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, c.Emit(protocol.EventTyping, nil), ErrNotConnected)
}

// TestClient_ConnectTwiceIsNoop guards the single-supervisor invariant.
func TestClient_ConnectTwiceIsNoop(t *testing.T) {
	server, srv := newWSServer(t)
	c := NewClient(wsURL(srv), "user-1")
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return c.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, server.acceptCount())
}

func TestClient_RequiresUserID(t *testing.T) {
	c := NewClient("ws://localhost/ws/chat", "")
	require.Error(t, c.Connect(context.Background()))
}
