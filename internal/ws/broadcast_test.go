package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnwatch/backend/internal/session"
)

// dialTestWS starts a server that upgrades one connection and returns the
// server-side conn together with the client-side conn.
func dialTestWS(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn := <-connCh:
		return serverConn, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) rawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg rawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

type rawMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestBroadcaster(t *testing.T, store *session.Store, maxConns int) *Broadcaster {
	t.Helper()
	b := NewBroadcaster(store, time.Hour, maxConns, zerolog.Nop())
	t.Cleanup(b.Stop)
	return b
}

func testStore() *session.Store {
	store := session.NewStore()
	store.Replace(session.Snapshot{
		"alice": {ID: "alice", Address: "203.0.113.7:51820"},
		"bob":   {ID: "bob", Address: "198.51.100.4:1194"},
	}, time.Now())
	return store
}

func TestAddClientSendsSnapshot(t *testing.T) {
	b := newTestBroadcaster(t, testStore(), 0)
	b.SetHealthHook(func() []FeedHealthPayload {
		return []FeedHealthPayload{{Feed: "status", Status: StatusDegraded, ConsecutiveFailures: 1}}
	})

	serverConn, clientConn := dialTestWS(t)
	_, err := b.AddClient(serverConn)
	require.NoError(t, err)

	msg := readMessage(t, clientConn)
	assert.Equal(t, MsgSnapshot, msg.Type)

	var payload SnapshotPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.Len(t, payload.Sessions, 2)
	assert.Equal(t, "alice", payload.Sessions[0].ID)
	assert.Equal(t, "bob", payload.Sessions[1].ID)
	require.Len(t, payload.Health, 1)
	assert.Equal(t, StatusDegraded, payload.Health[0].Status)
}

func TestSnapshotAppliesPrivacyFilter(t *testing.T) {
	b := newTestBroadcaster(t, testStore(), 0)
	b.SetPrivacyFilter(&session.PrivacyFilter{MaskAddresses: true, BlockedIDs: []string{"bob"}})

	serverConn, clientConn := dialTestWS(t)
	_, err := b.AddClient(serverConn)
	require.NoError(t, err)

	var payload SnapshotPayload
	require.NoError(t, json.Unmarshal(readMessage(t, clientConn).Payload, &payload))
	require.Len(t, payload.Sessions, 1)
	assert.Equal(t, "alice", payload.Sessions[0].ID)
	assert.Equal(t, "203.0.113.x", payload.Sessions[0].Address)
}

func TestQueueTransition(t *testing.T) {
	b := newTestBroadcaster(t, session.NewStore(), 0)
	b.SetPrivacyFilter(&session.PrivacyFilter{BlockedIDs: []string{"svc-*"}})

	serverConn, clientConn := dialTestWS(t)
	_, err := b.AddClient(serverConn)
	require.NoError(t, err)
	assert.Equal(t, MsgSnapshot, readMessage(t, clientConn).Type)

	b.QueueTransition(session.Transition{ID: "t1", Type: session.EventStarted, SessionID: "svc-backup"})
	b.QueueTransition(session.Transition{ID: "t2", Type: session.EventEnded, SessionID: "bob", Identity: "bob (bob.ovpn)"})

	msg := readMessage(t, clientConn)
	assert.Equal(t, MsgTransition, msg.Type)
	var tr session.Transition
	require.NoError(t, json.Unmarshal(msg.Payload, &tr))
	assert.Equal(t, "t2", tr.ID, "blocked transitions are not sent")
	assert.Equal(t, session.EventEnded, tr.Type)
	assert.Equal(t, "bob (bob.ovpn)", tr.Identity)
}

func TestBroadcastMessage(t *testing.T) {
	b := newTestBroadcaster(t, session.NewStore(), 0)
	serverConn, clientConn := dialTestWS(t)
	_, err := b.AddClient(serverConn)
	require.NoError(t, err)
	readMessage(t, clientConn)

	b.BroadcastMessage(WSMessage{Type: MsgFeedHealth, Payload: FeedHealthPayload{Feed: "status", Status: StatusFailed}})

	msg := readMessage(t, clientConn)
	assert.Equal(t, MsgFeedHealth, msg.Type)
	var h FeedHealthPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &h))
	assert.Equal(t, StatusFailed, h.Status)
}

func TestAddClientMaxConnections(t *testing.T) {
	const maxConns = 2
	b := newTestBroadcaster(t, session.NewStore(), maxConns)

	var clients []*client
	for i := 0; i < maxConns; i++ {
		conn, _ := dialTestWS(t)
		c, err := b.AddClient(conn)
		require.NoError(t, err)
		clients = append(clients, c)
	}
	assert.Equal(t, maxConns, b.ClientCount())

	conn, _ := dialTestWS(t)
	_, err := b.AddClient(conn)
	assert.ErrorIs(t, err, ErrTooManyConnections)
	assert.Equal(t, maxConns, b.ClientCount())

	b.RemoveClient(clients[0])
	conn2, _ := dialTestWS(t)
	_, err = b.AddClient(conn2)
	require.NoError(t, err)
	assert.Equal(t, maxConns, b.ClientCount())
}

func TestAddClientZeroMaxConnectionsIsUnlimited(t *testing.T) {
	b := newTestBroadcaster(t, session.NewStore(), 0)
	for i := 0; i < 5; i++ {
		conn, _ := dialTestWS(t)
		_, err := b.AddClient(conn)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, b.ClientCount())
}

func TestWritePumpRemovesClientOnWriteError(t *testing.T) {
	b := newTestBroadcaster(t, session.NewStore(), 0)
	serverConn, _ := dialTestWS(t)

	c := &client{conn: serverConn, b: b, send: make(chan []byte, 64)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	serverConn.Close()
	c.send <- []byte(`{"type":"test"}`)
	go c.writePump()

	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStopDisconnectsClients(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), time.Hour, 0, zerolog.Nop())
	conn, _ := dialTestWS(t)
	_, err := b.AddClient(conn)
	require.NoError(t, err)

	b.Stop()
	b.Stop()
	assert.Equal(t, 0, b.ClientCount())
}
