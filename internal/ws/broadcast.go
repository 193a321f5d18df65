package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vpnwatch/backend/internal/session"
)

// ErrTooManyConnections is returned by AddClient when the connection limit
// is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const writeWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			// Drain until RemoveClient closes the channel.
			for range c.send {
			}
			return
		}
	}
}

// Broadcaster fans session snapshots and transitions out to websocket
// clients. Everything it sends passes through the privacy filter.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	store          *session.Store
	privacy        *session.PrivacyFilter
	maxConns       int // 0 means unlimited
	snapshotTicker *time.Ticker
	healthHook     func() []FeedHealthPayload
	done           chan struct{}
	stopOnce       sync.Once
	log            zerolog.Logger
}

func NewBroadcaster(store *session.Store, snapshotInterval time.Duration, maxConns int, logger zerolog.Logger) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		store:    store,
		privacy:  &session.PrivacyFilter{},
		maxConns: maxConns,
		done:     make(chan struct{}),
		log:      logger.With().Str("component", "ws").Logger(),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// SetPrivacyFilter replaces the filter applied to outgoing data. nil
// installs a no-op filter.
func (b *Broadcaster) SetPrivacyFilter(f *session.PrivacyFilter) {
	if f == nil {
		f = &session.PrivacyFilter{}
	}
	b.mu.Lock()
	b.privacy = f
	b.mu.Unlock()
}

// SetHealthHook installs a function returning the feed health entries that
// are attached to every snapshot.
func (b *Broadcaster) SetHealthHook(fn func() []FeedHealthPayload) {
	b.mu.Lock()
	b.healthHook = fn
	b.mu.Unlock()
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()

	data, err := json.Marshal(b.snapshotMessage())
	if err != nil {
		b.log.Error().Err(err).Msg("Snapshot marshal failed")
		return c, nil
	}

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// FilterSessions applies the privacy filter to sessions.
func (b *Broadcaster) FilterSessions(sessions []session.Session) []session.Session {
	b.mu.RLock()
	f := b.privacy
	b.mu.RUnlock()
	return f.FilterSlice(sessions)
}

// QueueTransition broadcasts a transition to every client unless its
// session identifier is filtered out.
func (b *Broadcaster) QueueTransition(t session.Transition) {
	b.mu.RLock()
	f := b.privacy
	b.mu.RUnlock()

	if !f.IsAllowed(t.SessionID) {
		return
	}
	b.broadcast(WSMessage{Type: MsgTransition, Payload: f.ApplyTransition(t)})
}

// BroadcastMessage sends an arbitrary message to every client.
func (b *Broadcaster) BroadcastMessage(msg WSMessage) {
	b.broadcast(msg)
}

func (b *Broadcaster) healthEntries() []FeedHealthPayload {
	b.mu.RLock()
	hook := b.healthHook
	b.mu.RUnlock()
	if hook == nil {
		return nil
	}
	return hook()
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	return WSMessage{Type: MsgSnapshot, Payload: SnapshotPayload{
		Sessions:  b.FilterSessions(b.store.GetAll()),
		UpdatedAt: b.store.UpdatedAt(),
		Health:    b.healthEntries(),
	}}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(b.snapshotMessage())
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Str("type", string(msg.Type)).Msg("Broadcast marshal failed")
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.sendTo(c, data)
	}
}

func (b *Broadcaster) sendTo(c *client, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client can't keep up; disconnect it outside the read lock.
		go func() {
			b.log.Warn().Msg("WebSocket client too slow, disconnecting")
			b.RemoveClient(c)
		}()
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop halts the snapshot loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.snapshotTicker.Stop()
		close(b.done)

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
		}
		b.mu.Unlock()
	})
}
