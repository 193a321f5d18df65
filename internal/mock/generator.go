// Package mock provides a synthetic session source for demos and for
// exercising the notification path without a running gateway.
package mock

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/vpnwatch/backend/internal/session"
)

type mockUser struct {
	id      string
	pattern string
	// joinTick and leaveTick bound the "window" pattern; leaveTick 0 means
	// the user never leaves.
	joinTick  int
	leaveTick int
	// period drives the "flaky" pattern: connected for period ticks, then
	// disconnected for period ticks.
	period int

	address        string
	virtualAddress string
	connectedSince time.Time
	connected      bool
	bytesReceived  int64
	bytesSent      int64
}

var defaultRoster = []mockUser{
	{id: "alice", pattern: "steady"},
	{id: "bob", pattern: "flaky", period: 3},
	{id: "carol", pattern: "roaming"},
	{id: "dave", pattern: "window", joinTick: 2, leaveTick: 7},
	{id: "Erin", pattern: "window", joinTick: 4},
}

// Generator is a deterministic session source: the same seed always
// yields the same sequence of snapshots. Each Snapshot call advances the
// simulation by one tick.
type Generator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	users []*mockUser
	tick  int
	start time.Time
	step  time.Duration
}

// NewGenerator returns a generator seeded with seed. step is the simulated
// time between ticks and only affects reported connection times.
func NewGenerator(seed int64, step time.Duration) *Generator {
	if step <= 0 {
		step = 10 * time.Second
	}
	g := &Generator{
		rng:   rand.New(rand.NewSource(seed)),
		start: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		step:  step,
	}
	for i := range defaultRoster {
		u := defaultRoster[i]
		u.virtualAddress = fmt.Sprintf("10.8.0.%d", 6+4*i)
		g.users = append(g.users, &u)
	}
	return g
}

func (g *Generator) Name() string { return "mock" }

// Snapshot advances one tick and returns the sessions connected at it.
func (g *Generator) Snapshot() (session.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.start.Add(time.Duration(g.tick) * g.step)
	snap := make(session.Snapshot)
	for _, u := range g.users {
		g.advance(u, now)
		if !u.connected {
			continue
		}
		snap[u.id] = session.Session{
			ID:             u.id,
			Address:        u.address,
			VirtualAddress: u.virtualAddress,
			BytesReceived:  u.bytesReceived,
			BytesSent:      u.bytesSent,
			ConnectedSince: u.connectedSince,
			FirstSeen:      now,
		}
	}
	g.tick++
	return snap, nil
}

func (g *Generator) advance(u *mockUser, now time.Time) {
	var want bool
	switch u.pattern {
	case "steady", "roaming":
		want = true
	case "flaky":
		want = (g.tick/u.period)%2 == 0
	case "window":
		want = g.tick >= u.joinTick && (u.leaveTick == 0 || g.tick < u.leaveTick)
	}

	switch {
	case want && !u.connected:
		u.connected = true
		u.connectedSince = now
		u.address = g.randomAddress()
		u.bytesReceived, u.bytesSent = 0, 0
	case !want && u.connected:
		u.connected = false
		return
	case !want:
		return
	}

	if u.pattern == "roaming" && g.tick > 0 && g.tick%2 == 0 {
		u.address = g.randomAddress()
	}
	u.bytesReceived += int64(g.rng.Intn(64 * 1024))
	u.bytesSent += int64(g.rng.Intn(256 * 1024))
}

// randomAddress returns a documentation-range IPv4 address with a port.
func (g *Generator) randomAddress() string {
	nets := []string{"192.0.2", "198.51.100", "203.0.113"}
	return fmt.Sprintf("%s.%d:%d", nets[g.rng.Intn(len(nets))], 1+g.rng.Intn(254), 1024+g.rng.Intn(60000))
}
