package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnwatch/backend/internal/config"
	"github.com/vpnwatch/backend/internal/metrics"
	"github.com/vpnwatch/backend/internal/notify"
	"github.com/vpnwatch/backend/internal/session"
	"github.com/vpnwatch/backend/internal/ws"
)

// scriptedSource returns one scripted result per Snapshot call and repeats
// the last one when the script runs out.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	snap session.Snapshot
	err  error
}

func (s *scriptedSource) Name() string { return "status" }

func (s *scriptedSource) Snapshot() (session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	st := s.steps[i]
	if st.err != nil {
		return nil, st.err
	}
	out := make(session.Snapshot, len(st.snap))
	for k, v := range st.snap {
		out[k] = v
	}
	return out, nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func sessions(pairs ...string) session.Snapshot {
	snap := make(session.Snapshot)
	for i := 0; i+1 < len(pairs); i += 2 {
		snap[pairs[i]] = session.Session{ID: pairs[i], Address: pairs[i+1]}
	}
	return snap
}

type mapResolver map[string]string

func (r mapResolver) Resolve(id string) string {
	if label, ok := r[id]; ok {
		return label
	}
	return id
}

// recordingNotifier records messages and fails those listed in failOn.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	failOn   map[int]bool // zero-based call index
	calls    int
}

func (n *recordingNotifier) Notify(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	idx := n.calls
	n.calls++
	if n.failOn[idx] {
		return &notify.DeliveryError{StatusCode: 500, Body: "boom"}
	}
	n.messages = append(n.messages, message)
	return nil
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Notifier.DryRun = true
	cfg.Feed.PollInterval = 20 * time.Millisecond
	return cfg
}

func newTestMonitor(t *testing.T, src Source, n notify.Notifier, resolver Resolver) (*Monitor, *session.Store) {
	t.Helper()
	store := session.NewStore()
	m, err := NewMonitor(testConfig(), src, resolver, n, store, nil, zerolog.Nop())
	require.NoError(t, err)
	m.SetGatewayProbe(nil)
	return m, store
}

func TestPollLoginThenLogout(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{snap: sessions("bob", "5.6.7.8")},
		{snap: sessions()},
		{snap: sessions()},
	}}
	n := &recordingNotifier{}
	resolver := mapResolver{"bob": "[HQ] Bob (bob.ovpn)"}
	m, store := newTestMonitor(t, src, n, resolver)

	ctx := context.Background()
	m.poll(ctx)
	assert.Equal(t, []string{"[HQ] Bob (bob.ovpn) 已登录 OpenVPN。登录IP: 5.6.7.8"}, n.sent())
	assert.Equal(t, 1, store.Count())

	m.poll(ctx)
	assert.Equal(t, []string{
		"[HQ] Bob (bob.ovpn) 已登录 OpenVPN。登录IP: 5.6.7.8",
		"[HQ] Bob (bob.ovpn) 已从 OpenVPN 登出。",
	}, n.sent())
	assert.Equal(t, 0, store.Count())

	m.poll(ctx)
	assert.Len(t, n.sent(), 2, "no events for an unchanged empty feed")
}

func TestPollFirstCycleReportsEverySession(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: sessions("carol", "3.3.3.3", "alice", "1.1.1.1")}}}
	n := &recordingNotifier{}
	m, _ := newTestMonitor(t, src, n, mapResolver{})

	m.poll(context.Background())
	assert.Equal(t, []string{
		"alice 已登录 OpenVPN。登录IP: 1.1.1.1",
		"carol 已登录 OpenVPN。登录IP: 3.3.3.3",
	}, n.sent())
}

func TestPollStartedBeforeEnded(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{snap: sessions("alice", "1.1.1.1", "zed", "9.9.9.9")},
		{snap: sessions("bob", "2.2.2.2", "zed", "9.9.9.10")},
	}}
	n := &recordingNotifier{}
	m, _ := newTestMonitor(t, src, n, mapResolver{})

	m.poll(context.Background())
	m.poll(context.Background())
	sent := n.sent()
	require.Len(t, sent, 4)
	assert.Equal(t, "bob 已登录 OpenVPN。登录IP: 2.2.2.2", sent[2])
	assert.Equal(t, "alice 已从 OpenVPN 登出。", sent[3], "address change of zed produces nothing")
}

func TestPollDeliveryFailureDoesNotBlockNextEvent(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: sessions("alice", "1.1.1.1", "bob", "2.2.2.2")}}}
	n := &recordingNotifier{failOn: map[int]bool{0: true}}
	m, _ := newTestMonitor(t, src, n, mapResolver{})

	events := make(chan session.Transition, 8)
	m.SetStatsEvents(events)

	m.poll(context.Background())
	assert.Equal(t, []string{"bob 已登录 OpenVPN。登录IP: 2.2.2.2"}, n.sent())

	require.Len(t, events, 2)
	first, second := <-events, <-events
	assert.Equal(t, "alice", first.SessionID)
	assert.False(t, first.Delivered)
	assert.Equal(t, "bob", second.SessionID)
	assert.True(t, second.Delivered)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, second.ActiveCount)
}

func TestPollFeedUnavailableKeepsPrevious(t *testing.T) {
	feedErr := fmt.Errorf("%w: open: no such file or directory", ErrFeedUnavailable)
	src := &scriptedSource{steps: []step{
		{snap: sessions("alice", "1.1.1.1")},
		{err: feedErr},
		{err: feedErr},
		{snap: sessions("alice", "1.1.1.1")},
	}}
	n := &recordingNotifier{}
	m, store := newTestMonitor(t, src, n, mapResolver{})

	var probed []string
	m.SetGatewayProbe(func(_ context.Context, name string) (bool, error) {
		probed = append(probed, name)
		return false, nil
	})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		m.poll(ctx)
	}

	assert.Equal(t, []string{"alice 已登录 OpenVPN。登录IP: 1.1.1.1"}, n.sent(), "no logout or duplicate login across the outage")
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, []string{"openvpn"}, probed, "gateway probed once per outage")
}

func TestPollFirstSeenCarriedForward(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	seenAt := func(offset time.Duration) session.Snapshot {
		return session.Snapshot{"alice": {ID: "alice", Address: "1.1.1.1", FirstSeen: base.Add(offset)}}
	}
	src := &scriptedSource{steps: []step{
		{snap: seenAt(0)},
		{snap: seenAt(time.Minute)},
		{snap: sessions()},
	}}
	m, store := newTestMonitor(t, src, &recordingNotifier{}, mapResolver{})
	events := make(chan session.Transition, 8)
	m.SetStatsEvents(events)

	ctx := context.Background()
	m.now = func() time.Time { return base }
	m.poll(ctx)
	m.now = func() time.Time { return base.Add(time.Minute) }
	m.poll(ctx)

	sess, ok := store.Get("alice")
	require.True(t, ok)
	assert.True(t, sess.FirstSeen.Equal(base), "FirstSeen survives later polls")

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	m.poll(ctx)

	require.Len(t, events, 2)
	<-events
	ended := <-events
	assert.Equal(t, session.EventEnded, ended.Type)
	assert.Equal(t, 120.0, ended.ConnectedSeconds)
	assert.True(t, ended.At.Equal(base.Add(2*time.Minute)))
}

func TestEmitTransitionNeverBlocks(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: sessions("a", "1", "b", "2", "c", "3")}}}
	m, _ := newTestMonitor(t, src, &recordingNotifier{}, mapResolver{})
	events := make(chan session.Transition, 1)
	m.SetStatsEvents(events)

	done := make(chan struct{})
	go func() {
		m.poll(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll blocked on a full stats channel")
	}
	assert.Len(t, events, 1)
}

func TestPollRecordsMetrics(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{snap: sessions("alice", "1.1.1.1")},
		{err: ErrFeedUnavailable},
	}}
	m, _ := newTestMonitor(t, src, &recordingNotifier{}, mapResolver{})
	m.SetMetrics(metrics.New())

	assert.NotPanics(t, func() {
		m.poll(context.Background())
		m.poll(context.Background())
	})
}

func TestHealthBroadcastOnStatusChange(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{err: ErrFeedUnavailable},
		{snap: sessions()},
	}}
	store := session.NewStore()
	b := ws.NewBroadcaster(store, time.Hour, 0, zerolog.Nop())
	defer b.Stop()

	m, err := NewMonitor(testConfig(), src, mapResolver{}, &recordingNotifier{}, store, b, zerolog.Nop())
	require.NoError(t, err)
	m.SetGatewayProbe(nil)

	m.poll(context.Background())
	health := m.feedHealthSnapshot()
	require.Len(t, health, 1)
	assert.Equal(t, ws.StatusDegraded, health[0].Status)
	assert.Equal(t, 1, health[0].ConsecutiveFailures)

	m.poll(context.Background())
	assert.Equal(t, ws.StatusHealthy, m.feedHealthSnapshot()[0].Status)
}

func TestSetConfigRejectsBadTemplate(t *testing.T) {
	m, _ := newTestMonitor(t, &scriptedSource{steps: []step{{snap: sessions()}}}, &recordingNotifier{}, mapResolver{})

	bad := testConfig()
	bad.Notifier.LoginTemplate = "{{.Identity"
	assert.Error(t, m.SetConfig(bad))

	good := testConfig()
	good.Notifier.LoginTemplate = "+ {{.Identity}}"
	require.NoError(t, m.SetConfig(good))

	src := &scriptedSource{steps: []step{{snap: sessions("alice", "1.1.1.1")}}}
	m.source = src
	n := &recordingNotifier{}
	m.notifier = n
	m.poll(context.Background())
	assert.Equal(t, []string{"+ alice"}, n.sent())
}

func TestStartPollsImmediatelyAndStops(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: sessions("alice", "1.1.1.1")}}}
	n := &recordingNotifier{}
	m, _ := newTestMonitor(t, src, n, mapResolver{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.Len(t, n.sent(), 1, "a persistent session is reported once")
}

func TestSetConfigChangesInterval(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: sessions()}}}
	m, _ := newTestMonitor(t, src, &recordingNotifier{}, mapResolver{})
	slow := testConfig()
	slow.Feed.PollInterval = time.Hour
	require.NoError(t, m.SetConfig(slow))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	require.Eventually(t, func() bool { return src.callCount() == 1 }, time.Second, 5*time.Millisecond)

	fast := testConfig()
	fast.Feed.PollInterval = 10 * time.Millisecond
	require.NoError(t, m.SetConfig(fast))
	assert.Eventually(t, func() bool { return src.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
}
