package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vpnwatch/backend/internal/config"
	"github.com/vpnwatch/backend/internal/metrics"
	"github.com/vpnwatch/backend/internal/notify"
	"github.com/vpnwatch/backend/internal/session"
	"github.com/vpnwatch/backend/internal/ws"
)

// Resolver maps a raw session identifier to a display label.
type Resolver interface {
	Resolve(id string) string
}

type Monitor struct {
	mu        sync.RWMutex // protects cfg, formatter
	cfg       *config.Config
	formatter *notify.Formatter

	source      Source
	resolver    Resolver
	notifier    notify.Notifier
	store       *session.Store
	broadcaster *ws.Broadcaster // nil when the status server is disabled
	metrics     *metrics.Collector
	probe       GatewayProbe
	health      *feedHealth
	log         zerolog.Logger
	now         func() time.Time

	// previous is owned by the poll goroutine.
	previous session.Snapshot

	statsEvents      chan<- session.Transition // nil disables stats emission
	statsDropped     int64
	statsLastDropLog time.Time

	reconfigureCh chan struct{}
}

// NewMonitor wires a monitor. broadcaster may be nil.
func NewMonitor(cfg *config.Config, source Source, resolver Resolver, notifier notify.Notifier,
	store *session.Store, broadcaster *ws.Broadcaster, logger zerolog.Logger) (*Monitor, error) {
	formatter, err := notify.NewFormatter(cfg.Notifier.LoginTemplate, cfg.Notifier.LogoutTemplate)
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg:           cfg,
		formatter:     formatter,
		source:        source,
		resolver:      resolver,
		notifier:      notifier,
		store:         store,
		broadcaster:   broadcaster,
		probe:         ProcessRunning,
		health:        newFeedHealth(),
		log:           logger.With().Str("component", "monitor").Logger(),
		now:           time.Now,
		previous:      make(session.Snapshot),
		reconfigureCh: make(chan struct{}, 1),
	}
	if broadcaster != nil {
		broadcaster.SetHealthHook(m.feedHealthSnapshot)
	}
	return m, nil
}

// SetConfig replaces the config used by subsequent polls. The poll interval
// and message templates take effect immediately; the feed path, mapping
// and server settings require a restart. An invalid template leaves the
// current config in place.
func (m *Monitor) SetConfig(cfg *config.Config) error {
	formatter, err := notify.NewFormatter(cfg.Notifier.LoginTemplate, cfg.Notifier.LogoutTemplate)
	if err != nil {
		return fmt.Errorf("reloading templates: %w", err)
	}
	m.mu.Lock()
	m.cfg = cfg
	m.formatter = formatter
	m.mu.Unlock()

	select {
	case m.reconfigureCh <- struct{}{}:
	default:
	}
	return nil
}

// SetStatsEvents configures a channel that receives every transition.
// Sends never block. Pass nil to disable.
func (m *Monitor) SetStatsEvents(ch chan<- session.Transition) {
	m.statsEvents = ch
}

// SetMetrics installs the Prometheus collector. nil disables metrics.
func (m *Monitor) SetMetrics(c *metrics.Collector) {
	m.metrics = c
}

// SetGatewayProbe replaces the process probe. nil disables probing.
func (m *Monitor) SetGatewayProbe(p GatewayProbe) {
	m.probe = p
}

func (m *Monitor) pollInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Feed.PollInterval
}

// Start polls immediately and then once per poll interval until ctx is
// cancelled.
func (m *Monitor) Start(ctx context.Context) {
	interval := m.pollInterval()
	m.log.Info().Str("source", m.source.Name()).Dur("interval", interval).Msg("Monitor started")

	m.poll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Monitor stopped")
			return
		case <-m.reconfigureCh:
			if next := m.pollInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
				m.log.Info().Dur("interval", interval).Msg("Poll interval changed")
			}
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll runs one cycle: read, diff, dispatch. It never returns an error; a
// feed failure skips the cycle and keeps the previous snapshot.
func (m *Monitor) poll(ctx context.Context) {
	m.mu.RLock()
	cfg := m.cfg
	formatter := m.formatter
	m.mu.RUnlock()

	now := m.now()
	cur, err := m.source.Snapshot()
	if err != nil {
		m.recordFeedFailure(ctx, cfg, err)
		m.maybeEmitHealth(cfg)
		return
	}
	m.health.recordSuccess()

	cur = cur.InheritFirstSeen(m.previous)
	events := session.Diff(m.previous, cur)
	m.previous = cur
	m.store.Replace(cur, now)
	m.metrics.ObservePoll(true, len(cur))

	for _, ev := range events {
		m.dispatch(ctx, formatter, ev, len(cur), now)
	}

	m.maybeEmitHealth(cfg)
}

func (m *Monitor) recordFeedFailure(ctx context.Context, cfg *config.Config, err error) {
	failures := m.health.recordFailure(err)
	m.metrics.ObservePoll(false, 0)

	entry := m.log.Warn().Err(err).Int("consecutive_failures", failures)
	if failures == 1 && m.probe != nil && cfg.Feed.GatewayProcess != "" {
		running, perr := m.probe(ctx, cfg.Feed.GatewayProcess)
		if perr != nil {
			m.log.Debug().Err(perr).Str("process", cfg.Feed.GatewayProcess).Msg("Gateway probe failed")
		} else {
			m.health.setGatewayRunning(running)
			entry = entry.Str("gateway_process", cfg.Feed.GatewayProcess).Bool("gateway_running", running)
		}
	}
	entry.Msg("Status feed unavailable, keeping previous snapshot")
}

// dispatch resolves, renders and delivers one event, then publishes the
// resulting transition. Delivery failures are logged and never stop the
// remaining events.
func (m *Monitor) dispatch(ctx context.Context, formatter *notify.Formatter, ev session.Event, active int, now time.Time) {
	identity := m.resolver.Resolve(ev.Session.ID)
	tr := session.Transition{
		ID:          uuid.NewString(),
		Type:        ev.Type,
		SessionID:   ev.Session.ID,
		Identity:    identity,
		Address:     ev.Session.Address,
		At:          now,
		ActiveCount: active,
	}
	if ev.Type == session.EventEnded {
		tr.ConnectedSeconds = ev.Session.ConnectedFor(now).Seconds()
	}

	msg := "Session started"
	if ev.Type == session.EventEnded {
		msg = "Session ended"
	}
	m.log.Info().
		Str("session", ev.Session.ID).
		Str("identity", identity).
		Str("address", ev.Session.Address).
		Msg(msg)

	tr.Delivered = m.deliver(ctx, formatter, ev, identity, now)

	m.metrics.ObserveTransition(ev.Type.String())
	if m.broadcaster != nil {
		m.broadcaster.QueueTransition(tr)
	}
	m.emitTransition(tr)
}

func (m *Monitor) deliver(ctx context.Context, formatter *notify.Formatter, ev session.Event, identity string, now time.Time) bool {
	text, err := formatter.Format(ev, identity, now)
	if err != nil {
		m.log.Error().Err(err).Str("session", ev.Session.ID).Msg("Cannot render notification")
		m.metrics.ObserveNotification(metrics.ResultSkipped, 0)
		return false
	}

	start := time.Now()
	err = m.notifier.Notify(ctx, text)
	took := time.Since(start)
	if err != nil {
		m.log.Error().Err(err).
			Str("session", ev.Session.ID).
			Str("event", ev.Type.String()).
			Msg("Notification delivery failed")
		m.metrics.ObserveNotification(metrics.ResultFailed, took)
		return false
	}
	m.metrics.ObserveNotification(metrics.ResultDelivered, took)
	return true
}

// emitTransition sends tr to the stats channel without blocking. Drops are
// counted and logged at most once every 10 seconds.
func (m *Monitor) emitTransition(tr session.Transition) {
	if m.statsEvents == nil {
		return
	}
	select {
	case m.statsEvents <- tr:
	default:
		m.statsDropped++
		now := time.Now()
		if m.statsLastDropLog.IsZero() || now.Sub(m.statsLastDropLog) >= 10*time.Second {
			m.log.Warn().Int64("dropped", m.statsDropped).Msg("Stats events dropped (channel full)")
			m.statsDropped = 0
			m.statsLastDropLog = now
		}
	}
}

// maybeEmitHealth broadcasts a feed_health message when the feed status
// changes (e.g. healthy -> degraded).
func (m *Monitor) maybeEmitHealth(cfg *config.Config) {
	payload, changed := m.health.snapshotAndEmit(m.source.Name(), cfg.HealthThreshold())
	if !changed {
		return
	}
	m.log.Info().
		Str("status", string(payload.Status)).
		Int("consecutive_failures", payload.ConsecutiveFailures).
		Msg("Feed health changed")
	if m.broadcaster != nil {
		m.broadcaster.BroadcastMessage(ws.WSMessage{Type: ws.MsgFeedHealth, Payload: payload})
	}
}

// feedHealthSnapshot reports the feed health for snapshots and /api/health.
func (m *Monitor) feedHealthSnapshot() []ws.FeedHealthPayload {
	m.mu.RLock()
	threshold := m.cfg.HealthThreshold()
	m.mu.RUnlock()
	return []ws.FeedHealthPayload{m.health.snapshot(m.source.Name(), threshold)}
}
