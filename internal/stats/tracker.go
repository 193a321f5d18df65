// Package stats keeps running totals of session transitions and persists
// them between restarts.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vpnwatch/backend/internal/session"
)

const defaultSaveInterval = 30 * time.Second

// Tracker consumes transitions from the monitor and maintains aggregate
// Stats, saving them periodically while dirty.
type Tracker struct {
	persist      *Store
	saveInterval time.Duration
	events       chan session.Transition
	log          zerolog.Logger

	mu    sync.Mutex
	stats *Stats
	dirty bool
}

// NewTracker loads existing stats from persist and returns the tracker with
// the send side of its event channel. The caller must run Run.
func NewTracker(persist *Store, saveInterval time.Duration, logger zerolog.Logger) (*Tracker, chan<- session.Transition, error) {
	st, err := persist.Load()
	if err != nil {
		return nil, nil, err
	}
	if saveInterval <= 0 {
		saveInterval = defaultSaveInterval
	}
	ch := make(chan session.Transition, 256)
	t := &Tracker{
		persist:      persist,
		saveInterval: saveInterval,
		events:       ch,
		stats:        st,
		log:          logger.With().Str("component", "stats").Logger(),
	}
	return t, ch, nil
}

// Run processes transitions until ctx is cancelled, then saves once more.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.save()
			return
		case tr := <-t.events:
			t.record(tr)
		case <-ticker.C:
			t.mu.Lock()
			dirty := t.dirty
			t.mu.Unlock()
			if dirty {
				t.save()
			}
		}
	}
}

// Stats returns a copy of the current totals.
func (t *Tracker) Stats() *Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.clone()
}

func (t *Tracker) record(tr session.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats
	switch tr.Type {
	case session.EventStarted:
		s.TotalLogins++
		s.LoginsPerSession[tr.SessionID]++
	case session.EventEnded:
		s.TotalLogouts++
		if tr.ConnectedSeconds > s.LongestSessionSec {
			s.LongestSessionSec = tr.ConnectedSeconds
		}
	}
	if !tr.Delivered {
		s.DeliveryFailures++
	}
	if tr.ActiveCount > s.MaxConcurrent {
		s.MaxConcurrent = tr.ActiveCount
	}
	if tr.At.After(s.LastSeen[tr.SessionID]) {
		s.LastSeen[tr.SessionID] = tr.At
	}
	t.dirty = true
}

func (t *Tracker) save() {
	t.mu.Lock()
	st := t.stats.clone()
	t.dirty = false
	t.mu.Unlock()

	if err := t.persist.Save(st); err != nil {
		t.log.Error().Err(err).Str("path", t.persist.Path()).Msg("Failed to save stats")
	}
}
