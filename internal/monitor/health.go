package monitor

import (
	"sync"
	"time"

	"github.com/vpnwatch/backend/internal/ws"
)

// feedHealth tracks consecutive read failures of the status feed. poll()
// writes it from the monitor goroutine while the broadcaster's health hook
// reads it, hence mu.
type feedHealth struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastErr             string
	lastFailure         time.Time
	gatewayRunning      *bool
	lastEmittedStatus   ws.FeedHealthStatus
}

func newFeedHealth() *feedHealth {
	return &feedHealth{lastEmittedStatus: ws.StatusHealthy}
}

func (h *feedHealth) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
	h.lastErr = ""
	h.gatewayRunning = nil
}

// recordFailure returns the number of consecutive failures including this one.
func (h *feedHealth) recordFailure(err error) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures++
	h.lastErr = err.Error()
	h.lastFailure = time.Now()
	return h.consecutiveFailures
}

func (h *feedHealth) setGatewayRunning(running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gatewayRunning = &running
}

// statusLocked: any failure degrades, threshold consecutive failures fail.
// Caller must hold h.mu.
func (h *feedHealth) statusLocked(threshold int) ws.FeedHealthStatus {
	switch {
	case h.consecutiveFailures >= threshold:
		return ws.StatusFailed
	case h.consecutiveFailures > 0:
		return ws.StatusDegraded
	default:
		return ws.StatusHealthy
	}
}

func (h *feedHealth) payloadLocked(feed string, threshold int) ws.FeedHealthPayload {
	p := ws.FeedHealthPayload{
		Feed:                feed,
		Status:              h.statusLocked(threshold),
		ConsecutiveFailures: h.consecutiveFailures,
		LastError:           h.lastErr,
		Timestamp:           time.Now(),
	}
	if h.gatewayRunning != nil {
		running := *h.gatewayRunning
		p.GatewayRunning = &running
	}
	return p
}

func (h *feedHealth) snapshot(feed string, threshold int) ws.FeedHealthPayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.payloadLocked(feed, threshold)
}

// snapshotAndEmit returns the current payload and whether the status
// changed since the last emission, recording the new status if so.
func (h *feedHealth) snapshotAndEmit(feed string, threshold int) (ws.FeedHealthPayload, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.payloadLocked(feed, threshold)
	changed := p.Status != h.lastEmittedStatus
	if changed {
		h.lastEmittedStatus = p.Status
	}
	return p, changed
}
