package ws

import (
	"time"

	"github.com/vpnwatch/backend/internal/session"
)

type MessageType string

const (
	MsgSnapshot   MessageType = "snapshot"
	MsgTransition MessageType = "transition"
	MsgFeedHealth MessageType = "feed_health"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Sessions  []session.Session   `json:"sessions"`
	UpdatedAt time.Time           `json:"updatedAt"`
	Health    []FeedHealthPayload `json:"health,omitempty"`
}

// FeedHealthStatus summarizes how reliably the status feed is being read.
type FeedHealthStatus string

const (
	StatusHealthy  FeedHealthStatus = "healthy"
	StatusDegraded FeedHealthStatus = "degraded"
	StatusFailed   FeedHealthStatus = "failed"
)

type FeedHealthPayload struct {
	Feed                string           `json:"feed"`
	Status              FeedHealthStatus `json:"status"`
	ConsecutiveFailures int              `json:"consecutiveFailures"`
	LastError           string           `json:"lastError,omitempty"`
	// GatewayRunning is nil when the gateway process was not probed.
	GatewayRunning *bool     `json:"gatewayRunning,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
