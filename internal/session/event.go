package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies session transitions.
type EventType int

const (
	EventStarted EventType = iota // identifier appeared since the previous snapshot
	EventEnded                    // identifier disappeared since the previous snapshot
)

var eventTypeNames = map[EventType]string{
	EventStarted: "started",
	EventEnded:   "ended",
}

var eventTypeFromName = map[string]EventType{
	"started": EventStarted,
	"ended":   EventEnded,
}

func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := eventTypeFromName[s]
	if !ok {
		return fmt.Errorf("unknown event type %q", s)
	}
	*t = v
	return nil
}

// Event is a single transition produced by Diff.
type Event struct {
	Type    EventType
	Session Session
}

// Transition is an Event after identity resolution and dispatch, as seen by
// observers (websocket clients, the stats tracker).
type Transition struct {
	ID               string    `json:"id"`
	Type             EventType `json:"type"`
	SessionID        string    `json:"sessionId"`
	Identity         string    `json:"identity"`
	Address          string    `json:"address"`
	At               time.Time `json:"at"`
	ConnectedSeconds float64   `json:"connectedSeconds,omitempty"`
	Delivered        bool      `json:"delivered"`
	ActiveCount      int       `json:"activeCount"` // sessions connected after this poll
}
