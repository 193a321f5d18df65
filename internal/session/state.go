package session

import (
	"sort"
	"time"
)

// Session is one active connection reported by the gateway, keyed by the
// gateway-assigned identifier (the certificate common name).
type Session struct {
	ID             string    `json:"id"`
	Address        string    `json:"address"`
	VirtualAddress string    `json:"virtualAddress,omitempty"`
	BytesReceived  int64     `json:"bytesReceived,omitempty"`
	BytesSent      int64     `json:"bytesSent,omitempty"`
	ConnectedSince time.Time `json:"connectedSince,omitempty"`
	FirstSeen      time.Time `json:"firstSeen"`
}

// Snapshot is the complete set of sessions observed at one poll instant.
// A snapshot is never modified after it has been produced; methods that
// change sessions return a new snapshot.
type Snapshot map[string]Session

// IDs returns the snapshot's identifiers in ascending order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sessions returns the sessions ordered by identifier.
func (s Snapshot) Sessions() []Session {
	out := make([]Session, 0, len(s))
	for _, id := range s.IDs() {
		out = append(out, s[id])
	}
	return out
}

// InheritFirstSeen returns a copy of s in which every session that was
// already present in prev keeps prev's FirstSeen timestamp.
func (s Snapshot) InheritFirstSeen(prev Snapshot) Snapshot {
	out := make(Snapshot, len(s))
	for id, sess := range s {
		if old, ok := prev[id]; ok && !old.FirstSeen.IsZero() {
			sess.FirstSeen = old.FirstSeen
		}
		out[id] = sess
	}
	return out
}

// ConnectedFor reports how long the session has been observed as of now.
// Zero when FirstSeen is unknown.
func (s Session) ConnectedFor(now time.Time) time.Duration {
	if s.FirstSeen.IsZero() || now.Before(s.FirstSeen) {
		return 0
	}
	return now.Sub(s.FirstSeen)
}
