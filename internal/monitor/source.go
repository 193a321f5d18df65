package monitor

import "github.com/vpnwatch/backend/internal/session"

// Source produces the complete set of currently connected sessions. The
// monitor calls Snapshot once per poll from a single goroutine;
// implementations need not be safe for concurrent use.
type Source interface {
	// Name is a short identifier used in logs and health reports.
	Name() string

	// Snapshot reads the current sessions. An error means the feed could
	// not be read at all; the monitor then keeps its previous snapshot.
	Snapshot() (session.Snapshot, error)
}
