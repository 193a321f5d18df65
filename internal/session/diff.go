package session

// Diff compares two successive snapshots. It returns one EventStarted for
// every identifier in cur that is missing from prev, followed by one
// EventEnded for every identifier in prev that is missing from cur. Both
// groups are ordered by identifier. Identifiers present in both snapshots
// never produce an event, even if their address changed.
func Diff(prev, cur Snapshot) []Event {
	var events []Event
	for _, id := range cur.IDs() {
		if _, ok := prev[id]; !ok {
			events = append(events, Event{Type: EventStarted, Session: cur[id]})
		}
	}
	for _, id := range prev.IDs() {
		if _, ok := cur[id]; !ok {
			events = append(events, Event{Type: EventEnded, Session: prev[id]})
		}
	}
	return events
}
