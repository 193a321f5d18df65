package monitor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vpnwatch/backend/internal/session"
)

// ErrFeedUnavailable is wrapped by every error that prevents the status
// feed from being read.
var ErrFeedUnavailable = errors.New("status feed unavailable")

// CLIENT_LIST field positions (status-version 2).
const (
	fieldID             = 1
	fieldAddress        = 2
	fieldVirtualAddress = 3
	fieldBytesReceived  = 5
	fieldBytesSent      = 6
	fieldConnectedSince = 8

	minFields = 3
)

const maxLineSize = 1 << 20

// StatusFileSource reads sessions from an OpenVPN status file. The file is
// opened afresh on every Snapshot so log rotation and rewrites are picked up.
type StatusFileSource struct {
	path       string
	marker     string
	requireEnd bool
	now        func() time.Time
}

func NewStatusFileSource(path, marker string, requireEnd bool) *StatusFileSource {
	return &StatusFileSource{
		path:       path,
		marker:     marker,
		requireEnd: requireEnd,
		now:        time.Now,
	}
}

func (s *StatusFileSource) Name() string { return "status" }

func (s *StatusFileSource) Path() string { return s.path }

func (s *StatusFileSource) Snapshot() (session.Snapshot, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	defer f.Close()

	snap, sawEnd, err := parseStatus(f, s.marker, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrFeedUnavailable, s.path, err)
	}
	if s.requireEnd && !sawEnd {
		return nil, fmt.Errorf("%w: %s has no END line", ErrFeedUnavailable, s.path)
	}
	return snap, nil
}

// ParseStatus extracts sessions from the marker records in r. Records with
// fewer than three fields or an empty identifier are skipped. When an
// identifier repeats, the last record wins. now becomes each session's
// FirstSeen.
func ParseStatus(r io.Reader, marker string, now time.Time) (session.Snapshot, error) {
	snap, _, err := parseStatus(r, marker, now)
	return snap, err
}

func parseStatus(r io.Reader, marker string, now time.Time) (session.Snapshot, bool, error) {
	snap := make(session.Snapshot)
	prefix := marker + ","
	sawEnd := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "END" {
			sawEnd = true
			continue
		}
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		sess, ok := parseRecord(strings.Split(line, ","), now)
		if !ok {
			continue
		}
		snap[sess.ID] = sess
	}
	if err := sc.Err(); err != nil {
		return nil, false, err
	}
	return snap, sawEnd, nil
}

func parseRecord(fields []string, now time.Time) (session.Session, bool) {
	if len(fields) < minFields || fields[fieldID] == "" {
		return session.Session{}, false
	}

	sess := session.Session{
		ID:        fields[fieldID],
		Address:   fields[fieldAddress],
		FirstSeen: now,
	}
	if v, ok := field(fields, fieldVirtualAddress); ok {
		sess.VirtualAddress = v
	}
	if v, ok := field(fields, fieldBytesReceived); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			sess.BytesReceived = n
		}
	}
	if v, ok := field(fields, fieldBytesSent); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			sess.BytesSent = n
		}
	}
	if v, ok := field(fields, fieldConnectedSince); ok {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil && sec > 0 {
			sess.ConnectedSince = time.Unix(sec, 0).UTC()
		}
	}
	return sess, true
}

func field(fields []string, i int) (string, bool) {
	if i >= len(fields) || fields[i] == "" {
		return "", false
	}
	return fields[i], true
}
