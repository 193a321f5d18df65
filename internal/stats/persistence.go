package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"time"
)

const (
	// statsVersion is bumped when the schema changes.
	statsVersion = 1

	statsFileName = "stats.json"
	appDirName    = "vpnwatch"
)

// Stats is the persistent aggregate of observed session transitions. It is
// saved to ~/.local/state/vpnwatch/stats.json (respecting XDG_STATE_HOME).
type Stats struct {
	Version int `json:"version"`

	TotalLogins      int `json:"totalLogins"`
	TotalLogouts     int `json:"totalLogouts"`
	DeliveryFailures int `json:"deliveryFailures"`

	// Keyed by session identifier (credential name).
	LoginsPerSession map[string]int       `json:"loginsPerSession"`
	LastSeen         map[string]time.Time `json:"lastSeen"`

	MaxConcurrent     int     `json:"maxConcurrent"`
	LongestSessionSec float64 `json:"longestSessionSec"`

	LastUpdated time.Time `json:"lastUpdated"`
}

// Store is the on-disk home of Stats.
type Store struct {
	dir string
}

// NewStore creates a Store that reads and writes stats in dir. The directory
// is created on the first Save. An empty dir selects the XDG state path.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = defaultStatsDir()
	}
	return &Store{dir: dir}
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, statsFileName)
}

// Load reads stats from disk. A missing file yields empty stats.
func (s *Store) Load() (*Stats, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return newStats(), nil
	} else if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.Path(), err)
	}

	st := newStats()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.Path(), err)
	}
	// A file written with "null" maps decodes them back to nil.
	if st.LoginsPerSession == nil {
		st.LoginsPerSession = make(map[string]int)
	}
	if st.LastSeen == nil {
		st.LastSeen = make(map[string]time.Time)
	}
	return st, nil
}

// Save stamps st and writes it atomically.
func (s *Store) Save(st *Stats) error {
	st.Version = statsVersion
	st.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("stats dir: %w", err)
	}
	return writeAtomic(s.Path(), append(data, '\n'))
}

// writeAtomic replaces path with data via a sibling temp file, so readers
// see either the old or the new content.
func writeAtomic(path string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", f.Name(), err)
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

func newStats() *Stats {
	return &Stats{
		Version:          statsVersion,
		LoginsPerSession: make(map[string]int),
		LastSeen:         make(map[string]time.Time),
	}
}

func (st *Stats) clone() *Stats {
	cp := *st
	cp.LoginsPerSession = maps.Clone(st.LoginsPerSession)
	cp.LastSeen = maps.Clone(st.LastSeen)
	return &cp
}

func defaultStatsDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, appDirName)
}
