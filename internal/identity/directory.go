package identity

import (
	"sync"

	"github.com/rs/zerolog"
)

// Directory holds the mapping store loaded from disk and resolves
// identifiers against it. It is safe for concurrent use: the monitor
// resolves while a SIGHUP handler may call Reload.
type Directory struct {
	mu      sync.RWMutex
	path    string
	ext     string
	mapping Mapping
	log     zerolog.Logger
}

// NewDirectory creates an empty directory for the mapping file at path.
// An empty ext selects DefaultExtension.
func NewDirectory(path, ext string, logger zerolog.Logger) *Directory {
	if ext == "" {
		ext = DefaultExtension
	}
	return &Directory{
		path:    path,
		ext:     ext,
		mapping: make(Mapping),
		log:     logger,
	}
}

// Load reads the mapping store once at startup. Any failure is logged and
// leaves the directory empty so resolution falls back to raw identifiers.
func (d *Directory) Load() {
	if d.path == "" {
		d.log.Warn().Msg("No mapping store configured, identities will not be resolved")
		return
	}
	m, err := d.read()
	if err != nil {
		d.log.Warn().Err(err).Str("path", d.path).Msg("Mapping store unavailable, using raw identifiers")
		return
	}
	d.swap(m)
}

// Reload re-reads the mapping store. On failure the current mapping is kept
// and the error is returned.
func (d *Directory) Reload() error {
	if d.path == "" {
		return nil
	}
	m, err := d.read()
	if err != nil {
		d.log.Error().Err(err).Str("path", d.path).Msg("Mapping reload failed, keeping previous mapping")
		return err
	}
	d.swap(m)
	return nil
}

func (d *Directory) read() (Mapping, error) {
	m, invalid, err := LoadMapping(d.path)
	if err != nil {
		return nil, err
	}
	if len(invalid) > 0 {
		d.log.Warn().Strs("keys", invalid).Msg("Ignoring mapping entries without a user")
	}
	return m, nil
}

func (d *Directory) swap(m Mapping) {
	d.mu.Lock()
	d.mapping = m
	d.mu.Unlock()
	d.log.Info().
		Int("entries", len(m)).
		Int("active", m.ActiveCount()).
		Str("path", d.path).
		Msg("Loaded VPN mappings")
}

// Resolve returns the display label for id.
func (d *Directory) Resolve(id string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ResolveExt(id, d.ext, d.mapping)
}

// Len returns the number of loaded entries.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.mapping)
}
