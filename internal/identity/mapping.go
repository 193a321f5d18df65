// Package identity translates gateway session identifiers into the
// human-readable labels kept in the credential mapping store.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Entry is one credential file's record in the mapping store.
type Entry struct {
	User     string  `json:"user"`
	Location *string `json:"location"`
	Active   *bool   `json:"active,omitempty"`
	Filename string  `json:"filename,omitempty"`
	FileDate string  `json:"file_date,omitempty"`
}

// IsActive reports whether the entry is marked active. Entries without the
// flag are active.
func (e Entry) IsActive() bool {
	return e.Active == nil || *e.Active
}

// LocationTag returns the location, or "" when absent.
func (e Entry) LocationTag() string {
	if e.Location == nil {
		return ""
	}
	return *e.Location
}

// Mapping is the mapping store keyed by credential file name
// (e.g. "alice.ovpn").
type Mapping map[string]Entry

// ParseMapping decodes a mapping store document. Entries that are not
// objects or lack a non-empty "user" are left out; their keys are returned
// sorted in invalid so the caller can report them.
func ParseMapping(data []byte) (m Mapping, invalid []string, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing mapping: %w", err)
	}

	m = make(Mapping, len(raw))
	for key, value := range raw {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil || e.User == "" {
			invalid = append(invalid, key)
			continue
		}
		m[key] = e
	}
	sort.Strings(invalid)
	return m, invalid, nil
}

// LoadMapping reads and parses the mapping store at path.
func LoadMapping(path string) (Mapping, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading mapping: %w", err)
	}
	return ParseMapping(data)
}

// ActiveCount returns the number of entries not marked inactive.
func (m Mapping) ActiveCount() int {
	n := 0
	for _, e := range m {
		if e.IsActive() {
			n++
		}
	}
	return n
}
