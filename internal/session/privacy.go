package session

import (
	"crypto/sha256"
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// PrivacyFilter applies masking and identifier-based filtering to sessions
// and transitions before they leave the process through the status server.
// The zero value is a no-op filter. Notifications are never filtered.
type PrivacyFilter struct {
	MaskAddresses  bool
	MaskSessionIDs bool
	AllowedIDs     []string
	BlockedIDs     []string
}

// IsAllowed reports whether a session identifier may be exposed. When
// AllowedIDs is non-empty, the identifier must match at least one glob
// pattern. If it passes the allowlist, it must not match any BlockedIDs
// pattern. Matching is case-insensitive.
func (f *PrivacyFilter) IsAllowed(id string) bool {
	if len(f.AllowedIDs) > 0 {
		allowed := false
		for _, pattern := range f.AllowedIDs {
			if matchID(pattern, id) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pattern := range f.BlockedIDs {
		if matchID(pattern, id) {
			return false
		}
	}

	return true
}

func matchID(pattern, id string) bool {
	matched, _ := filepath.Match(strings.ToLower(pattern), strings.ToLower(id))
	return matched
}

// Apply returns a copy of the session with sensitive fields masked.
func (f *PrivacyFilter) Apply(s Session) Session {
	if f.MaskAddresses {
		s.Address = maskAddress(s.Address)
		s.VirtualAddress = maskAddress(s.VirtualAddress)
	}
	if f.MaskSessionIDs && s.ID != "" {
		s.ID = shortHash(s.ID)
	}
	return s
}

// ApplyTransition masks a transition the same way Apply masks a session.
// The resolved identity is masked together with the identifier because it
// usually embeds the credential file name.
func (f *PrivacyFilter) ApplyTransition(t Transition) Transition {
	if f.MaskAddresses {
		t.Address = maskAddress(t.Address)
	}
	if f.MaskSessionIDs && t.SessionID != "" {
		t.SessionID = shortHash(t.SessionID)
		t.Identity = t.SessionID
	}
	return t
}

// FilterSlice returns the allowed sessions with masking applied. The input
// slice is not modified.
func (f *PrivacyFilter) FilterSlice(sessions []Session) []Session {
	result := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if !f.IsAllowed(s.ID) {
			continue
		}
		result = append(result, f.Apply(s))
	}
	return result
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskAddresses && !f.MaskSessionIDs &&
		len(f.AllowedIDs) == 0 && len(f.BlockedIDs) == 0
}

// maskAddress hides the host part of an address, keeping the network
// prefix: IPv4 keeps the first three octets, IPv6 the /64.
// Ports are dropped. Values that are not IP addresses are hashed.
func maskAddress(addr string) string {
	if addr == "" {
		return ""
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return shortHash(addr)
	}
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.x", v4[0], v4[1], v4[2])
	}
	return ip.Mask(net.CIDRMask(64, 128)).String() + "/64"
}

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
