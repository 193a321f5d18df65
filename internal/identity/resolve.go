package identity

import "strings"

// DefaultExtension is the credential file suffix used to build lookup keys.
const DefaultExtension = ".ovpn"

// Resolve returns the display label for a session identifier using the
// default credential extension.
func Resolve(id string, m Mapping) string {
	return ResolveExt(id, DefaultExtension, m)
}

// ResolveExt looks up id+ext, then the lower-cased and upper-cased variants
// of id, in that order. The first hit is formatted as
// "[<location>] <user> (<filename>)", or "<user> (<filename>)" without a
// location. On a miss the identifier is returned unchanged.
//
// The case probes exist because gateways report the certificate common name
// while credential files are named by hand.
func ResolveExt(id, ext string, m Mapping) string {
	candidates := [...]string{
		id + ext,
		strings.ToLower(id) + ext,
		strings.ToUpper(id) + ext,
	}
	for _, filename := range candidates {
		e, ok := m[filename]
		if !ok {
			continue
		}
		if loc := e.LocationTag(); loc != "" {
			return "[" + loc + "] " + e.User + " (" + filename + ")"
		}
		return e.User + " (" + filename + ")"
	}
	return id
}
