package rules

import "strings"

// MatchPattern reports whether value matches pattern. A sole "*" matches
// everything, a trailing "*" matches by prefix, anything else must match
// exactly. Matching is case-sensitive.
func MatchPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, pattern[:len(pattern)-1])
	}
	return pattern == value
}

// MatchAny returns the first pattern matching value.
func MatchAny(patterns []string, value string) (string, bool) {
	for _, p := range patterns {
		if MatchPattern(p, value) {
			return p, true
		}
	}
	return "", false
}

// NormalizeAddress lowercases and trims an address for comparison.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// EqualAddress compares two addresses case-insensitively.
func EqualAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// AddressSet builds a normalized lookup set. Empty entries are skipped.
func AddressSet(addrs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if n := NormalizeAddress(a); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// ContainsAddress reports whether addr is in addrs, ignoring case.
func ContainsAddress(addrs []string, addr string) bool {
	for _, a := range addrs {
		if EqualAddress(a, addr) {
			return true
		}
	}
	return false
}
