package utils

import (
	"strings"
)

// Dedup drops duplicate endpoints, ignoring trailing slashes.
func Dedup(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range in {
		e = strings.TrimRight(e, "/")
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// NormalizeAddress lower-cases a hex address and strips an optional 0x prefix so that addresses coming
// from the RPC, the API and the database compare equal.
func NormalizeAddress(addr string) string {
	a := strings.ToLower(strings.TrimSpace(addr))
	return strings.TrimPrefix(a, "0x")
}
