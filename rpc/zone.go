package rpc

import (
	"regexp"
	"strings"
)

// zoneRE is the DNS zone name syntax pattern from spec §6, applied
// post-lowercase, post-dot-strip. Ported from the Python `dnsre` in
// original_source/src/genericapi.py.
var zoneRE = regexp.MustCompile(`^[0-9a-zA-Z]+(-[0-9a-zA-Z]+)*(\.[0-9a-zA-Z]+(-[0-9a-zA-Z])*)+$`)

// NormalizeZone lowercases a zone name and strips a single trailing
// dot, per dispatcher step 3 (spec §4.5).
func NormalizeZone(zone string) string {
	zone = strings.ToLower(zone)
	zone = strings.TrimSuffix(zone, ".")
	return zone
}

// ValidZoneName reports whether zone (already normalized) matches the
// DNS zone name grammar: at least two labels, no trailing dot. The
// first label is alphanumeric with single internal hyphens ("a-bc");
// in every later label each hyphen is followed by exactly one
// alphanumeric character ("c-d" matches, "my-zone" does not). A
// double hyphen is rejected in any label.
func ValidZoneName(zone string) bool {
	return zoneRE.MatchString(zone)
}
