package utils

import (
	"strings"
)

// ExtractZoneName returns the zone name from a zone self link
func ExtractZoneName(zone string) string {
	parts := strings.Split(zone, "/")
	if len(parts) < 9 {
		return zone
	}
	return parts[len(parts)-1]
}

// Truncate shortens s to max runes, marking the cut with "..."
func Truncate(s string, max int) string {
	r := []rune(s)
	if max <= 3 || len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
