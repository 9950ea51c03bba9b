// Package util provides small string helpers shared by the settings codec,
// the reconciler and the CLI.
package util

import "strings"

// SplitCSV splits a comma-separated string into a slice, trimming whitespace.
// Returns nil for empty strings.
func SplitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// ParsePairs parses a "key:value,key:value" list into a map.
// Entries without a colon are ignored. Later keys win.
func ParsePairs(s string) map[string]string {
	pairs := make(map[string]string)
	for _, part := range SplitCSV(s) {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		pairs[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return pairs
}

// Truncate shortens s to at most n characters, appending suffix when cut.
// It never splits a multibyte character.
func Truncate(s string, n int, suffix string) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + suffix
		}
		count++
	}
	return s
}
