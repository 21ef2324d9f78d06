package orchestrator

import "strings"

var mapKeywords = []string{"navigate", "directions", "map", "route", "location", "address", "where is"}

// ContainsMapIntent reports whether text mentions any navigation keyword.
// It is a loose substring match, so "roadmap" counts as a map request.
func ContainsMapIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range mapKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
