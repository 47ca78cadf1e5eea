package auth

import (
	"slices"
	"strings"
)

// SuffixOrder returns the account suffixes to try, each with a leading "@".
// A candidate suffix taken from the login moves to the front when it is
// configured, and is used alone when nothing is configured.
func SuffixOrder(configured []string, candidate string) []string {
	order := make([]string, 0, len(configured))
	for _, s := range configured {
		if s = normalizeSuffix(s); s != "" && !slices.Contains(order, s) {
			order = append(order, s)
		}
	}

	candidate = normalizeSuffix(candidate)
	if candidate == "" {
		return order
	}
	if len(order) == 0 {
		return []string{candidate}
	}
	if i := slices.Index(order, candidate); i > 0 {
		order = slices.Delete(order, i, i+1)
		order = slices.Insert(order, 0, candidate)
	}
	return order
}

func normalizeSuffix(s string) string {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "@")
	if s == "" {
		return ""
	}
	return "@" + s
}
