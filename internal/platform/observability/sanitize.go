package observability

import (
	"strings"
	"unicode"
)

// clean drops control characters (newlines, ANSI escapes) from values copied into log
// fields and keeps at most limit runes.
func clean(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, 180)
}

func SanitizeMethod(method string) string {
	return strings.ToUpper(clean(method, 10))
}

// SanitizeID bounds user, order and item IDs taken from tokens or URLs.
func SanitizeID(id string) string {
	return clean(strings.TrimSpace(id), 64)
}
