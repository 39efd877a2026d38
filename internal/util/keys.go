// Package util contains small pure helpers shared across packages.
package util

import "strings"

// CamelizeKeys returns a copy of v in which every map key is converted from
// snake_case to lowerCamelCase, recursing through nested maps and slices.
// Non-map, non-slice values are returned unchanged.
//
// Vendor adapters use this at the decode boundary so vendor key conventions
// never leak into the normalized event model.
func CamelizeKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[CamelCase(k)] = CamelizeKeys(inner)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = CamelizeKeys(inner)
		}

		return out
	default:
		return v
	}
}

// CamelCase converts a snake_case identifier to lowerCamelCase. Keys without
// underscores pass through untouched, so already-camelCase vendor payloads
// are stable under conversion.
func CamelCase(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}

	parts := strings.Split(s, "_")
	var b strings.Builder
	b.Grow(len(s))

	first := true
	for _, p := range parts {
		if p == "" {
			continue
		}
		if first {
			b.WriteString(p)
			first = false
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}

	return b.String()
}
