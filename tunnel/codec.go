package tunnel

import (
	"encoding/json"
	"time"
)

// Store snapshots arrive as loosely typed JSON-ish values: numbers may be
// int64 from the in-process store or float64 off the wire. These helpers
// coerce without panicking on malformed data.

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// millisToTime treats non-positive values as invalid and returns the zero
// time so callers can substitute receipt time.
func millisToTime(millis int64) time.Time {
	if millis <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}
