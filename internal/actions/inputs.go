package actions

import (
	"encoding/json"
	"time"

	"github.com/spf13/cast"
)

// Input helpers shared by the built-in steps. Resolved inputs arrive with
// loosely typed values, so every helper coerces and falls back to def.

func stringInput(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}

func intInput(m map[string]any, key string, def int) int {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

func boolInput(m map[string]any, key string, def bool) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// objectInput accepts an object or a JSON string holding one.
func objectInput(m map[string]any, key string) (map[string]any, bool) {
	switch v := m[key].(type) {
	case map[string]any:
		return v, true
	case string:
		if v == "" {
			return nil, false
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(v), &obj); err != nil {
			return nil, false
		}
		return obj, true
	default:
		return nil, false
	}
}

func durationMillis(m map[string]any, key string) time.Duration {
	return time.Duration(intInput(m, key, 0)) * time.Millisecond
}
