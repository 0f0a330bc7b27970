package tools

import (
	"encoding/json"
	"math"
)

// Args are validated tool arguments.
type Args map[string]any

// String returns a string argument or "".
func (a Args) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Int returns an integer argument or def when absent.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// Bool returns a boolean argument or def when absent.
func (a Args) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

// Decode converts the arguments into a typed struct.
func (a Args) Decode(out any) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return InvalidArguments("decode arguments: %v", err)
	}
	return nil
}

// Require returns an InvalidArguments error if any key is missing or empty.
func (a Args) Require(keys ...string) error {
	for _, key := range keys {
		v, ok := a[key]
		if !ok || v == nil || v == "" {
			return InvalidArguments("missing required argument %q", key)
		}
	}
	return nil
}
