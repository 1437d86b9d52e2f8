package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
)

// validate checks args against schema and reports every missing required
// field and every field whose value has the wrong type. Unknown fields are
// ignored.
func validate(schema Schema, args map[string]any) error {
	var missing, mismatched []string

	for _, name := range schema.Required {
		if v, ok := args[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	for name, prop := range schema.Properties {
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		if !matches(prop, v) {
			mismatched = append(mismatched, fmt.Sprintf("%s (want %s)", name, prop.Type))
		}
	}
	if len(missing) == 0 && len(mismatched) == 0 {
		return nil
	}

	sort.Strings(missing)
	sort.Strings(mismatched)
	err := apperrors.New(apperrors.CodeInvalidArguments, "invalid arguments")
	if len(missing) > 0 {
		err = err.WithContext("missing", missing)
	}
	if len(mismatched) > 0 {
		err = err.WithContext("mismatched", mismatched)
	}
	return err
}

func matches(p Property, v any) bool {
	switch p.Type {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeInteger:
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case TypeArray:
		switch items := v.(type) {
		case []string:
			return p.Items == nil || p.Items.Type == TypeString
		case []any:
			if p.Items == nil {
				return true
			}
			for _, item := range items {
				if !matches(*p.Items, item) {
					return false
				}
			}
			return true
		}
		return false
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// stringArg returns args[name] as a string, or "" when absent.
func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// intArg returns args[name] as an int, or 0 when absent.
func intArg(args map[string]any, name string) int {
	f, _ := toFloat(args[name])
	return int(f)
}

// stringsArg returns args[name] as a string slice.
func stringsArg(args map[string]any, name string) []string {
	switch v := args[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
