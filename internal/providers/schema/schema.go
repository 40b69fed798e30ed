// Package schema is a small field-presence validator providers use to check
// a decoded response shape before wrapping it as a typed record. None of the
// example repos in this corpus pull in a JSON-schema library for this; this
// is the one deliberately stdlib-only corner of the engine (see DESIGN.md).
package schema

import (
	"fmt"
)

// Rule describes one required field and an optional type-check.
type Rule struct {
	Path     string // dotted path, e.g. "result.amount"
	Required bool
}

// Validate walks decoded (the result of json.Unmarshal into map[string]any)
// and reports the first missing required field, formatted as the dotted
// path the caller can attach to a Validation error's SchemaPath.
func Validate(decoded map[string]any, rules []Rule) error {
	for _, r := range rules {
		if !r.Required {
			continue
		}
		if !pathExists(decoded, r.Path) {
			return fmt.Errorf("schema: missing required field %q", r.Path)
		}
	}
	return nil
}

func pathExists(m map[string]any, path string) bool {
	cur := any(m)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			segment := path[start:i]
			asMap, ok := cur.(map[string]any)
			if !ok {
				return false
			}
			v, exists := asMap[segment]
			if !exists || v == nil {
				return false
			}
			cur = v
			start = i + 1
		}
	}
	return true
}
