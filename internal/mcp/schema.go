package mcp

import (
	"fmt"
	"math"
	"strings"

	"vbox-mcp/internal/provider"
)

// FieldType is the wire type of one tool argument.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
)

// Field is one entry of a tool's input schema. The descriptor is the
// single source of truth: the runtime validator and the advertised JSON
// schema are both generated from it, so a handler can never drift from
// its contract.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Required    bool
	Default     any
	Enum        []string
	Min         *int
	Max         *int
	MaxLen      int
}

// IntPtr is a convenience for Min/Max bounds in field literals.
func IntPtr(v int) *int { return &v }

// Args is a validated, default-applied argument record. Values are
// normalized: integer fields hold int, number fields float64.
type Args map[string]any

// String returns the named string argument ("" when absent).
func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// Int returns the named integer argument (0 when absent).
func (a Args) Int(name string) int {
	v, _ := a[name].(int)
	return v
}

// Bool returns the named boolean argument (false when absent).
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// Object returns the named object argument (nil when absent).
func (a Args) Object(name string) map[string]any {
	v, _ := a[name].(map[string]any)
	return v
}

// validateArgs checks raw arguments against a field list and returns the
// normalized record. Unknown fields are permitted and dropped: newer
// clients may send arguments this server does not know yet, and the call
// must behave as if they were absent.
func validateArgs(fields []Field, raw map[string]any) (Args, error) {
	out := make(Args, len(fields))
	var missing []string

	for _, f := range fields {
		v, present := raw[f.Name]
		if !present || v == nil {
			if f.Required {
				missing = append(missing, f.Name)
				continue
			}
			if f.Default != nil {
				out[f.Name] = f.Default
			}
			continue
		}
		normalized, err := coerce(f, v)
		if err != nil {
			return nil, err
		}
		out[f.Name] = normalized
	}

	if len(missing) > 0 {
		return nil, provider.Errorf(provider.KindInvalidArguments,
			"missing required fields: %s", strings.Join(missing, ", ")).
			WithDetail("missing_fields", missing)
	}
	return out, nil
}

// coerce checks one value against its field declaration and normalizes
// its Go representation.
func coerce(f Field, v any) (any, error) {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, typeMismatch(f, v)
		}
		if f.MaxLen > 0 && len(s) > f.MaxLen {
			return nil, provider.Errorf(provider.KindInvalidArguments,
				"field %s exceeds the maximum length of %d", f.Name, f.MaxLen).
				WithDetail("field", f.Name)
		}
		if len(f.Enum) > 0 {
			for _, allowed := range f.Enum {
				if s == allowed {
					return s, nil
				}
			}
			return nil, provider.Errorf(provider.KindInvalidArguments,
				"field %s must be one of: %s", f.Name, strings.Join(f.Enum, ", ")).
				WithDetail("field", f.Name).
				WithDetail("allowed", f.Enum)
		}
		return s, nil

	case TypeInteger:
		n, ok := asInt(v)
		if !ok {
			return nil, typeMismatch(f, v)
		}
		if f.Min != nil && n < *f.Min {
			return nil, rangeError(f, n)
		}
		if f.Max != nil && n > *f.Max {
			return nil, rangeError(f, n)
		}
		return n, nil

	case TypeNumber:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		default:
			return nil, typeMismatch(f, v)
		}

	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, typeMismatch(f, v)
		}
		return b, nil

	case TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, typeMismatch(f, v)
		}
		return m, nil

	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return nil, typeMismatch(f, v)
		}
		return arr, nil
	}
	return nil, provider.Errorf(provider.KindInternal, "field %s has unknown type %q", f.Name, f.Type)
}

// asInt accepts JSON numbers that are integral.
func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	default:
		return 0, false
	}
}

func typeMismatch(f Field, v any) error {
	return provider.Errorf(provider.KindInvalidArguments,
		"field %s must be a %s, got %T", f.Name, f.Type, v).
		WithDetail("field", f.Name).
		WithDetail("expected_type", string(f.Type))
}

func rangeError(f Field, n int) error {
	bounds := ""
	if f.Min != nil {
		bounds = fmt.Sprintf(" >= %d", *f.Min)
	}
	if f.Max != nil {
		bounds += fmt.Sprintf(" <= %d", *f.Max)
	}
	return provider.Errorf(provider.KindInvalidArguments,
		"field %s must be%s, got %d", f.Name, bounds, n).
		WithDetail("field", f.Name)
}
