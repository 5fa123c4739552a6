// Package schema validates component configuration objects against a
// declared schema. Validation is pure: the caller's config is never mutated
// and every violation is reported in one pass.
package schema

import (
	"fmt"
	"maps"
	"reflect"
	"sort"
	"time"
)

// Field types understood by Validate.
const (
	TypeString   = "string"
	TypeInteger  = "integer"
	TypeNumber   = "number"
	TypeBoolean  = "boolean"
	TypeArray    = "array"
	TypeObject   = "object"
	TypeDuration = "duration"
)

// Schema declares required fields and per-field constraints.
type Schema struct {
	Required []string         `json:"required,omitempty" yaml:"required,omitempty"`
	Fields   map[string]Field `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Field constrains a single config key. Nil bounds and an empty enum mean
// "unconstrained".
type Field struct {
	Type    string   `json:"type,omitempty" yaml:"type,omitempty"`
	Minimum *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	Enum    []any    `json:"enum,omitempty" yaml:"enum,omitempty"`
	Default any      `json:"default,omitempty" yaml:"default,omitempty"`
}

// Result is the outcome of Validate. Config is the effective configuration:
// a copy of the input with defaults applied for absent fields.
type Result struct {
	Valid  bool           `json:"valid"`
	Errors []string       `json:"errors"`
	Config map[string]any `json:"config,omitempty"`
}

// Float is a helper for building Minimum/Maximum bounds inline.
func Float(v float64) *float64 { return &v }

// Validate checks config against s. Required fields are checked against the
// caller's input, so a default never satisfies a required field.
func Validate(config map[string]any, s Schema) Result {
	errs := make([]string, 0)

	for _, name := range s.Required {
		if v, ok := config[name]; !ok || v == nil {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", name))
		}
	}

	effective := make(map[string]any, len(config)+len(s.Fields))
	maps.Copy(effective, config)

	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := s.Fields[name]
		v, ok := config[name]
		if !ok || v == nil {
			if f.Default != nil {
				effective[name] = f.Default
			}
			continue
		}
		errs = append(errs, checkField(name, v, f)...)
	}

	return Result{
		Valid:  len(errs) == 0,
		Errors: errs,
		Config: effective,
	}
}

func checkField(name string, v any, f Field) []string {
	var errs []string

	if f.Type != "" && !isValidType(v, f.Type) {
		// Range and enum checks are meaningless on a mistyped value.
		return []string{fmt.Sprintf("Field %s must be of type %s", name, f.Type)}
	}

	if f.Minimum != nil || f.Maximum != nil {
		if n, ok := numeric(v); ok {
			if f.Minimum != nil && n < *f.Minimum {
				errs = append(errs, fmt.Sprintf("Field %s must be >= %v", name, *f.Minimum))
			}
			if f.Maximum != nil && n > *f.Maximum {
				errs = append(errs, fmt.Sprintf("Field %s must be <= %v", name, *f.Maximum))
			}
		}
	}

	if len(f.Enum) > 0 && !inEnum(v, f.Enum) {
		errs = append(errs, fmt.Sprintf("Field %s must be one of %v", name, f.Enum))
	}

	return errs
}

func isValidType(value any, expected string) bool {
	switch expected {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInteger:
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON numbers decode as float64
			return v == float64(int64(v))
		case float32:
			return v == float32(int64(v))
		}
		return false
	case TypeNumber:
		_, ok := numeric(value)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeArray:
		if value == nil {
			return false
		}
		k := reflect.TypeOf(value).Kind()
		return k == reflect.Slice || k == reflect.Array
	case TypeObject:
		if value == nil {
			return false
		}
		return reflect.TypeOf(value).Kind() == reflect.Map
	case TypeDuration:
		_, ok := Duration(value)
		return ok
	default:
		return true
	}
}

// Duration reads a value accepted by TypeDuration: a time.Duration or a
// string understood by time.ParseDuration.
func Duration(value any) (time.Duration, bool) {
	switch v := value.(type) {
	case time.Duration:
		return v, true
	case string:
		d, err := time.ParseDuration(v)
		return d, err == nil
	}
	return 0, false
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func inEnum(v any, allowed []any) bool {
	for _, a := range allowed {
		if equalLiteral(v, a) {
			return true
		}
	}
	return false
}

// equalLiteral compares numbers by value so that 3 (int) matches 3.0
// (float64 from a decoded document).
func equalLiteral(a, b any) bool {
	if na, ok := numeric(a); ok {
		if nb, ok := numeric(b); ok {
			return na == nb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}
