package schema

import (
	"fmt"
)

// FromMap builds a Schema from a decoded configuration object. It accepts
// "required" plus per-field constraints under either "fields" or
// "properties". Keys it does not recognize are ignored.
func FromMap(m map[string]any) (Schema, error) {
	var s Schema
	if m == nil {
		return s, nil
	}

	if raw, ok := m["required"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			if strs, isStrs := raw.([]string); isStrs {
				s.Required = append(s.Required, strs...)
			} else {
				return s, fmt.Errorf("required must be a list, got %T", raw)
			}
		}
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				return s, fmt.Errorf("required entries must be strings, got %T", item)
			}
			s.Required = append(s.Required, name)
		}
	}

	fields, err := fieldMap(m)
	if err != nil {
		return s, err
	}
	if len(fields) == 0 {
		return s, nil
	}

	s.Fields = make(map[string]Field, len(fields))
	for name, raw := range fields {
		def, ok := raw.(map[string]any)
		if !ok {
			return s, fmt.Errorf("field %s: constraints must be an object, got %T", name, raw)
		}
		f, err := parseField(def)
		if err != nil {
			return s, fmt.Errorf("field %s: %w", name, err)
		}
		s.Fields[name] = f
	}
	return s, nil
}

func fieldMap(m map[string]any) (map[string]any, error) {
	for _, key := range []string{"fields", "properties"} {
		raw, ok := m[key]
		if !ok || raw == nil {
			continue
		}
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s must be an object, got %T", key, raw)
		}
		return fields, nil
	}
	return nil, nil
}

func parseField(def map[string]any) (Field, error) {
	var f Field
	if t, ok := def["type"]; ok {
		s, ok := t.(string)
		if !ok {
			return f, fmt.Errorf("type must be a string, got %T", t)
		}
		f.Type = s
	}
	if v, ok := def["minimum"]; ok {
		n, ok := numeric(v)
		if !ok {
			return f, fmt.Errorf("minimum must be numeric, got %T", v)
		}
		f.Minimum = Float(n)
	}
	if v, ok := def["maximum"]; ok {
		n, ok := numeric(v)
		if !ok {
			return f, fmt.Errorf("maximum must be numeric, got %T", v)
		}
		f.Maximum = Float(n)
	}
	if v, ok := def["enum"]; ok {
		list, ok := v.([]any)
		if !ok {
			return f, fmt.Errorf("enum must be a list, got %T", v)
		}
		f.Enum = list
	}
	f.Default = def["default"]
	return f, nil
}
