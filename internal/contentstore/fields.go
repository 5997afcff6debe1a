package contentstore

import (
	"encoding/json"
	"math"
)

// Fields holds localized entry fields: field name -> locale -> value.
type Fields map[string]map[string]any

// Clone returns a copy deep enough that setting a value on it leaves f untouched.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for name, locales := range f {
		cp := make(map[string]any, len(locales))
		for loc, v := range locales {
			cp[loc] = v
		}
		out[name] = cp
	}
	return out
}

// Int reads an integer field value. Values decoded from JSON arrive as float64.
func (f Fields) Int(field, locale string) (int, bool) {
	locales, ok := f[field]
	if !ok {
		return 0, false
	}
	switch v := locales[locale].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// With returns a copy of f with field/locale set to v.
func (f Fields) With(field, locale string, v any) Fields {
	out := f.Clone()
	if out[field] == nil {
		out[field] = map[string]any{}
	}
	out[field][locale] = v
	return out
}
