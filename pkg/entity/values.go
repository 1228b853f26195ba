package entity

import (
	"github.com/susom/redcap-entity/pkg/types"
)

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// fromColumn converts a value read from storage into the normalized form
// SetData would have produced, so a loaded record compares equal to the
// values that were saved.
func fromColumn(p types.PropertyInfo, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}
	switch p.Type {
	case types.PropertyBoolean:
		if b, ok := toBool(v); ok {
			return b
		}
	case types.PropertyInteger, types.PropertyEntityReference:
		if n, ok := toInt64(v); ok {
			return n
		}
	case types.PropertyDate:
		switch x := v.(type) {
		case string:
			return x
		case float64:
			if n, ok := floatToInt64(x); ok {
				return n
			}
			return x
		}
		if n, ok := toInt64(v); ok {
			return n
		}
	case types.PropertyRecord, types.PropertyUser, types.PropertyProject:
		if s, ok := referenceKey(v); ok {
			return s
		}
	}
	return v
}
