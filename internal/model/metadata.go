package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Reserved metadata keys.
const (
	MetaSector      = "sector"
	MetaDecayLambda = "decay_lambda"
	MetaSalience    = "salience"
	MetaSourceIDs   = "source_ids"
)

// Metadata is an open key/value map restricted to string, float64, bool and
// []string values.
type Metadata map[string]any

// NormalizeMetadata converts m to canonical value types and validates the
// reserved keys. Integers become float64; []any of strings becomes []string.
func NormalizeMetadata(m map[string]any) (Metadata, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if k == "" {
			return nil, fmt.Errorf("%w: empty metadata key", ErrInvalidQuery)
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata %q: %v", ErrInvalidQuery, k, err)
		}
		out[k] = nv
	}
	if err := out.validateReserved(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case []string:
		cp := make([]string, len(x))
		copy(cp, x)
		return cp, nil
	case []any:
		cp := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("list values must be strings, got %T", e)
			}
			cp = append(cp, s)
		}
		return cp, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func (m Metadata) validateReserved() error {
	if v, ok := m[MetaSector]; ok {
		s, isStr := v.(string)
		if !isStr {
			return fmt.Errorf("%w: metadata sector must be a string", ErrInvalidQuery)
		}
		if _, err := ParseSector(s); err != nil {
			return err
		}
	}
	if v, ok := m[MetaDecayLambda]; ok {
		f, isNum := v.(float64)
		if !isNum || f <= 0 {
			return fmt.Errorf("%w: metadata decay_lambda must be a positive number", ErrInvalidQuery)
		}
	}
	if v, ok := m[MetaSalience]; ok {
		f, isNum := v.(float64)
		if !isNum || f < 0 || f > 1 {
			return fmt.Errorf("%w: metadata salience must be within [0,1]", ErrInvalidQuery)
		}
	}
	return nil
}

// String returns the string value at key.
func (m Metadata) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Float returns the numeric value at key.
func (m Metadata) Float(key string) (float64, bool) {
	f, ok := m[key].(float64)
	return f, ok
}

// Strings returns the string list at key.
func (m Metadata) Strings(key string) ([]string, bool) {
	l, ok := m[key].([]string)
	return l, ok
}

// Sector returns the explicit sector override, if any.
func (m Metadata) Sector() (Sector, bool) {
	s, ok := m.String(MetaSector)
	if !ok || !ValidSectors[Sector(s)] {
		return "", false
	}
	return Sector(s), true
}

// Merge returns a copy of m with patch applied on top.
func (m Metadata) Merge(patch Metadata) Metadata {
	if len(m) == 0 && len(patch) == 0 {
		return nil
	}
	out := make(Metadata, len(m)+len(patch))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DecodeMetadata parses a JSON object stored by the repository.
func DecodeMetadata(raw string) (Metadata, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return NormalizeMetadata(m)
}
