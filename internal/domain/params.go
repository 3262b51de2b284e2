package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a free-form JSON object stored in a TEXT/JSON/JSONB column.
// A nil map serializes to SQL NULL.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return string(b), nil
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// ParseParams decodes a JSON object, treating empty input as an empty map.
func ParseParams(raw []byte) (JSONMap, error) {
	if len(raw) == 0 {
		return JSONMap{}, nil
	}
	var m JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse params: %w", err)
	}
	if m == nil {
		m = JSONMap{}
	}
	return m, nil
}

// MergeParams is a shallow key-wise union of base and override; override keys
// win on conflict. Values are not deep-merged.
func MergeParams(base, override JSONMap) JSONMap {
	merged := make(JSONMap, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
