package model

import "encoding/json"

// marshalFlatStringMap renders a map[string]T as a plain JSON object,
// used by types whose Rust original applied #[serde(flatten)] to a
// BTreeMap field.
func marshalFlatStringMap[T any](m map[string]T) ([]byte, error) {
	if m == nil {
		m = map[string]T{}
	}
	return json.Marshal(m)
}

// unmarshalFlatStringMap is the inverse of marshalFlatStringMap.
func unmarshalFlatStringMap[T any](b []byte) (map[string]T, error) {
	var m map[string]T
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
