package templating

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Map is a string-keyed mapping that remembers insertion order. Loops over a
// *Map visit entries in the order they were first set, which plain Go maps
// cannot guarantee. Decoding JSON into a Map keeps the document's key order,
// and nested objects become *Map as well.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap returns an empty Map. Optional pairs are set in order: key, value, key, value...
// It panics if a key is not a string, as that is a programming error.
func NewMap(pairs ...any) *Map {
	m := &Map{values: make(map[string]any, len(pairs)/2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		k, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("templating.NewMap: key %v is %T, not string", pairs[i], pairs[i]))
		}
		m.Set(k, pairs[i+1])
	}
	return m
}

// Set stores v under k. Overwriting an existing key keeps its original position.
func (m *Map) Set(k string, v any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
}

// Get returns the value stored under k.
func (m *Map) Get(k string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[k]
	return v, ok
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order at every level.
// Numbers decode as float64, arrays as []any and objects as *Map.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("templating: cannot decode %v into Map", tok)
	}
	*m = Map{values: make(map[string]any)}
	return decodeObject(dec, m)
}

func decodeObject(dec *json.Decoder, m *Map) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("templating: object key %v is not a string", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return err
		}
		m.Set(key, v)
	}
	// closing '}'
	_, err := dec.Token()
	return err
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			child := &Map{values: make(map[string]any)}
			if err = decodeObject(dec, child); err != nil {
				return nil, err
			}
			return child, nil
		case '[':
			list := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			}
			if _, err = dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("templating: unexpected delimiter %v", t)
	default:
		return t, nil
	}
}
