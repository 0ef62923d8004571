package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// InputValue is a single named contract input value. Value holds the raw
// JSON, which is a string for ABI parameters but may be any JSON value
// (deposit imports carry hidden/locked booleans).
type InputValue struct {
	Name  string
	Value json.RawMessage
}

// InputValues is an ordered contractInputsValues object. Key order is
// preserved through decode and encode.
type InputValues []InputValue

// NewInputValue encodes v as the value for name.
func NewInputValue(name string, v interface{}) (InputValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return InputValue{}, err
	}
	return InputValue{Name: name, Value: raw}, nil
}

// Get returns the raw value stored under name.
func (v InputValues) Get(name string) (json.RawMessage, bool) {
	for _, iv := range v {
		if iv.Name == name {
			return iv.Value, true
		}
	}
	return nil, false
}

// String returns the value under name decoded as a string. Non-string
// values are returned in their JSON form.
func (v InputValues) String(name string) string {
	raw, ok := v.Get(name)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}

// Names returns the keys in order.
func (v InputValues) Names() []string {
	names := make([]string, 0, len(v))
	for _, iv := range v {
		names = append(names, iv.Name)
	}
	return names
}

func (v InputValues) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, iv := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(iv.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if len(iv.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		if err := json.Compact(&buf, iv.Value); err != nil {
			return nil, fmt.Errorf("contract input %q: %w", iv.Name, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (v *InputValues) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*v = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("contractInputsValues: expected object, got %v", tok)
	}
	var out InputValues
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("contractInputsValues: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("contractInputsValues %q: %w", name, err)
		}
		out = append(out, InputValue{Name: name, Value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*v = out
	return nil
}
