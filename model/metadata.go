package model

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sagernet/sing/common/json"
)

// Metadata is a small insertion-ordered key/value map. The zero value is
// ready to use.
type Metadata struct {
	keys   []string
	values map[string]any
}

func (m *Metadata) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, loaded := m.values[key]; !loaded {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *Metadata) Get(key string) (any, bool) {
	value, loaded := m.values[key]
	return value, loaded
}

func (m *Metadata) GetString(key string) (string, bool) {
	value, loaded := m.values[key]
	if !loaded {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

func (m *Metadata) Keys() []string {
	return append([]string(nil), m.keys...)
}

func (m *Metadata) Len() int {
	return len(m.keys)
}

func (m *Metadata) Clone() Metadata {
	var clone Metadata
	for _, key := range m.keys {
		clone.Set(key, m.values[key])
	}
	return clone
}

// String renders one "key=value" pair per line, in insertion order.
func (m *Metadata) String() string {
	var builder strings.Builder
	for i, key := range m.keys {
		if i > 0 {
			builder.WriteByte('\n')
		}
		value, _ := m.GetString(key)
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(value)
	}
	return builder.String()
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for i, key := range m.keys {
		if i > 0 {
			buffer.WriteByte(',')
		}
		keyContent, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		valueContent, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, err
		}
		buffer.Write(keyContent)
		buffer.WriteByte(':')
		buffer.Write(valueContent)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}
