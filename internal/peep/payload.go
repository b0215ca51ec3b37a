package peep

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Recognized payload keys.
const (
	KeyType               = "type"
	KeyContent            = "content"
	KeyPic                = "pic"
	KeyUntrustedTimestamp = "untrustedTimestamp"
	KeyShareID            = "shareID"
	KeyParentID           = "parentID"
)

// Payload is the loosely-typed JSON object fetched from content storage.
type Payload map[string]any

// DecodePayload parses a JSON object. Numbers are kept as json.Number.
func DecodePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New("decode payload: not a json object")
	}
	return Payload(obj), nil
}

// String returns the value at key if it is a JSON string.
func (p Payload) String(key string) Optional[string] {
	s, ok := p[key].(string)
	if !ok {
		return None[string]()
	}
	return Some(s)
}

// Int returns the value at key if it is an integral JSON number, otherwise def.
func (p Payload) Int(key string, def int64) int64 {
	switch n := p[key].(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt(f, def)
		}
	case float64:
		return floatToInt(n, def)
	case int:
		return int64(n)
	case int64:
		return n
	}
	return def
}

func floatToInt(f float64, def int64) int64 {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return def
	}
	return int64(f)
}
