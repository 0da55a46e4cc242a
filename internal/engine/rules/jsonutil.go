package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// decodeTagged splits an externally tagged JSON value into its variant
// tag and payload. A bare string is a unit variant; an object must have
// exactly one key.
func decodeTagged(data []byte) (tag string, payload json.RawMessage, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", nil, fmt.Errorf("empty value")
	}
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil
	}
	if trimmed[0] != '{' {
		return "", nil, fmt.Errorf("expected a string or single-key object, got %s", preview(trimmed))
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &object); err != nil {
		return "", nil, err
	}
	if len(object) != 1 {
		return "", nil, fmt.Errorf("tagged value must have exactly one key, got %d", len(object))
	}
	for k, v := range object {
		tag, payload = k, v
	}
	return tag, payload, nil
}

// encodeTagged is the inverse of decodeTagged: unit payloads serialize
// as the bare tag string.
func encodeTagged(tag string, payload any) ([]byte, error) {
	if payload == nil {
		return json.Marshal(tag)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(raw, []byte("{}")) || bytes.Equal(raw, []byte("null")) {
		return json.Marshal(tag)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	key, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	buf.Write(key)
	buf.WriteByte(':')
	buf.Write(raw)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func preview(data []byte) string {
	const max = 40
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// unmarshalStrict decodes rejecting unknown fields, so typos in cleaner
// documents surface at load time.
func unmarshalStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func marshalJSON(v any) ([]byte, error) { return json.Marshal(v) }

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// optString mirrors the engine's optional-string convention in JSON: a
// missing or null field is none.
func optString(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}
