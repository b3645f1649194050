package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nah-dev/nah/internal/fault"
)

// EnvOp is one environment operation kind.
type EnvOp string

const (
	OpSet     EnvOp = "set"
	OpPrepend EnvOp = "prepend"
	OpAppend  EnvOp = "append"
	OpUnset   EnvOp = "unset"
)

// DefaultSeparator joins prepend/append fragments when the operation
// does not name one.
const DefaultSeparator = ":"

// EnvValue is one environment operation. In JSON it is either a bare
// string (meaning op=set) or an object with op, value, and separator.
type EnvValue struct {
	Op        EnvOp
	Value     string
	Separator string
	// literal records that the value was written as a bare string, so
	// writes can round-trip it in the same form.
	literal bool
}

// SeparatorOrDefault returns the separator to use for joining.
func (v EnvValue) SeparatorOrDefault() string {
	if v.Separator == "" {
		return DefaultSeparator
	}
	return v.Separator
}

// UnmarshalJSON accepts the string shorthand and the object form.
func (v *EnvValue) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = EnvValue{Op: OpSet, Value: s, literal: true}
		return nil
	}

	var obj struct {
		Op        string  `json:"op"`
		Value     *string `json:"value"`
		Separator string  `json:"separator"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fault.Wrap(fault.KindInvalidManifest, err, "environment operation must be a string or object")
	}

	op := EnvOp(obj.Op)
	switch op {
	case OpSet, OpPrepend, OpAppend:
		if obj.Value == nil {
			return fault.New(fault.KindInvalidManifest, "environment op %q requires a value", op).
				WithDetail("kind", "invalid_env_op")
		}
		*v = EnvValue{Op: op, Value: *obj.Value, Separator: obj.Separator}
	case OpUnset:
		if obj.Value != nil {
			return fault.New(fault.KindInvalidManifest, "environment op unset takes no value").
				WithDetail("kind", "invalid_env_op")
		}
		*v = EnvValue{Op: OpUnset, Separator: obj.Separator}
	default:
		return fault.New(fault.KindInvalidManifest, "unknown environment op %q", obj.Op).
			WithDetail("kind", "invalid_env_op")
	}
	return nil
}

// MarshalJSON writes the string shorthand when the value was read that
// way, keeping emitted files byte-stable across read/write cycles.
func (v EnvValue) MarshalJSON() ([]byte, error) {
	if v.literal && v.Op == OpSet && v.Separator == "" {
		return json.Marshal(v.Value)
	}
	obj := map[string]any{"op": string(v.Op)}
	if v.Op != OpUnset {
		obj["value"] = v.Value
	}
	if v.Separator != "" {
		obj["separator"] = v.Separator
	}
	// Deterministic key order: op, separator, value (encoding/json sorts
	// map keys alphabetically, which is already stable).
	return json.Marshal(obj)
}

// EnvEntry pairs a key with its operation.
type EnvEntry struct {
	Key string
	Val EnvValue
}

// EnvMap is an ordered set of environment operations. Declaration order
// is significant for folding, so it is a slice rather than a Go map.
type EnvMap []EnvEntry

// Get returns the value for key and whether it is present.
func (m EnvMap) Get(key string) (EnvValue, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Val, true
		}
	}
	return EnvValue{}, false
}

// UnmarshalJSON decodes a JSON object preserving key declaration order.
func (m *EnvMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fault.New(fault.KindInvalidManifest, "environment must be a JSON object")
	}

	var entries EnvMap
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in environment object", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var val EnvValue
		if err := val.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("environment key %q: %w", key, err)
		}
		entries = append(entries, EnvEntry{Key: key, Val: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = entries
	return nil
}

// MarshalJSON encodes the entries as an object in declaration order.
func (m EnvMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := e.Val.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
