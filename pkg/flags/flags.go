package flags

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind identifies which scalar a Value holds.
type Kind string

const (
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindString Kind = "string"
)

// Value is a persistent narrative fact: a boolean, an integer counter, or a string.
// On the wire it is the bare JSON/YAML scalar.
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string
}

func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }
func Int(i int64) Value     { return Value{kind: KindInt, i: i} }
func String(s string) Value { return Value{kind: KindString, s: s} }

func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether the value was never set.
func (v Value) IsZero() bool { return v.kind == "" }

func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Native returns the value as a plain Go scalar (bool, int64 or string).
func (v Value) Native() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindString:
		return v.s
	}
	return nil
}

// Equal compares kind and value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindString:
		return v.s == o.s
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindString:
		return v.s
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := fromNative(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("flag value must be a scalar, got yaml kind %d", node.Kind)
	}
	switch node.Tag {
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*v = Bool(b)
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return err
		}
		*v = Int(i)
	default:
		*v = String(node.Value)
	}
	return nil
}

func fromNative(raw any) (Value, error) {
	switch t := raw.(type) {
	case bool:
		return Bool(t), nil
	case float64:
		if t != math.Trunc(t) {
			return Value{}, fmt.Errorf("flag value %v is not an integer", t)
		}
		return Int(int64(t)), nil
	case string:
		return String(t), nil
	}
	return Value{}, fmt.Errorf("unsupported flag value type %T", raw)
}

// Flags is a player's story flag store.
type Flags map[string]Value

// Get returns the flag and whether it is set.
func (f Flags) Get(key string) (Value, bool) {
	v, ok := f[key]
	return v, ok
}

// Set overwrites a flag. The map must be non-nil.
func (f Flags) Set(key string, v Value) {
	f[key] = v
}

// Increment adds delta to an integer flag, treating a missing flag as 0.
func (f Flags) Increment(key string, delta int64) (Value, error) {
	cur, ok := f[key]
	if ok && cur.kind != KindInt {
		return Value{}, fmt.Errorf("flag %q is %s, not int", key, cur.kind)
	}
	next := Int(cur.i + delta)
	f[key] = next
	return next, nil
}

// Clear removes a flag explicitly.
func (f Flags) Clear(key string) {
	delete(f, key)
}

// Natives converts the store to plain scalars for expression evaluation.
func (f Flags) Natives() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v.Native()
	}
	return out
}

// Clone returns a shallow copy (values are immutable).
func (f Flags) Clone() Flags {
	out := make(Flags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
