package jsonpath

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// Kind identifies the concrete type stored in a Value.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a decoded JSON document node. Exactly one of the payload fields
// is meaningful, selected by Kind. Numbers keep their source text in
// NumberText so integers beyond float64 precision compare exactly.
type Value struct {
	Kind       Kind
	Bool       bool
	Number     float64
	NumberText string
	String     string
	Array      []Value
	Object     map[string]Value
}

// Parse decodes a complete JSON document.
func Parse(data []byte) (Value, error) {
	var v Value
	if len(bytes.TrimSpace(data)) == 0 {
		return v, fmt.Errorf("empty document")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// UnmarshalJSON decodes raw JSON into the tagged representation.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty json value")
	}
	switch trimmed[0] {
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		v.Kind = Object
		v.Object = make(map[string]Value, len(raw))
		for key, member := range raw {
			var child Value
			if err := json.Unmarshal(member, &child); err != nil {
				return err
			}
			v.Object[key] = child
		}
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		v.Kind = Array
		v.Array = make([]Value, 0, len(raw))
		for _, elem := range raw {
			var child Value
			if err := json.Unmarshal(elem, &child); err != nil {
				return err
			}
			v.Array = append(v.Array, child)
		}
	case '"':
		if err := json.Unmarshal(trimmed, &v.String); err != nil {
			return err
		}
		v.Kind = String
	case 't', 'f':
		if err := json.Unmarshal(trimmed, &v.Bool); err != nil {
			return err
		}
		v.Kind = Bool
	case 'n':
		if string(trimmed) != "null" {
			return fmt.Errorf("invalid json literal %q", trimmed)
		}
		v.Kind = Null
	default:
		// Out of range numbers still decode; Number saturates to +-Inf or 0.
		n, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return fmt.Errorf("invalid json number %q", trimmed)
		}
		v.Kind = Number
		v.Number = n
		v.NumberText = string(trimmed)
	}
	return nil
}

// MarshalJSON re-encodes the value. Object members come out in key order.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToInterface())
}

// ToInterface converts the value into the encoding/json generic types.
func (v Value) ToInterface() any {
	switch v.Kind {
	case Bool:
		return v.Bool
	case Number:
		if exactFloat(v) {
			return v.Number
		}
		return json.Number(v.numberText())
	case String:
		return v.String
	case Array:
		out := make([]any, len(v.Array))
		for i, elem := range v.Array {
			out[i] = elem.ToInterface()
		}
		return out
	case Object:
		out := make(map[string]any, len(v.Object))
		for key, member := range v.Object {
			out[key] = member.ToInterface()
		}
		return out
	default:
		return nil
	}
}

// Len returns the element or member count and whether the value has one.
func (v Value) Len() (int, bool) {
	switch v.Kind {
	case Array:
		return len(v.Array), true
	case Object:
		return len(v.Object), true
	default:
		return 0, false
	}
}

// Text renders the value as compact JSON for messages.
func (v Value) Text() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s>", v.Kind)
	}
	return string(data)
}

// Equal reports deep equality of two values.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case Null:
		return true
	case Bool:
		return a.Bool == b.Bool
	case Number:
		return numbersEqual(a, b)
	case String:
		return a.String == b.String
	case Array:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(a.Object) != len(b.Object) {
			return false
		}
		for key, av := range a.Object {
			bv, ok := b.Object[key]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// maxExactInt is the largest magnitude float64 holds every integer up to.
const maxExactInt = 1 << 53

func (v Value) numberText() string {
	if v.NumberText != "" {
		return v.NumberText
	}
	return strconv.FormatFloat(v.Number, 'g', -1, 64)
}

// exactFloat reports whether Number represents the value without loss
// worth surfacing: in float64 range, and an integer only when within 2^53.
func exactFloat(v Value) bool {
	if math.IsInf(v.Number, 0) || math.IsNaN(v.Number) {
		return false
	}
	text := v.numberText()
	if n, ok := new(big.Int).SetString(text, 10); ok {
		return n.CmpAbs(big.NewInt(maxExactInt)) <= 0
	}
	_, err := strconv.ParseFloat(text, 64)
	return err == nil
}

// numbersEqual compares integers exactly and everything else at high
// precision, so 1 equals 1.0 while 2^53 and 2^53+1 stay distinct.
func numbersEqual(a, b Value) bool {
	at, bt := a.numberText(), b.numberText()
	x, xok := new(big.Int).SetString(at, 10)
	y, yok := new(big.Int).SetString(bt, 10)
	if xok && yok {
		return x.Cmp(y) == 0
	}
	xf, _, xerr := big.ParseFloat(at, 10, 512, big.ToNearestEven)
	yf, _, yerr := big.ParseFloat(bt, 10, 512, big.ToNearestEven)
	if xerr != nil || yerr != nil {
		return a.Number == b.Number
	}
	return xf.Cmp(yf) == 0
}
