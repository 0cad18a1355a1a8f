package asset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/c360/assetmesh/errors"
)

// Value is a raw JSON attribute value. A nil Value means "no value": it
// marshals as JSON null and clears the attribute when applied. Values are
// compared and stored as their JSON encoding; producers should use the
// typed constructors so equal values have equal encodings.
type Value []byte

// MarshalJSON returns the raw encoding, or null for a nil Value.
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return v, nil
}

// UnmarshalJSON stores a copy of the raw encoding. JSON null becomes nil.
func (v *Value) UnmarshalJSON(data []byte) error {
	if v == nil {
		return fmt.Errorf("asset.Value: UnmarshalJSON on nil pointer")
	}
	if string(data) == "null" {
		*v = nil
		return nil
	}
	*v = append((*v)[0:0], data...)
	return nil
}

// StringValue encodes s as a JSON string value.
func StringValue(s string) Value {
	b, _ := json.Marshal(s)
	return Value(b)
}

// NumberValue encodes f as a JSON number value.
func NumberValue(f float64) Value {
	b, _ := json.Marshal(f)
	return Value(b)
}

// BoolValue encodes b as a JSON boolean value.
func BoolValue(b bool) Value {
	if b {
		return Value("true")
	}
	return Value("false")
}

// ObjectValue encodes an arbitrary Go value as JSON.
func ObjectValue(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return Value(b), nil
}

// MustValue is ObjectValue for static values; it panics on encode failure.
func MustValue(v any) Value {
	b, err := ObjectValue(v)
	if err != nil {
		panic(err)
	}
	return b
}

// IsNil reports whether the value is absent.
func (v Value) IsNil() bool {
	return len(v) == 0
}

// Copy returns an independent copy of the value. Nil stays nil.
func (v Value) Copy() Value {
	if v == nil {
		return nil
	}
	return append(Value(nil), v...)
}

// String returns the raw JSON text, or "null" when absent.
func (v Value) String() string {
	if len(v) == 0 {
		return "null"
	}
	return string(v)
}

// Equal compares two values by their JSON encoding.
func (v Value) Equal(o Value) bool {
	if v.IsNil() || o.IsNil() {
		return v.IsNil() && o.IsNil()
	}
	return bytes.Equal(v, o)
}

// AsString decodes the value as a JSON string.
func (v Value) AsString() (string, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// AsFloat decodes the value as a JSON number.
func (v Value) AsFloat() (float64, bool) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, false
	}
	return f, true
}

// AsBool decodes the value as a JSON boolean.
func (v Value) AsBool() (bool, bool) {
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		return false, false
	}
	return b, true
}

// Decode unmarshals the value into out.
func (v Value) Decode(out any) error {
	if v.IsNil() {
		return fmt.Errorf("decode value: %w", errors.ErrInvalidData)
	}
	return json.Unmarshal(v, out)
}

// ValueType is the JSON shape of a value.
type ValueType string

const (
	TypeAny     ValueType = "any"
	TypeString  ValueType = "string"
	TypeNumber  ValueType = "number"
	TypeBoolean ValueType = "boolean"
	TypeObject  ValueType = "object"
	TypeArray   ValueType = "array"
	TypeNull    ValueType = "null"
)

// Type sniffs the JSON shape of the value from its first byte.
func (v Value) Type() ValueType {
	if len(v) == 0 {
		return TypeNull
	}
	switch v[0] {
	case '"':
		return TypeString
	case '{':
		return TypeObject
	case '[':
		return TypeArray
	case 't', 'f':
		return TypeBoolean
	case 'n':
		return TypeNull
	default:
		return TypeNumber
	}
}

// ValueDescriptor names a value type and its constraints. Attributes refer
// to descriptors by name; the ingress gate validates incoming values against
// the attribute's descriptor before applying them.
type ValueDescriptor struct {
	Name          string    `json:"name"`
	Type          ValueType `json:"type"`
	Min           *float64  `json:"min,omitempty"`
	Max           *float64  `json:"max,omitempty"`
	Pattern       string    `json:"pattern,omitempty"`
	AllowedValues []string  `json:"allowedValues,omitempty"`

	pattern *regexp.Regexp
}

// Validate checks v against the descriptor's type and constraints. A nil
// value always passes: applying it clears the attribute. Violations wrap
// errors.ErrConstraintViolation.
func (d ValueDescriptor) Validate(v Value) error {
	if v.IsNil() {
		return nil
	}
	vt := v.Type()
	if d.Type != TypeAny && d.Type != "" && vt != d.Type {
		return fmt.Errorf("%w: %s expects %s, got %s", errors.ErrConstraintViolation, d.Name, d.Type, vt)
	}
	switch vt {
	case TypeNumber:
		f, ok := v.AsFloat()
		if !ok {
			return fmt.Errorf("%w: %s is not a valid number", errors.ErrConstraintViolation, d.Name)
		}
		if d.Min != nil && f < *d.Min {
			return fmt.Errorf("%w: %s value %v below minimum %v", errors.ErrConstraintViolation, d.Name, f, *d.Min)
		}
		if d.Max != nil && f > *d.Max {
			return fmt.Errorf("%w: %s value %v above maximum %v", errors.ErrConstraintViolation, d.Name, f, *d.Max)
		}
	case TypeString:
		s, ok := v.AsString()
		if !ok {
			return fmt.Errorf("%w: %s is not a valid string", errors.ErrConstraintViolation, d.Name)
		}
		if len(d.AllowedValues) > 0 && !containsString(d.AllowedValues, s) {
			return fmt.Errorf("%w: %s value %q not in allowed set", errors.ErrConstraintViolation, d.Name, s)
		}
		if re := d.compiledPattern(); re != nil && !re.MatchString(s) {
			return fmt.Errorf("%w: %s value %q does not match pattern %s", errors.ErrConstraintViolation, d.Name, s, d.Pattern)
		}
	}
	return nil
}

func (d ValueDescriptor) compiledPattern() *regexp.Regexp {
	if d.pattern != nil {
		return d.pattern
	}
	if d.Pattern == "" {
		return nil
	}
	re, err := regexp.Compile(d.Pattern)
	if err != nil {
		return nil
	}
	return re
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func newDescriptor(name string, t ValueType) ValueDescriptor {
	return ValueDescriptor{Name: name, Type: t}
}

func float(f float64) *float64 { return &f }

// Builtin value descriptors. Attributes with an unknown or empty type name
// accept any value.
var builtinDescriptors = map[string]ValueDescriptor{
	"text":    newDescriptor("text", TypeString),
	"number":  newDescriptor("number", TypeNumber),
	"boolean": newDescriptor("boolean", TypeBoolean),
	"json":    newDescriptor("json", TypeAny),
	"positiveNumber": {
		Name: "positiveNumber",
		Type: TypeNumber,
		Min:  float(0),
	},
	"percentage": {
		Name: "percentage",
		Type: TypeNumber,
		Min:  float(0),
		Max:  float(100),
	},
	"executionStatus": {
		Name:          "executionStatus",
		Type:          TypeString,
		AllowedValues: executeStatusNames(),
	},
}

// DescriptorFor looks up a builtin value descriptor by name.
func DescriptorFor(name string) (ValueDescriptor, bool) {
	d, ok := builtinDescriptors[name]
	return d, ok
}

// ValidateForType validates v against the named descriptor. Unknown type
// names accept any value.
func ValidateForType(typeName string, v Value) error {
	d, ok := DescriptorFor(typeName)
	if !ok {
		return nil
	}
	return d.Validate(v)
}
