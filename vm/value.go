package vm

import "fmt"

// ValueKind identifies which field of a Value is meaningful.
type ValueKind int

const (
	ValueInt ValueKind = iota
	ValueString
	ValueAddress
	ValueLabel
)

func (k ValueKind) String() string {
	switch k {
	case ValueInt:
		return "Int"
	case ValueString:
		return "String"
	case ValueAddress:
		return "Address"
	case ValueLabel:
		return "Label"
	default:
		return "Unknown"
	}
}

// Value is the tagged union stored on the data stack, in memory cells, and
// in registers. Exactly one field is meaningful, selected by Kind.
type Value struct {
	Kind    ValueKind
	Int     int64
	Str     string // interned: equal strings compare equal by value
	Address string // textual key, no hex normalization
	Label   string
}

// IntValue builds an int-kind Value.
func IntValue(v int64) Value { return Value{Kind: ValueInt, Int: v} }

// StringValue builds a string-kind Value.
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// AddressValue builds an address-kind Value.
func AddressValue(a string) Value { return Value{Kind: ValueAddress, Address: a} }

// LabelValue builds a label-kind Value.
func LabelValue(l string) Value { return Value{Kind: ValueLabel, Label: l} }

func (v Value) String() string {
	switch v.Kind {
	case ValueInt:
		return fmt.Sprintf("%d", v.Int)
	case ValueString:
		return fmt.Sprintf("%q", v.Str)
	case ValueAddress:
		return "@" + v.Address
	case ValueLabel:
		return v.Label
	default:
		return "<invalid>"
	}
}

// AsInt returns the integer payload and whether Kind was ValueInt.
func (v Value) AsInt() (int64, bool) {
	if v.Kind != ValueInt {
		return 0, false
	}
	return v.Int, true
}

// AsString returns the string payload and whether Kind was ValueString.
func (v Value) AsString() (string, bool) {
	if v.Kind != ValueString {
		return "", false
	}
	return v.Str, true
}
