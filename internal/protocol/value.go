package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag is the type byte that prefixes every encoded value
type Tag uint8

const (
	TagNil Tag = 0
	TagErr Tag = 1
	TagStr Tag = 2
	TagInt Tag = 3
	TagDbl Tag = 4
	TagArr Tag = 5
)

// String returns the tag name
func (t Tag) String() string {
	switch t {
	case TagNil:
		return "nil"
	case TagErr:
		return "err"
	case TagStr:
		return "str"
	case TagInt:
		return "int"
	case TagDbl:
		return "dbl"
	case TagArr:
		return "arr"
	default:
		return "unknown"
	}
}

// Error codes carried by TagErr values
const (
	ErrCodeUnknown uint32 = 1
	ErrCodeTooBig  uint32 = 2
)

// Value is a single tagged value.
// One struct with a type discriminator rather than an interface hierarchy,
// so building responses on the hot path doesn't allocate per value.
type Value struct {
	Type  Tag
	Str   string
	Num   int64
	Dbl   float64
	Code  uint32
	Array []Value
}

func NilVal() Value {
	return Value{Type: TagNil}
}

func ErrorVal(code uint32, msg string) Value {
	return Value{Type: TagErr, Code: code, Str: msg}
}

func StringVal(s string) Value {
	return Value{Type: TagStr, Str: s}
}

func IntegerVal(n int64) Value {
	return Value{Type: TagInt, Num: n}
}

func DoubleVal(f float64) Value {
	return Value{Type: TagDbl, Dbl: f}
}

func ArrayVal(vals []Value) Value {
	return Value{Type: TagArr, Array: vals}
}

// StringsVal builds an array of string values
func StringsVal(ss []string) Value {
	vals := make([]Value, len(ss))
	for i, s := range ss {
		vals[i] = StringVal(s)
	}
	return ArrayVal(vals)
}

// Pre-allocated sentinel values for common responses
var (
	ValNil        = NilVal()
	ValEmptyArray = ArrayVal([]Value{})
	ErrUnknownCmd = ErrorVal(ErrCodeUnknown, "unknown command")
	ErrTooBig     = ErrorVal(ErrCodeTooBig, "response too big")
)

// String renders the value for humans, one line per scalar.
func (v Value) String() string {
	var sb strings.Builder
	v.format(&sb, 0)
	return strings.TrimSuffix(sb.String(), "\n")
}

func (v Value) format(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	switch v.Type {
	case TagNil:
		sb.WriteString("(nil)\n")
	case TagErr:
		fmt.Fprintf(sb, "(err %d) %s\n", v.Code, v.Str)
	case TagStr:
		fmt.Fprintf(sb, "(str) %s\n", v.Str)
	case TagInt:
		fmt.Fprintf(sb, "(int) %d\n", v.Num)
	case TagDbl:
		sb.WriteString("(dbl) " + strconv.FormatFloat(v.Dbl, 'g', -1, 64) + "\n")
	case TagArr:
		fmt.Fprintf(sb, "(arr) len=%d\n", len(v.Array))
		for _, e := range v.Array {
			e.format(sb, depth+1)
		}
	default:
		fmt.Fprintf(sb, "(unknown tag %d)\n", uint8(v.Type))
	}
}
