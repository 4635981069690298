package vm

import (
	"strconv"
)

// ValueType tags the variant held by a Value.
type ValueType uint8

const (
	ValNil ValueType = iota
	ValBool
	ValNumber
	ValObj
)

// Value is a Lox value: nil, a boolean, a double-precision number or a
// reference to a heap object.
//
// Values are copied freely. An object reference does not own its target;
// the heap does, and the collector decides when the target dies.
type Value struct {
	typ ValueType
	b   bool
	num float64
	obj Obj
}

// Pre-defined immediate values
var (
	Nil   = Value{typ: ValNil}
	True  = Value{typ: ValBool, b: true}
	False = Value{typ: ValBool, b: false}
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// BoolValue wraps a Go bool.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// NumberValue wraps a float64.
func NumberValue(n float64) Value {
	return Value{typ: ValNumber, num: n}
}

// ObjValue wraps a heap object reference.
func ObjValue(o Obj) Value {
	if o == nil {
		return Nil
	}
	return Value{typ: ValObj, obj: o}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Type returns the variant tag.
func (v Value) Type() ValueType { return v.typ }

// IsNil returns true if v is nil.
func (v Value) IsNil() bool { return v.typ == ValNil }

// IsBool returns true if v is a boolean.
func (v Value) IsBool() bool { return v.typ == ValBool }

// IsNumber returns true if v is a number.
func (v Value) IsNumber() bool { return v.typ == ValNumber }

// IsObj returns true if v references a heap object.
func (v Value) IsObj() bool { return v.typ == ValObj }

// IsObjType returns true if v references a heap object of the given kind.
func (v Value) IsObjType(t ObjType) bool {
	return v.typ == ValObj && v.obj.Type() == t
}

// IsString returns true if v references an interned string.
func (v Value) IsString() bool { return v.IsObjType(ObjTypeString) }

// IsInstance returns true if v references a class instance.
func (v Value) IsInstance() bool { return v.IsObjType(ObjTypeInstance) }

// IsClass returns true if v references a class.
func (v Value) IsClass() bool { return v.IsObjType(ObjTypeClass) }

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// AsBool returns the boolean payload. Only meaningful if IsBool.
func (v Value) AsBool() bool { return v.b }

// AsNumber returns the numeric payload. Only meaningful if IsNumber.
func (v Value) AsNumber() float64 { return v.num }

// AsObj returns the object payload, or nil for non-object values.
func (v Value) AsObj() Obj { return v.obj }

// AsString returns the referenced string, or nil.
func (v Value) AsString() *String {
	s, _ := v.obj.(*String)
	return s
}

// AsClosure returns the referenced closure, or nil.
func (v Value) AsClosure() *Closure {
	c, _ := v.obj.(*Closure)
	return c
}

// AsFunction returns the referenced function, or nil.
func (v Value) AsFunction() *Function {
	f, _ := v.obj.(*Function)
	return f
}

// AsClass returns the referenced class, or nil.
func (v Value) AsClass() *Class {
	c, _ := v.obj.(*Class)
	return c
}

// AsInstance returns the referenced instance, or nil.
func (v Value) AsInstance() *Instance {
	i, _ := v.obj.(*Instance)
	return i
}

// ---------------------------------------------------------------------------
// Semantics
// ---------------------------------------------------------------------------

// IsFalsey reports Lox falsiness: only nil and false are falsy.
func (v Value) IsFalsey() bool {
	return v.typ == ValNil || (v.typ == ValBool && !v.b)
}

// Equal compares two values. Values of different types are never equal;
// numbers compare with IEEE semantics (NaN != NaN); objects compare by
// identity, which is content equality for interned strings.
func Equal(a, b Value) bool {
	if a.typ != b.typ {
		return false
	}
	switch a.typ {
	case ValNil:
		return true
	case ValBool:
		return a.b == b.b
	case ValNumber:
		return a.num == b.num
	case ValObj:
		return a.obj == b.obj
	default:
		return false
	}
}

// String formats v the way the print statement shows it.
func (v Value) String() string {
	switch v.typ {
	case ValNil:
		return "nil"
	case ValBool:
		if v.b {
			return "true"
		}
		return "false"
	case ValNumber:
		return FormatNumber(v.num)
	case ValObj:
		return v.obj.String()
	default:
		return "<unknown>"
	}
}

// FormatNumber renders a number like C's "%g".
func FormatNumber(n float64) string {
	s := strconv.FormatFloat(n, 'g', 6, 64)
	switch s {
	case "+Inf":
		return "inf"
	case "-Inf":
		return "-inf"
	case "NaN":
		return "nan"
	}
	return s
}

// TypeName returns a short name for diagnostics.
func (v Value) TypeName() string {
	switch v.typ {
	case ValNil:
		return "nil"
	case ValBool:
		return "boolean"
	case ValNumber:
		return "number"
	case ValObj:
		return v.obj.Type().String()
	default:
		return "unknown"
	}
}
