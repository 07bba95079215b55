package vm

import (
	"math"
	"strconv"
)

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindObject
)

// Value is a Lua value: a tagged sum over nil, boolean, integer, float,
// string and object reference. Integers and floats are both "number" to
// Lua code but keep their subtype internally, exactly as Lua 5.3 does.
//
// A Value that holds an object reference participates in the object pool's
// reference counting. Copying a Value into a container must go through
// Retain, and removing it must go through Release; the register file, the
// table and the upvalue store all follow this discipline.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	o    ObjRef
}

// NilValue is the nil Value. The zero Value is nil.
var NilValue = Value{}

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// IntValue returns an integer Value.
func IntValue(i int64) Value {
	return Value{kind: KindInt, i: i}
}

// FloatValue returns a float Value.
func FloatValue(f float64) Value {
	return Value{kind: KindFloat, f: f}
}

// StringValue returns a string Value.
func StringValue(s string) Value {
	return Value{kind: KindString, s: s}
}

// ObjectValue wraps an object reference in a Value. The Value takes over
// the caller's reference: no count is added here, and releasing the Value
// releases the slot.
func ObjectValue(ref ObjRef) Value {
	return Value{kind: KindObject, o: ref}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsInt() bool    { return v.kind == KindInt }
func (v Value) IsFloat() bool  { return v.kind == KindFloat }
func (v Value) IsString() bool { return v.kind == KindString }
func (v Value) IsObject() bool { return v.kind == KindObject }

// IsNumber returns true for both integers and floats.
func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

// IsTruthy reports Lua truthiness: only nil and false are falsey.
func (v Value) IsTruthy() bool {
	return !(v.kind == KindNil || (v.kind == KindBool && !v.b))
}

// IsFalsey is the complement of IsTruthy.
func (v Value) IsFalsey() bool { return !v.IsTruthy() }

// ---------------------------------------------------------------------------
// Payload accessors
// ---------------------------------------------------------------------------

// Bool returns the boolean payload. Panics if v is not a boolean.
func (v Value) Bool() bool {
	if v.kind != KindBool {
		panic("Value.Bool: not a boolean")
	}
	return v.b
}

// Int returns the integer payload. Panics if v is not an integer.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		panic("Value.Int: not an integer")
	}
	return v.i
}

// Float returns the float payload. Panics if v is not a float.
func (v Value) Float() float64 {
	if v.kind != KindFloat {
		panic("Value.Float: not a float")
	}
	return v.f
}

// Str returns the string payload. Panics if v is not a string.
func (v Value) Str() string {
	if v.kind != KindString {
		panic("Value.Str: not a string")
	}
	return v.s
}

// Obj returns the object reference. Panics if v is not an object.
func (v Value) Obj() ObjRef {
	if v.kind != KindObject {
		panic("Value.Obj: not an object")
	}
	return v.o
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// Retain adds a reference if v holds an object and returns v unchanged.
// Call it when storing a copy of v into a container.
func (v Value) Retain() Value {
	if v.kind == KindObject {
		if o := v.o.Object(); o != nil {
			o.retain()
		}
	}
	return v
}

// Release drops a reference if v holds an object. The referenced slot is
// reclaimed when its count reaches zero.
func (v Value) Release() {
	if v.kind == KindObject {
		if o := v.o.Object(); o != nil {
			o.release()
		}
	}
}

// ---------------------------------------------------------------------------
// Numeric conversion
// ---------------------------------------------------------------------------

// ToNumber converts v to a float. Integers promote, floats pass through,
// and strings are accepted only when the whole string parses as a base-10
// decimal.
func (v Value) ToNumber() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindString:
		// strconv also accepts "inf", "nan" and hex floats; the number
		// grammar here is base-10 decimal only.
		for i := 0; i < len(v.s); i++ {
			c := v.s[i]
			if (c < '0' || c > '9') && c != '.' && c != '+' && c != '-' &&
				c != 'e' && c != 'E' {
				return 0, false
			}
		}
		f, err := strconv.ParseFloat(v.s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// ToInteger converts v to an integer. Floats truncate toward zero and
// saturate at the integer range; strings go through ToNumber first.
func (v Value) ToInteger() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return floatToInt(v.f)
	case KindString:
		f, ok := v.ToNumber()
		if !ok {
			return 0, false
		}
		return floatToInt(f)
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) {
		return 0, false
	}
	if f >= 9.2233720368547758e18 {
		return math.MaxInt64, true
	}
	if f <= -9.2233720368547758e18 {
		return math.MinInt64, true
	}
	return int64(f), true // truncates toward zero
}

// ToString renders v the way CONCAT and the host boundary see it.
func (v Value) ToString() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', 14, 64)
	case KindString:
		return v.s
	case KindObject:
		if o := v.o.Object(); o != nil && o.IsTable() {
			return "table: <unknown>"
		}
		return "function: <unknown>"
	}
	return "nil"
}

// String implements fmt.Stringer.
func (v Value) String() string { return v.ToString() }

// asFloat reads a numeric value in the float domain. Only valid when
// IsNumber reports true.
func (v Value) asFloat() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// ---------------------------------------------------------------------------
// Equality and ordering
// ---------------------------------------------------------------------------

// Equals implements Lua ==. Values of different types are never equal,
// except that integers and floats compare in the common numeric domain.
// Objects compare by slot identity.
func (v Value) Equals(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		if v.kind == KindInt && o.kind == KindInt {
			return v.i == o.i
		}
		return v.asFloat() == o.asFloat()
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindObject:
		return v.o.Eq(o.o)
	}
	return false
}

// Less implements Lua <. Numbers compare by value, strings bytewise;
// mismatched types compare false.
func (v Value) Less(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		if v.kind == KindInt && o.kind == KindInt {
			return v.i < o.i
		}
		return v.asFloat() < o.asFloat()
	}
	if v.kind == KindString && o.kind == KindString {
		return v.s < o.s
	}
	return false
}

// LessEq implements Lua <= with the same domain rules as Less.
func (v Value) LessEq(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		if v.kind == KindInt && o.kind == KindInt {
			return v.i <= o.i
		}
		return v.asFloat() <= o.asFloat()
	}
	if v.kind == KindString && o.kind == KindString {
		return v.s <= o.s
	}
	return false
}
