package vm

import (
	"math"
	"testing"
)

func TestFalsiness(t *testing.T) {
	h := NewHeap(Config{})
	tests := []struct {
		name   string
		value  Value
		falsey bool
	}{
		{"nil", Nil, true},
		{"false", False, true},
		{"true", True, false},
		{"zero", NumberValue(0), false},
		{"negative zero", NumberValue(math.Copysign(0, -1)), false},
		{"empty string", ObjValue(h.CopyString("")), false},
		{"string", ObjValue(h.CopyString("x")), false},
	}
	for _, tt := range tests {
		if got := tt.value.IsFalsey(); got != tt.falsey {
			t.Errorf("%s: IsFalsey() = %v, want %v", tt.name, got, tt.falsey)
		}
	}
}

func TestEqual(t *testing.T) {
	h := NewHeap(Config{})
	a := ObjValue(h.CopyString("ab"))
	b := ObjValue(h.CopyString("ab"))
	c := ObjValue(h.CopyString("abc"))
	nan := NumberValue(math.NaN())

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nil nil", Nil, Nil, true},
		{"nil false", Nil, False, false},
		{"true true", True, True, true},
		{"true false", True, False, false},
		{"numbers", NumberValue(3), NumberValue(3), true},
		{"different numbers", NumberValue(3), NumberValue(4), false},
		{"zero and negative zero", NumberValue(0), NumberValue(math.Copysign(0, -1)), true},
		{"nan", nan, nan, false},
		{"number and bool", NumberValue(1), True, false},
		{"interned strings", a, b, true},
		{"different strings", a, c, false},
		{"string and nil", a, Nil, false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: Equal = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{-3, "-3"},
		{1.5, "1.5"},
		{0.1, "0.1"},
		{100000, "100000"},
		{1000000, "1e+06"},
		{1.0 / 3.0, "0.333333"},
		{math.Inf(1), "inf"},
		{math.Inf(-1), "-inf"},
		{math.NaN(), "nan"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.n); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestValueString(t *testing.T) {
	h := NewHeap(Config{})
	name := h.CopyString("Point")
	class := h.NewClass(name)
	instance := h.NewInstance(class)
	script := h.NewFunction()
	fn := h.NewFunction()
	fn.Name = h.CopyString("area")
	native := h.NewNative("clock", 0, nil)

	tests := []struct {
		value Value
		want  string
	}{
		{Nil, "nil"},
		{True, "true"},
		{False, "false"},
		{NumberValue(2.5), "2.5"},
		{ObjValue(h.CopyString("hi")), "hi"},
		{ObjValue(script), "<script>"},
		{ObjValue(fn), "<fn area>"},
		{ObjValue(h.NewClosure(fn)), "<fn area>"},
		{ObjValue(native), "<native fn>"},
		{ObjValue(class), "Point"},
		{ObjValue(instance), "Point instance"},
		{ObjValue(h.NewBoundMethod(ObjValue(instance), h.NewClosure(fn))), "<fn area>"},
	}
	for _, tt := range tests {
		if got := tt.value.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestObjValueNil(t *testing.T) {
	if v := ObjValue(nil); !v.IsNil() {
		t.Errorf("ObjValue(nil) = %v, want nil", v)
	}
}

func TestAccessorsOnWrongType(t *testing.T) {
	v := NumberValue(1)
	if v.AsString() != nil || v.AsClosure() != nil || v.AsFunction() != nil ||
		v.AsClass() != nil || v.AsInstance() != nil {
		t.Error("object accessors on a number should return nil")
	}
	if v.IsString() || v.IsInstance() || v.IsClass() || v.IsObj() {
		t.Error("type predicates on a number should be false")
	}
}
