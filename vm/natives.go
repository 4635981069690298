package vm

import (
	"sort"
	"time"
)

// DefineNative binds a host function to a global name. Arity -1 accepts
// any number of arguments.
func (v *VM) DefineNative(name string, arity int, fn NativeFn) {
	nameStr := v.heap.CopyString(name)
	g1 := v.heap.PinObj(nameStr)
	native := v.heap.NewNative(name, arity, fn)
	g2 := v.heap.PinObj(native)
	v.defineGlobal(nameStr, ObjValue(native))
	g2.Release()
	g1.Release()
}

func (v *VM) defineStandardNatives() {
	v.DefineNative("clock", 0, v.clockNative)
}

func (v *VM) clockNative(args []Value) (Value, error) {
	return NumberValue(time.Since(v.started).Seconds()), nil
}

// NativeNames returns the names of all globals bound to natives, sorted.
func (v *VM) NativeNames() []string {
	var names []string
	for name, value := range v.globals {
		if value.IsObjType(ObjTypeNative) {
			names = append(names, name.Chars)
		}
	}
	sort.Strings(names)
	return names
}
