package vm

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call pushes a frame for closure. The callee and its arguments are already
// on the stack.
func (v *VM) call(closure *Closure, argCount int) error {
	if argCount != closure.Function.Arity {
		return v.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
	}
	if v.frameCount == len(v.frames) {
		return v.runtimeError("Stack overflow.")
	}
	frame := &v.frames[v.frameCount]
	v.frameCount++
	frame.closure = closure
	frame.chunk = closure.Function.Chunk
	frame.ip = 0
	frame.slots = v.top - argCount - 1
	return nil
}

// callValue dispatches on the kind of callee.
func (v *VM) callValue(callee Value, argCount int) error {
	if callee.IsObj() {
		switch c := callee.AsObj().(type) {
		case *BoundMethod:
			v.stack[v.top-argCount-1] = c.Receiver
			return v.call(c.Method, argCount)
		case *Class:
			v.stack[v.top-argCount-1] = ObjValue(v.heap.NewInstance(c))
			if initializer, ok := c.Methods[v.initString]; ok {
				return v.call(initializer, argCount)
			}
			if argCount != 0 {
				return v.runtimeError("Expected 0 arguments but got %d.", argCount)
			}
			return nil
		case *Closure:
			return v.call(c, argCount)
		case *Native:
			return v.callNative(c, argCount)
		}
	}
	return v.runtimeError("Can only call functions and classes.")
}

// callNative runs a host function inline. Its result replaces the callee
// and argument slots.
func (v *VM) callNative(n *Native, argCount int) error {
	if n.Arity >= 0 && argCount != n.Arity {
		return v.runtimeError("Expected %d arguments but got %d.", n.Arity, argCount)
	}
	args := v.stack[v.top-argCount : v.top]
	result, err := n.Fn(args)
	if err != nil {
		return v.runtimeError("%s", err.Error())
	}
	for i := v.top - argCount - 1; i < v.top; i++ {
		v.stack[i] = Nil
	}
	v.top -= argCount + 1
	v.push(result)
	return nil
}

// invoke calls a method on the receiver argCount slots below the top
// without creating a bound method. A field holding a callable shadows the
// method of the same name.
func (v *VM) invoke(name *String, argCount int) error {
	receiver := v.peek(argCount)
	instance := receiver.AsInstance()
	if instance == nil {
		return v.runtimeError("Only instances have methods.")
	}
	if value, ok := instance.Fields[name]; ok {
		v.stack[v.top-argCount-1] = value
		return v.callValue(value, argCount)
	}
	return v.invokeFromClass(instance.Class, name, argCount)
}

func (v *VM) invokeFromClass(class *Class, name *String, argCount int) error {
	method, ok := class.Methods[name]
	if !ok {
		return v.runtimeError("Undefined property '%s'.", name.Chars)
	}
	return v.call(method, argCount)
}

// bindMethod replaces the instance on top of the stack with its method
// name bound to it.
func (v *VM) bindMethod(class *Class, name *String) error {
	method, ok := class.Methods[name]
	if !ok {
		return v.runtimeError("Undefined property '%s'.", name.Chars)
	}
	bound := v.heap.NewBoundMethod(v.peek(0), method)
	v.pop()
	v.push(ObjValue(bound))
	return nil
}

// defineMethod adds the closure on top of the stack to the class beneath it.
func (v *VM) defineMethod(name *String) error {
	method := v.peek(0).AsClosure()
	class := v.peek(1).AsClass()
	if method == nil || class == nil {
		return v.runtimeError("Methods need a closure and a class.")
	}
	if _, exists := class.Methods[name]; !exists {
		v.heap.grow(class, sizeValue)
	}
	class.Methods[name] = method
	v.pop()
	return nil
}
