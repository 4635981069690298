package vm

import (
	"fmt"
	"math"
	"strings"
)

// run executes bytecode until the outermost frame returns or a runtime
// error occurs.
func (v *VM) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(stackOverflow); ok {
				err = v.runtimeError("Stack overflow.")
				return
			}
			panic(r)
		}
	}()

	frame := &v.frames[v.frameCount-1]

	readByte := func() byte {
		b := frame.chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() int {
		frame.ip += 2
		return int(frame.chunk.Code[frame.ip-2])<<8 | int(frame.chunk.Code[frame.ip-1])
	}
	readConstant := func() Value {
		return frame.chunk.Constants[readByte()]
	}
	readString := func() *String {
		return readConstant().AsString()
	}

	for {
		if v.cfg.TraceExecution {
			v.traceInstruction(frame)
		}

		op := Opcode(readByte())
		switch op {
		case OpConstant:
			v.push(readConstant())
		case OpNil:
			v.push(Nil)
		case OpTrue:
			v.push(True)
		case OpFalse:
			v.push(False)
		case OpPop:
			v.pop()

		case OpGetLocal:
			slot := int(readByte())
			v.push(v.stack[frame.slots+slot])
		case OpSetLocal:
			slot := int(readByte())
			v.stack[frame.slots+slot] = v.peek(0)

		case OpGetGlobal:
			name := readString()
			value, ok := v.globals[name]
			if !ok {
				return v.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			v.push(value)
		case OpDefineGlobal:
			name := readString()
			v.defineGlobal(name, v.peek(0))
			v.pop()
		case OpSetGlobal:
			name := readString()
			if _, ok := v.globals[name]; !ok {
				return v.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			v.globals[name] = v.peek(0)

		case OpGetUpvalue:
			slot := readByte()
			v.push(frame.closure.Upvalues[slot].Get())
		case OpSetUpvalue:
			slot := readByte()
			frame.closure.Upvalues[slot].Set(v.peek(0))

		case OpGetProperty:
			instance := v.peek(0).AsInstance()
			if instance == nil {
				return v.runtimeError("Only instances have properties.")
			}
			name := readString()
			if value, ok := instance.Fields[name]; ok {
				v.pop()
				v.push(value)
				break
			}
			if err := v.bindMethod(instance.Class, name); err != nil {
				return err
			}
		case OpSetProperty:
			instance := v.peek(1).AsInstance()
			if instance == nil {
				return v.runtimeError("Only instances have fields.")
			}
			name := readString()
			if _, exists := instance.Fields[name]; !exists {
				v.heap.grow(instance, sizeValue)
			}
			instance.Fields[name] = v.peek(0)
			value := v.pop()
			v.pop()
			v.push(value)
		case OpGetSuper:
			name := readString()
			superclass := v.pop().AsClass()
			if superclass == nil {
				return v.runtimeError("Superclass must be a class.")
			}
			if err := v.bindMethod(superclass, name); err != nil {
				return err
			}

		case OpEqual:
			b := v.pop()
			a := v.pop()
			v.push(BoolValue(Equal(a, b)))
		case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
			if !v.peek(0).IsNumber() || !v.peek(1).IsNumber() {
				return v.runtimeError("Operands must be numbers.")
			}
			b := v.pop().AsNumber()
			a := v.pop().AsNumber()
			v.push(BoolValue(compare(op, a, b)))

		case OpAdd:
			switch {
			case v.peek(0).IsString() && v.peek(1).IsString():
				v.concatenate()
			case v.peek(0).IsNumber() && v.peek(1).IsNumber():
				b := v.pop().AsNumber()
				a := v.pop().AsNumber()
				v.push(NumberValue(a + b))
			default:
				return v.runtimeError("Operands must be two numbers or two strings.")
			}
		case OpSubtract, OpMultiply, OpDivide, OpModulo:
			if !v.peek(0).IsNumber() || !v.peek(1).IsNumber() {
				return v.runtimeError("Operands must be numbers.")
			}
			b := v.pop().AsNumber()
			a := v.pop().AsNumber()
			v.push(NumberValue(arithmetic(op, a, b)))

		case OpNot:
			v.push(BoolValue(v.pop().IsFalsey()))
		case OpNegate:
			if !v.peek(0).IsNumber() {
				return v.runtimeError("Operand must be a number.")
			}
			v.push(NumberValue(-v.pop().AsNumber()))

		case OpPrint:
			fmt.Fprintln(v.out, v.pop().String())

		case OpJump:
			offset := readShort()
			frame.ip += offset
		case OpJumpIfFalse:
			offset := readShort()
			if v.peek(0).IsFalsey() {
				frame.ip += offset
			}
		case OpLoop:
			offset := readShort()
			frame.ip -= offset

		case OpCall:
			argCount := int(readByte())
			if err := v.callValue(v.peek(argCount), argCount); err != nil {
				return err
			}
			frame = &v.frames[v.frameCount-1]
		case OpInvoke:
			method := readString()
			argCount := int(readByte())
			if err := v.invoke(method, argCount); err != nil {
				return err
			}
			frame = &v.frames[v.frameCount-1]
		case OpSuperInvoke:
			method := readString()
			argCount := int(readByte())
			superclass := v.pop().AsClass()
			if superclass == nil {
				return v.runtimeError("Superclass must be a class.")
			}
			if err := v.invokeFromClass(superclass, method, argCount); err != nil {
				return err
			}
			frame = &v.frames[v.frameCount-1]

		case OpClosure:
			fn := readConstant().AsFunction()
			closure := v.heap.NewClosure(fn)
			v.push(ObjValue(closure))
			for i := range closure.Upvalues {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = v.captureUpvalue(frame.slots + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
		case OpCloseUpvalue:
			v.closeUpvalues(v.top - 1)
			v.pop()

		case OpReturn:
			result := v.pop()
			v.closeUpvalues(frame.slots)
			v.frameCount--
			if v.frameCount == 0 {
				v.pop()
				return nil
			}
			for i := frame.slots; i < v.top; i++ {
				v.stack[i] = Nil
			}
			v.top = frame.slots
			v.push(result)
			frame = &v.frames[v.frameCount-1]

		case OpClass:
			name := readString()
			v.push(ObjValue(v.heap.NewClass(name)))
		case OpInherit:
			superclass := v.peek(1).AsClass()
			if superclass == nil {
				return v.runtimeError("Superclass must be a class.")
			}
			subclass := v.peek(0).AsClass()
			if subclass == nil {
				return v.runtimeError("Only classes can inherit.")
			}
			for name, method := range superclass.Methods {
				subclass.Methods[name] = method
			}
			v.heap.grow(subclass, sizeValue*len(superclass.Methods))
			v.pop()
		case OpMethod:
			if err := v.defineMethod(readString()); err != nil {
				return err
			}

		default:
			return v.runtimeError("Unknown opcode %d.", byte(op))
		}
	}
}

func compare(op Opcode, a, b float64) bool {
	switch op {
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	case OpLess:
		return a < b
	default:
		return a <= b
	}
}

func arithmetic(op Opcode, a, b float64) float64 {
	switch op {
	case OpSubtract:
		return a - b
	case OpMultiply:
		return a * b
	case OpDivide:
		return a / b
	default:
		return math.Mod(a, b)
	}
}

// concatenate joins the two strings on top of the stack. Both operands stay
// on the stack until the result is interned.
func (v *VM) concatenate() {
	b := v.peek(0).AsString()
	a := v.peek(1).AsString()
	var sb strings.Builder
	sb.Grow(len(a.Chars) + len(b.Chars))
	sb.WriteString(a.Chars)
	sb.WriteString(b.Chars)
	result := v.heap.TakeString(&sb)
	v.pop()
	v.pop()
	v.push(ObjValue(result))
}

func (v *VM) defineGlobal(name *String, value Value) {
	v.globals[name] = value
}

func (v *VM) traceInstruction(frame *CallFrame) {
	var sb strings.Builder
	sb.WriteString("          ")
	for i := 0; i < v.top; i++ {
		sb.WriteString("[ ")
		sb.WriteString(v.stack[i].String())
		sb.WriteString(" ]")
	}
	sb.WriteString("\n")
	line, _ := frame.chunk.DisassembleInstruction(frame.ip)
	sb.WriteString(line)
	sb.WriteString("\n")
	fmt.Fprint(v.cfg.TraceOutput, sb.String())
}
