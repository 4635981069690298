package vm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Image format identification.
const (
	ImageMagic   = "LOXI"
	ImageVersion = 1
)

// ErrBadImage is returned for data that is not a loadable compiled image.
var ErrBadImage = errors.New("vm: bad image")

var (
	imageEncMode cbor.EncMode
	imageDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em

	dm, err := cbor.DecOptions{MaxNestedLevels: 4096}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR dec mode: %v", err))
	}
	imageDecMode = dm
}

type imageFile struct {
	Magic   string         `cbor:"1,keyasint"`
	Version int            `cbor:"2,keyasint"`
	Script  *imageFunction `cbor:"3,keyasint"`
}

type imageFunction struct {
	Name         *string         `cbor:"1,keyasint,omitempty"`
	Arity        int             `cbor:"2,keyasint"`
	UpvalueCount int             `cbor:"3,keyasint"`
	Code         []byte          `cbor:"4,keyasint"`
	Lines        []int           `cbor:"5,keyasint"`
	Constants    []imageConstant `cbor:"6,keyasint"`
}

type constantKind uint8

const (
	constNil constantKind = iota
	constBool
	constNumber
	constString
	constFunction
)

type imageConstant struct {
	Kind     constantKind   `cbor:"1,keyasint"`
	Bool     bool           `cbor:"2,keyasint,omitempty"`
	Number   float64        `cbor:"3,keyasint,omitempty"`
	String   string         `cbor:"4,keyasint,omitempty"`
	Function *imageFunction `cbor:"5,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// EncodeImage serializes a compiled script and every function nested in
// its constant pool.
func EncodeImage(fn *Function) ([]byte, error) {
	wire, err := encodeFunction(fn)
	if err != nil {
		return nil, err
	}
	return imageEncMode.Marshal(&imageFile{
		Magic:   ImageMagic,
		Version: ImageVersion,
		Script:  wire,
	})
}

func encodeFunction(fn *Function) (*imageFunction, error) {
	out := &imageFunction{
		Arity:        fn.Arity,
		UpvalueCount: fn.UpvalueCount,
		Code:         fn.Chunk.Code,
		Lines:        fn.Chunk.Lines,
		Constants:    make([]imageConstant, 0, len(fn.Chunk.Constants)),
	}
	if fn.Name != nil {
		name := fn.Name.Chars
		out.Name = &name
	}
	for i, k := range fn.Chunk.Constants {
		var c imageConstant
		switch {
		case k.IsNil():
			c.Kind = constNil
		case k.IsBool():
			c = imageConstant{Kind: constBool, Bool: k.AsBool()}
		case k.IsNumber():
			c = imageConstant{Kind: constNumber, Number: k.AsNumber()}
		case k.IsString():
			c = imageConstant{Kind: constString, String: k.AsString().Chars}
		case k.IsObjType(ObjTypeFunction):
			inner, err := encodeFunction(k.AsFunction())
			if err != nil {
				return nil, err
			}
			c = imageConstant{Kind: constFunction, Function: inner}
		default:
			return nil, fmt.Errorf("vm: encode image: constant %d of %s: unsupported %s", i, fn, k.TypeName())
		}
		out.Constants = append(out.Constants, c)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadImage decodes an image into heap objects owned by the VM. The
// returned script function is ready for Execute.
func (v *VM) LoadImage(data []byte) (*Function, error) {
	var file imageFile
	if err := imageDecMode.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if file.Magic != ImageMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadImage, file.Magic)
	}
	if file.Version != ImageVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadImage, file.Version, ImageVersion)
	}
	if file.Script == nil {
		return nil, fmt.Errorf("%w: no script", ErrBadImage)
	}
	if file.Script.Arity != 0 || file.Script.UpvalueCount != 0 {
		return nil, fmt.Errorf("%w: script takes no arguments or upvalues", ErrBadImage)
	}
	fn, g, err := v.loadFunction(file.Script)
	if err != nil {
		return nil, err
	}
	g.Release()
	return fn, nil
}

// loadFunction rebuilds one function. The result is returned pinned; the
// caller releases the guard once the function is reachable.
func (v *VM) loadFunction(in *imageFunction) (*Function, RootGuard, error) {
	if len(in.Code) != len(in.Lines) {
		return nil, RootGuard{}, fmt.Errorf("%w: %d code bytes but %d lines", ErrBadImage, len(in.Code), len(in.Lines))
	}
	if in.Arity < 0 || in.Arity > 255 || in.UpvalueCount < 0 || in.UpvalueCount > 256 {
		return nil, RootGuard{}, fmt.Errorf("%w: bad function header", ErrBadImage)
	}
	if len(in.Constants) > 256 {
		return nil, RootGuard{}, fmt.Errorf("%w: %d constants", ErrBadImage, len(in.Constants))
	}

	fn := v.heap.NewFunction()
	g := v.heap.PinObj(fn)
	fn.Arity = in.Arity
	fn.UpvalueCount = in.UpvalueCount
	fn.Chunk.Code = append(fn.Chunk.Code[:0], in.Code...)
	fn.Chunk.Lines = append(fn.Chunk.Lines[:0], in.Lines...)
	if in.Name != nil {
		fn.Name = v.heap.CopyString(*in.Name)
	}

	for i, c := range in.Constants {
		var k Value
		switch c.Kind {
		case constNil:
			k = Nil
		case constBool:
			k = BoolValue(c.Bool)
		case constNumber:
			k = NumberValue(c.Number)
		case constString:
			k = ObjValue(v.heap.CopyString(c.String))
		case constFunction:
			if c.Function == nil {
				g.Release()
				return nil, RootGuard{}, fmt.Errorf("%w: constant %d: empty function", ErrBadImage, i)
			}
			inner, ig, err := v.loadFunction(c.Function)
			if err != nil {
				g.Release()
				return nil, RootGuard{}, err
			}
			k = ObjValue(inner)
			fn.Chunk.Constants = append(fn.Chunk.Constants, k)
			ig.Release()
			continue
		default:
			g.Release()
			return nil, RootGuard{}, fmt.Errorf("%w: constant %d: kind %d", ErrBadImage, i, c.Kind)
		}
		fn.Chunk.Constants = append(fn.Chunk.Constants, k)
	}

	if err := verifyChunk(fn); err != nil {
		g.Release()
		return nil, RootGuard{}, fmt.Errorf("%w: %s: %v", ErrBadImage, fn, err)
	}
	return fn, g, nil
}

// verifyChunk checks a loaded function before it can run. Every
// instruction must decode, and every path from the entry must keep the
// value stack consistent: locals are read below the current height,
// upvalue indexes stay under the function's upvalue count, jumps land on
// instruction starts, and no path runs off the end of the code.
func verifyChunk(fn *Function) error {
	c := fn.Chunk
	n := len(c.Code)
	if n == 0 {
		return errors.New("empty chunk")
	}

	// width holds the instruction length at each instruction start and 0
	// inside operands.
	width := make([]int, n)
	for offset := 0; offset < n; {
		w, err := decodeInstruction(c, offset)
		if err != nil {
			return err
		}
		width[offset] = w
		offset += w
	}

	height := make([]int, n)
	for i := range height {
		height[i] = -1
	}
	height[0] = 1 + fn.Arity
	work := []int{0}
	for len(work) > 0 {
		offset := work[len(work)-1]
		work = work[:len(work)-1]

		after, succ, err := stackFlow(fn, offset, height[offset], width[offset])
		if err != nil {
			return fmt.Errorf("offset %d: %v", offset, err)
		}
		for _, s := range succ {
			switch {
			case s < 0 || s >= n:
				return fmt.Errorf("offset %d: execution leaves the chunk", offset)
			case width[s] == 0:
				return fmt.Errorf("offset %d: jump into the middle of an instruction", offset)
			case height[s] == -1:
				height[s] = after
				work = append(work, s)
			case height[s] != after:
				return fmt.Errorf("offset %d: stack height %d, but %d on another path", s, after, height[s])
			}
		}
	}
	return nil
}

// decodeInstruction checks the operands of the instruction at offset and
// returns its length.
func decodeInstruction(c *Chunk, offset int) (int, error) {
	n := len(c.Code)
	op := Opcode(c.Code[offset])
	info, known := opcodeInfoTable[op]
	if !known {
		return 0, fmt.Errorf("offset %d: unknown opcode %d", offset, byte(op))
	}
	switch op {
	case OpConstant:
		if offset+1 >= n || int(c.Code[offset+1]) >= len(c.Constants) {
			return 0, fmt.Errorf("offset %d: constant out of range", offset)
		}
	case OpGetGlobal, OpDefineGlobal, OpSetGlobal, OpGetProperty, OpSetProperty,
		OpGetSuper, OpClass, OpMethod, OpInvoke, OpSuperInvoke:
		if offset+1 >= n || int(c.Code[offset+1]) >= len(c.Constants) || !c.Constants[c.Code[offset+1]].IsString() {
			return 0, fmt.Errorf("offset %d: %s needs a string constant", offset, op)
		}
	case OpJump, OpJumpIfFalse, OpLoop:
		if offset+2 >= n {
			return 0, fmt.Errorf("offset %d: truncated jump", offset)
		}
		if target := jumpTarget(c, offset); target < 0 || target >= n {
			return 0, fmt.Errorf("offset %d: jump target %d out of range", offset, target)
		}
	case OpClosure:
		if offset+1 >= n || int(c.Code[offset+1]) >= len(c.Constants) {
			return 0, fmt.Errorf("offset %d: closure constant out of range", offset)
		}
		fn := c.Constants[c.Code[offset+1]].AsFunction()
		if fn == nil {
			return 0, fmt.Errorf("offset %d: closure needs a function constant", offset)
		}
		w := 2 + 2*fn.UpvalueCount
		if offset+w > n {
			return 0, fmt.Errorf("offset %d: truncated closure", offset)
		}
		return w, nil
	}
	w := 1 + info.OperandLen
	if offset+w > n {
		return 0, fmt.Errorf("offset %d: truncated %s", offset, op)
	}
	return w, nil
}

func jumpTarget(c *Chunk, offset int) int {
	if Opcode(c.Code[offset]) == OpLoop {
		return offset + 3 - c.readUint16(offset+1)
	}
	return offset + 3 + c.readUint16(offset+1)
}

// stackFlow returns the stack height after the instruction at offset,
// entered with height h, and the offsets execution can continue at. The
// height counts the frame's slot 0, which no instruction may consume.
func stackFlow(fn *Function, offset, h, w int) (int, []int, error) {
	code := fn.Chunk.Code
	op := Opcode(code[offset])
	next := []int{offset + w}
	operand := func(i int) int { return int(code[offset+i]) }
	need := func(k int) error {
		if h-1 < k {
			return fmt.Errorf("%s needs %d operands, stack has %d", op, k, h-1)
		}
		return nil
	}
	local := func(slot int) error {
		if slot >= h {
			return fmt.Errorf("%s slot %d above stack height %d", op, slot, h)
		}
		return nil
	}
	upvalue := func(index int) error {
		if index >= fn.UpvalueCount {
			return fmt.Errorf("%s upvalue %d of %d", op, index, fn.UpvalueCount)
		}
		return nil
	}

	switch op {
	case OpConstant, OpNil, OpTrue, OpFalse, OpGetGlobal, OpClass:
		return h + 1, next, nil
	case OpGetLocal:
		return h + 1, next, local(operand(1))
	case OpSetLocal:
		if err := local(operand(1)); err != nil {
			return 0, nil, err
		}
		return h, next, need(1)
	case OpGetUpvalue:
		return h + 1, next, upvalue(operand(1))
	case OpSetUpvalue:
		if err := upvalue(operand(1)); err != nil {
			return 0, nil, err
		}
		return h, next, need(1)
	case OpSetGlobal, OpGetProperty, OpNot, OpNegate:
		return h, next, need(1)
	case OpPop, OpDefineGlobal, OpPrint, OpCloseUpvalue:
		return h - 1, next, need(1)
	case OpSetProperty, OpGetSuper, OpInherit, OpMethod,
		OpEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual,
		OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo:
		return h - 1, next, need(2)
	case OpJump, OpLoop:
		return h, []int{jumpTarget(fn.Chunk, offset)}, nil
	case OpJumpIfFalse:
		return h, append(next, jumpTarget(fn.Chunk, offset)), need(1)
	case OpCall:
		argc := operand(1)
		return h - argc, next, need(argc + 1)
	case OpInvoke:
		argc := operand(2)
		return h - argc, next, need(argc + 1)
	case OpSuperInvoke:
		argc := operand(2)
		return h - argc - 1, next, need(argc + 2)
	case OpClosure:
		for i := 2; i < w; i += 2 {
			isLocal, index := operand(i), operand(i+1)
			switch isLocal {
			case 1:
				if err := local(index); err != nil {
					return 0, nil, err
				}
			case 0:
				if err := upvalue(index); err != nil {
					return 0, nil, err
				}
			default:
				return 0, nil, fmt.Errorf("closure capture flag %d", isLocal)
			}
		}
		return h + 1, next, nil
	case OpReturn:
		return h - 1, nil, need(1)
	default:
		panic(fmt.Sprintf("vm: stackFlow: unhandled opcode %s", op))
	}
}
