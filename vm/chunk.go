package vm

import (
	"errors"
	"math"
)

// ErrJumpTooLarge is returned when a jump offset does not fit in 16 bits.
var ErrJumpTooLarge = errors.New("too much code to jump over")

// ErrLoopTooLarge is returned when a loop body does not fit in 16 bits.
var ErrLoopTooLarge = errors.New("loop body too large")

// Chunk is a function's compiled bytecode: the instruction stream, a source
// line per byte and the constant pool.
type Chunk struct {
	Code      []byte
	Lines     []int
	Constants []Value
}

// NewChunk creates an empty chunk.
func NewChunk() *Chunk {
	return &Chunk{
		Code:  make([]byte, 0, 64),
		Lines: make([]int, 0, 64),
	}
}

// Write appends one byte of code and the source line it came from.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// WriteOp appends an opcode.
func (c *Chunk) WriteOp(op Opcode, line int) {
	c.Write(byte(op), line)
}

// AddConstant appends v to the constant pool and returns its index.
// Numbers and strings already in the pool are reused.
func (c *Chunk) AddConstant(v Value) int {
	if v.IsNumber() || v.IsString() {
		for i, existing := range c.Constants {
			if existing.IsNumber() && v.IsNumber() {
				// Bitwise identity keeps NaN and -0 distinct.
				if math.Float64bits(existing.AsNumber()) == math.Float64bits(v.AsNumber()) {
					return i
				}
				continue
			}
			if Equal(existing, v) {
				return i
			}
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// EmitJump writes a jump with a 0xFFFF placeholder and returns the offset
// of the placeholder for PatchJump.
func (c *Chunk) EmitJump(op Opcode, line int) int {
	c.WriteOp(op, line)
	c.Write(0xFF, line)
	c.Write(0xFF, line)
	return len(c.Code) - 2
}

// PatchJump makes the jump whose placeholder sits at offset land on the
// current end of code.
func (c *Chunk) PatchJump(offset int) error {
	jump := len(c.Code) - offset - 2
	if jump > math.MaxUint16 {
		return ErrJumpTooLarge
	}
	c.Code[offset] = byte(jump >> 8)
	c.Code[offset+1] = byte(jump)
	return nil
}

// EmitLoop writes a backward jump to loopStart.
func (c *Chunk) EmitLoop(loopStart int, line int) error {
	c.WriteOp(OpLoop, line)
	offset := len(c.Code) - loopStart + 2
	if offset > math.MaxUint16 {
		c.Write(0, line)
		c.Write(0, line)
		return ErrLoopTooLarge
	}
	c.Write(byte(offset>>8), line)
	c.Write(byte(offset), line)
	return nil
}

// Len returns the number of code bytes.
func (c *Chunk) Len() int {
	return len(c.Code)
}

// LineAt returns the source line for a code offset, or 0.
func (c *Chunk) LineAt(offset int) int {
	if offset < 0 || offset >= len(c.Lines) {
		return 0
	}
	return c.Lines[offset]
}

// readUint16 decodes a big-endian operand at offset.
func (c *Chunk) readUint16(offset int) int {
	return int(c.Code[offset])<<8 | int(c.Code[offset+1])
}
