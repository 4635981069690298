package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the chunk.
func (c *Chunk) Disassemble(name string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("== %s ==\n", name))
	for offset := 0; offset < len(c.Code); {
		line, next := c.DisassembleInstruction(offset)
		sb.WriteString(line)
		sb.WriteString("\n")
		offset = next
	}
	return sb.String()
}

// DisassembleFunction lists fn and, recursively, every function in its
// constant pool.
func DisassembleFunction(fn *Function) string {
	var sb strings.Builder
	seen := make(map[*Function]bool)
	var walk func(f *Function)
	walk = func(f *Function) {
		if seen[f] {
			return
		}
		seen[f] = true
		name := "<script>"
		if f.Name != nil {
			name = f.Name.Chars
		}
		sb.WriteString(f.Chunk.Disassemble(name))
		for _, k := range f.Chunk.Constants {
			if inner := k.AsFunction(); inner != nil {
				walk(inner)
			}
		}
	}
	walk(fn)
	return sb.String()
}

// DisassembleInstruction formats the instruction at offset and returns the
// offset of the next instruction.
func (c *Chunk) DisassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", offset
	}

	var prefix string
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		prefix = fmt.Sprintf("%04d    | ", offset)
	} else {
		prefix = fmt.Sprintf("%04d %4d ", offset, c.Lines[offset])
	}

	op := Opcode(c.Code[offset])
	name := op.String()
	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal,
		OpGetProperty, OpSetProperty, OpGetSuper, OpClass, OpMethod:
		if offset+1 >= len(c.Code) {
			return prefix + name + " <truncated>", len(c.Code)
		}
		idx := int(c.Code[offset+1])
		return prefix + fmt.Sprintf("%-16s %4d '%s'", name, idx, c.constantString(idx)), offset + 2

	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		if offset+1 >= len(c.Code) {
			return prefix + name + " <truncated>", len(c.Code)
		}
		return prefix + fmt.Sprintf("%-16s %4d", name, c.Code[offset+1]), offset + 2

	case OpInvoke, OpSuperInvoke:
		if offset+2 >= len(c.Code) {
			return prefix + name + " <truncated>", len(c.Code)
		}
		idx := int(c.Code[offset+1])
		argc := c.Code[offset+2]
		return prefix + fmt.Sprintf("%-16s (%d args) %4d '%s'", name, argc, idx, c.constantString(idx)), offset + 3

	case OpJump, OpJumpIfFalse, OpLoop:
		if offset+2 >= len(c.Code) {
			return prefix + name + " <truncated>", len(c.Code)
		}
		jump := c.readUint16(offset + 1)
		target := offset + 3 + jump
		if op == OpLoop {
			target = offset + 3 - jump
		}
		return prefix + fmt.Sprintf("%-16s %4d -> %d", name, offset, target), offset + 3

	case OpClosure:
		if offset+1 >= len(c.Code) {
			return prefix + name + " <truncated>", len(c.Code)
		}
		idx := int(c.Code[offset+1])
		var sb strings.Builder
		sb.WriteString(prefix)
		sb.WriteString(fmt.Sprintf("%-16s %4d %s", name, idx, c.constantString(idx)))
		next := offset + 2
		var fn *Function
		if idx < len(c.Constants) {
			fn = c.Constants[idx].AsFunction()
		}
		if fn != nil {
			for i := 0; i < fn.UpvalueCount && next+1 < len(c.Code); i++ {
				kind := "upvalue"
				if c.Code[next] == 1 {
					kind = "local"
				}
				sb.WriteString(fmt.Sprintf("\n%04d      |                     %s %d", next, kind, c.Code[next+1]))
				next += 2
			}
		}
		return sb.String(), next

	default:
		info, known := opcodeInfoTable[op]
		if !known {
			return prefix + fmt.Sprintf("Unknown opcode %d", byte(op)), offset + 1
		}
		return prefix + info.Name, offset + 1 + info.OperandLen
	}
}

func (c *Chunk) constantString(idx int) string {
	if idx >= len(c.Constants) {
		return "<bad constant>"
	}
	return c.Constants[idx].String()
}
