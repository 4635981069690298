package vm

import "fmt"

// Opcode represents a bytecode instruction.
type Opcode byte

const (
	// Constants and literals
	OpConstant Opcode = iota // Push constant: OpConstant <index:u8>
	OpNil                    // Push nil
	OpTrue                   // Push true
	OpFalse                  // Push false
	OpPop                    // Pop top of stack

	// Variables
	OpGetLocal     // Push local: OpGetLocal <slot:u8>
	OpSetLocal     // Store TOS to local (TOS stays): OpSetLocal <slot:u8>
	OpGetGlobal    // Push global: OpGetGlobal <name:u8>
	OpDefineGlobal // Pop into new global: OpDefineGlobal <name:u8>
	OpSetGlobal    // Store TOS to existing global: OpSetGlobal <name:u8>
	OpGetUpvalue   // Push upvalue: OpGetUpvalue <index:u8>
	OpSetUpvalue   // Store TOS to upvalue: OpSetUpvalue <index:u8>

	// Properties
	OpGetProperty // instance -> field or bound method: OpGetProperty <name:u8>
	OpSetProperty // instance value -> value: OpSetProperty <name:u8>
	OpGetSuper    // this super -> bound method: OpGetSuper <name:u8>

	// Comparison
	OpEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual

	// Arithmetic and logic
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpModulo
	OpNot
	OpNegate

	// Statements
	OpPrint

	// Control flow
	OpJump        // ip += offset: OpJump <offset:u16>
	OpJumpIfFalse // if TOS falsy, ip += offset (TOS stays): OpJumpIfFalse <offset:u16>
	OpLoop        // ip -= offset: OpLoop <offset:u16>

	// Calls and closures
	OpCall         // OpCall <argc:u8>
	OpInvoke       // OpInvoke <name:u8> <argc:u8>
	OpSuperInvoke  // OpSuperInvoke <name:u8> <argc:u8>
	OpClosure      // OpClosure <fn:u8> then (<isLocal:u8> <index:u8>) per upvalue
	OpCloseUpvalue // Close the upvalue for TOS slot, then pop
	OpReturn

	// Classes
	OpClass   // OpClass <name:u8>
	OpInherit // superclass subclass -> superclass
	OpMethod  // class closure -> class: OpMethod <name:u8>
)

// OpcodeInfo provides metadata about each opcode for disassembly and
// validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	OperandLen int    // Fixed operand bytes following the opcode (-1 = variable)
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpConstant: {"OP_CONSTANT", 1},
	OpNil:      {"OP_NIL", 0},
	OpTrue:     {"OP_TRUE", 0},
	OpFalse:    {"OP_FALSE", 0},
	OpPop:      {"OP_POP", 0},

	OpGetLocal:     {"OP_GET_LOCAL", 1},
	OpSetLocal:     {"OP_SET_LOCAL", 1},
	OpGetGlobal:    {"OP_GET_GLOBAL", 1},
	OpDefineGlobal: {"OP_DEFINE_GLOBAL", 1},
	OpSetGlobal:    {"OP_SET_GLOBAL", 1},
	OpGetUpvalue:   {"OP_GET_UPVALUE", 1},
	OpSetUpvalue:   {"OP_SET_UPVALUE", 1},

	OpGetProperty: {"OP_GET_PROPERTY", 1},
	OpSetProperty: {"OP_SET_PROPERTY", 1},
	OpGetSuper:    {"OP_GET_SUPER", 1},

	OpEqual:        {"OP_EQUAL", 0},
	OpGreater:      {"OP_GREATER", 0},
	OpGreaterEqual: {"OP_GREATER_EQUAL", 0},
	OpLess:         {"OP_LESS", 0},
	OpLessEqual:    {"OP_LESS_EQUAL", 0},

	OpAdd:      {"OP_ADD", 0},
	OpSubtract: {"OP_SUBTRACT", 0},
	OpMultiply: {"OP_MULTIPLY", 0},
	OpDivide:   {"OP_DIVIDE", 0},
	OpModulo:   {"OP_MODULO", 0},
	OpNot:      {"OP_NOT", 0},
	OpNegate:   {"OP_NEGATE", 0},

	OpPrint: {"OP_PRINT", 0},

	OpJump:        {"OP_JUMP", 2},
	OpJumpIfFalse: {"OP_JUMP_IF_FALSE", 2},
	OpLoop:        {"OP_LOOP", 2},

	OpCall:         {"OP_CALL", 1},
	OpInvoke:       {"OP_INVOKE", 2},
	OpSuperInvoke:  {"OP_SUPER_INVOKE", 2},
	OpClosure:      {"OP_CLOSURE", -1},
	OpCloseUpvalue: {"OP_CLOSE_UPVALUE", 0},
	OpReturn:       {"OP_RETURN", 0},

	OpClass:   {"OP_CLASS", 1},
	OpInherit: {"OP_INHERIT", 0},
	OpMethod:  {"OP_METHOD", 1},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsJump returns true for forward and backward jumps.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpLoop
}

// AllOpcodes returns every defined opcode.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		ops = append(ops, op)
	}
	return ops
}
