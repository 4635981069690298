// Package compiler turns Lox source into bytecode for the vm package. It is
// a single-pass compiler: a Pratt parser that emits instructions as it
// recognises them, without building a syntax tree.
package compiler

import (
	"fmt"
	"io"
	"math"
	"os"
	"unicode/utf8"

	"github.com/chazu/lox/vm"
	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"
)

// Limits imposed by the one-byte operand encoding.
const (
	MaxLocals    = math.MaxUint8 + 1
	MaxUpvalues  = math.MaxUint8 + 1
	MaxConstants = math.MaxUint8 + 1
	MaxArgs      = math.MaxUint8
)

// Options configures a Compiler.
type Options struct {
	PrintCode bool      // write a disassembly of every compiled function
	Output    io.Writer // destination of PrintCode output; stderr if nil
}

// Compiler compiles Lox source. A Compiler holds no per-source state and
// may be reused.
type Compiler struct {
	opts Options
	log  commonlog.Logger
}

// New creates a compiler.
func New(opts Options) *Compiler {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	return &Compiler{opts: opts, log: commonlog.GetLogger("lox.compiler")}
}

// Compile compiles source with default options. Its signature matches
// vm.CompileFunc.
func Compile(h *vm.Heap, source string) (*vm.Function, error) {
	return New(Options{}).Compile(h, source)
}

// Func returns c as a vm.CompileFunc.
func (c *Compiler) Func() vm.CompileFunc {
	return c.Compile
}

// Compile compiles source into a script function allocated on h. On any
// error it returns a *CompileError listing every diagnostic.
func (c *Compiler) Compile(h *vm.Heap, source string) (*vm.Function, error) {
	p := &parser{
		opts:  c.opts,
		heap:  h,
		lexer: NewLexer(source),
	}
	h.AddRoots(p)
	defer h.RemoveRoots(p)

	p.beginFunction(kindScript)
	p.advance()
	for !p.match(TokenEOF) {
		p.declaration()
	}
	fn := p.endFunction()

	if p.errs != nil {
		c.log.Debugf("compile failed with %d errors", len(p.errs.Errors))
		return nil, &CompileError{errs: p.errs}
	}
	c.log.Debugf("compiled script: %d bytes of code, %d constants", fn.Chunk.Len(), len(fn.Chunk.Constants))
	return fn, nil
}

// ---------------------------------------------------------------------------
// Parser state
// ---------------------------------------------------------------------------

type functionKind int

const (
	kindFunction functionKind = iota
	kindInitializer
	kindMethod
	kindScript
)

type local struct {
	name       string
	depth      int // -1 while the initializer is being compiled
	isCaptured bool
}

type upvalue struct {
	index   byte
	isLocal bool
}

// loop tracks the innermost enclosing loop for break.
type loop struct {
	enclosing  *loop
	scopeDepth int
	breaks     []int // jump placeholders patched when the loop ends
}

// funcCompiler holds the state of one function being compiled. They form a
// stack through enclosing, innermost first.
type funcCompiler struct {
	enclosing  *funcCompiler
	function   *vm.Function
	kind       functionKind
	locals     []local
	upvalues   []upvalue
	scopeDepth int
	loop       *loop
}

type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

type parser struct {
	opts  Options
	heap  *vm.Heap
	lexer *Lexer

	current  Token
	previous Token

	errs      *multierror.Error
	panicMode bool

	fc *funcCompiler
	cc *classCompiler
}

// MarkRoots keeps every function under construction alive.
func (p *parser) MarkRoots(h *vm.Heap) {
	for fc := p.fc; fc != nil; fc = fc.enclosing {
		h.MarkObject(fc.function)
	}
}

func (p *parser) chunk() *vm.Chunk {
	return p.fc.function.Chunk
}

// beginFunction pushes a compiler for a new function. For anything but the
// script, the function is named after the previous token.
func (p *parser) beginFunction(kind functionKind) {
	fc := &funcCompiler{
		enclosing: p.fc,
		function:  p.heap.NewFunction(),
		kind:      kind,
	}
	p.fc = fc
	if kind != kindScript {
		fc.function.Name = p.heap.CopyString(p.previous.Literal)
	}

	// Slot 0 holds the callee, or the receiver in methods.
	slot0 := local{depth: 0}
	if kind == kindMethod || kind == kindInitializer {
		slot0.name = "this"
	}
	fc.locals = append(fc.locals, slot0)
}

// endFunction finishes the current function and pops its compiler.
func (p *parser) endFunction() *vm.Function {
	p.emitReturn()
	fn := p.fc.function
	if p.opts.PrintCode && p.errs == nil {
		name := "<script>"
		if fn.Name != nil {
			name = fn.Name.Chars
		}
		fmt.Fprint(p.opts.Output, fn.Chunk.Disassemble(name))
	}
	p.fc = p.fc.enclosing
	return fn
}

// ---------------------------------------------------------------------------
// Token handling
// ---------------------------------------------------------------------------

func (p *parser) advance() {
	p.previous = p.current
	for {
		p.current = p.lexer.NextToken()
		if p.current.Type != TokenError {
			break
		}
		p.errorAtCurrent(p.current.Literal)
	}
}

func (p *parser) consume(typ TokenType, message string) {
	if p.current.Type == typ {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *parser) check(typ TokenType) bool {
	return p.current.Type == typ
}

func (p *parser) match(typ TokenType) bool {
	if !p.check(typ) {
		return false
	}
	p.advance()
	return true
}

// ---------------------------------------------------------------------------
// Error reporting
// ---------------------------------------------------------------------------

func (p *parser) errorAt(tok Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true

	d := &Diagnostic{Pos: tok.Pos, Message: message}
	switch tok.Type {
	case TokenEOF:
		d.Where = " at end"
	case TokenError:
	default:
		d.Where = fmt.Sprintf(" at '%s'", tok.Literal)
		d.Length = utf8.RuneCountInString(tok.Literal)
	}
	p.errs = multierror.Append(p.errs, d)
	p.errs.ErrorFormat = formatDiagnostics
}

func (p *parser) error(message string) {
	p.errorAt(p.previous, message)
}

func (p *parser) errorAtCurrent(message string) {
	p.errorAt(p.current, message)
}

// synchronize skips tokens until a likely statement boundary.
func (p *parser) synchronize() {
	p.panicMode = false
	for p.current.Type != TokenEOF {
		if p.previous.Type == TokenSemicolon {
			return
		}
		switch p.current.Type {
		case TokenClass, TokenFun, TokenVar, TokenFor, TokenIf,
			TokenWhile, TokenPrint, TokenReturn, TokenBreak:
			return
		}
		p.advance()
	}
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (p *parser) emitByte(b byte) {
	p.chunk().Write(b, p.previous.Pos.Line)
}

func (p *parser) emitOp(op vm.Opcode, operands ...byte) {
	p.chunk().WriteOp(op, p.previous.Pos.Line)
	for _, b := range operands {
		p.emitByte(b)
	}
}

func (p *parser) emitJump(op vm.Opcode) int {
	return p.chunk().EmitJump(op, p.previous.Pos.Line)
}

func (p *parser) patchJump(offset int) {
	if err := p.chunk().PatchJump(offset); err != nil {
		p.error("Too much code to jump over.")
	}
}

func (p *parser) emitLoop(loopStart int) {
	if err := p.chunk().EmitLoop(loopStart, p.previous.Pos.Line); err != nil {
		p.error("Loop body too large.")
	}
}

func (p *parser) emitReturn() {
	if p.fc.kind == kindInitializer {
		p.emitOp(vm.OpGetLocal, 0)
	} else {
		p.emitOp(vm.OpNil)
	}
	p.emitOp(vm.OpReturn)
}

func (p *parser) makeConstant(v vm.Value) byte {
	idx := p.chunk().AddConstant(v)
	if idx >= MaxConstants {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (p *parser) emitConstant(v vm.Value) {
	p.emitOp(vm.OpConstant, p.makeConstant(v))
}

// identifierConstant interns name and adds it to the constant pool.
func (p *parser) identifierConstant(name string) byte {
	return p.makeConstant(vm.ObjValue(p.heap.CopyString(name)))
}

// ---------------------------------------------------------------------------
// Scopes and variables
// ---------------------------------------------------------------------------

func (p *parser) beginScope() {
	p.fc.scopeDepth++
}

func (p *parser) endScope() {
	fc := p.fc
	fc.scopeDepth--
	for len(fc.locals) > 0 && fc.locals[len(fc.locals)-1].depth > fc.scopeDepth {
		if fc.locals[len(fc.locals)-1].isCaptured {
			p.emitOp(vm.OpCloseUpvalue)
		} else {
			p.emitOp(vm.OpPop)
		}
		fc.locals = fc.locals[:len(fc.locals)-1]
	}
}

// discardLocals emits the pops for locals deeper than depth without
// forgetting them; used by break, which leaves the scope only on one path.
func (p *parser) discardLocals(depth int) {
	fc := p.fc
	for i := len(fc.locals) - 1; i >= 0 && fc.locals[i].depth > depth; i-- {
		if fc.locals[i].isCaptured {
			p.emitOp(vm.OpCloseUpvalue)
		} else {
			p.emitOp(vm.OpPop)
		}
	}
}

func (p *parser) addLocal(name string) {
	if len(p.fc.locals) == MaxLocals {
		p.error("Too many local variables in function.")
		return
	}
	p.fc.locals = append(p.fc.locals, local{name: name, depth: -1})
}

func (p *parser) declareVariable() {
	if p.fc.scopeDepth == 0 {
		return
	}
	name := p.previous.Literal
	for i := len(p.fc.locals) - 1; i >= 0; i-- {
		l := p.fc.locals[i]
		if l.depth != -1 && l.depth < p.fc.scopeDepth {
			break
		}
		if l.name == name {
			p.error("Already a variable with this name in this scope.")
		}
	}
	p.addLocal(name)
}

func (p *parser) parseVariable(message string) byte {
	p.consume(TokenIdentifier, message)
	p.declareVariable()
	if p.fc.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(p.previous.Literal)
}

func (p *parser) markInitialized() {
	if p.fc.scopeDepth == 0 {
		return
	}
	p.fc.locals[len(p.fc.locals)-1].depth = p.fc.scopeDepth
}

func (p *parser) defineVariable(global byte) {
	if p.fc.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitOp(vm.OpDefineGlobal, global)
}

func (p *parser) resolveLocal(fc *funcCompiler, name string) int {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		if fc.locals[i].name == name {
			if fc.locals[i].depth == -1 {
				p.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (p *parser) addUpvalue(fc *funcCompiler, index byte, isLocal bool) int {
	for i, u := range fc.upvalues {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	if len(fc.upvalues) == MaxUpvalues {
		p.error("Too many closure variables in function.")
		return 0
	}
	fc.upvalues = append(fc.upvalues, upvalue{index: index, isLocal: isLocal})
	fc.function.UpvalueCount = len(fc.upvalues)
	return len(fc.upvalues) - 1
}

func (p *parser) resolveUpvalue(fc *funcCompiler, name string) int {
	if fc.enclosing == nil {
		return -1
	}
	if l := p.resolveLocal(fc.enclosing, name); l != -1 {
		fc.enclosing.locals[l].isCaptured = true
		return p.addUpvalue(fc, byte(l), true)
	}
	if u := p.resolveUpvalue(fc.enclosing, name); u != -1 {
		return p.addUpvalue(fc, byte(u), false)
	}
	return -1
}

func (p *parser) namedVariable(name string, canAssign bool) {
	var getOp, setOp vm.Opcode
	var arg byte
	if slot := p.resolveLocal(p.fc, name); slot != -1 {
		arg, getOp, setOp = byte(slot), vm.OpGetLocal, vm.OpSetLocal
	} else if slot := p.resolveUpvalue(p.fc, name); slot != -1 {
		arg, getOp, setOp = byte(slot), vm.OpGetUpvalue, vm.OpSetUpvalue
	} else {
		arg, getOp, setOp = p.identifierConstant(name), vm.OpGetGlobal, vm.OpSetGlobal
	}

	if canAssign && p.match(TokenEqual) {
		p.expression()
		p.emitOp(setOp, arg)
		return
	}
	p.emitOp(getOp, arg)
}
