package vm

import (
	"io"
	"os"
	"time"

	"github.com/tliron/commonlog"
)

// Defaults used when a Config field is zero.
const (
	DefaultFramesMax          = 64
	DefaultGCGrowthFactor     = 2
	DefaultInitialGCThreshold = 1024 * 1024
	SlotsPerFrame             = 256
)

// Config tunes a VM. The zero value is usable.
type Config struct {
	FramesMax          int // maximum call depth
	GCGrowthFactor     int // next threshold = live bytes × factor
	InitialGCThreshold int // bytes before the first collection
	StressGC           bool
	TraceExecution     bool
	Output             io.Writer // destination of the print statement
	TraceOutput        io.Writer // destination of execution traces
}

func (c Config) withDefaults() Config {
	if c.FramesMax <= 0 {
		c.FramesMax = DefaultFramesMax
	}
	if c.GCGrowthFactor <= 1 {
		c.GCGrowthFactor = DefaultGCGrowthFactor
	}
	if c.InitialGCThreshold <= 0 {
		c.InitialGCThreshold = DefaultInitialGCThreshold
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	if c.TraceOutput == nil {
		c.TraceOutput = os.Stderr
	}
	return c
}

// CompileFunc compiles source into a script function allocated on h.
// It is injected with UseCompiler so the vm package does not depend on
// the compiler.
type CompileFunc func(h *Heap, source string) (*Function, error)

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// CallFrame is one active function invocation: the closure being run, its
// instruction cursor, and the index of its first stack slot. Slot 0 holds
// the callee (or the receiver, for methods).
type CallFrame struct {
	closure *Closure
	chunk   *Chunk
	ip      int
	slots   int
}

// VM is a single-threaded bytecode interpreter. One VM runs one program at
// a time; globals persist across Interpret calls.
type VM struct {
	cfg  Config
	heap *Heap

	frames     []CallFrame
	frameCount int

	stack []Value // fixed capacity; never reallocated
	top   int

	openUpvalues *Upvalue
	globals      map[*String]Value
	initString   *String

	compile CompileFunc
	out     io.Writer
	log     commonlog.Logger
	started time.Time
}

// NewVM creates a VM with its own heap and the standard natives defined.
func NewVM(cfg Config) *VM {
	cfg = cfg.withDefaults()
	v := &VM{
		cfg:     cfg,
		heap:    NewHeap(cfg),
		frames:  make([]CallFrame, cfg.FramesMax),
		stack:   make([]Value, cfg.FramesMax*SlotsPerFrame),
		globals: make(map[*String]Value),
		out:     cfg.Output,
		log:     commonlog.GetLogger("lox.vm"),
		started: time.Now(),
	}
	v.heap.AddRoots(v)
	v.initString = v.heap.CopyString("init")
	v.defineStandardNatives()
	return v
}

// Heap returns the VM's object heap.
func (v *VM) Heap() *Heap { return v.heap }

// UseCompiler sets the compiler backend used by Interpret.
func (v *VM) UseCompiler(fn CompileFunc) { v.compile = fn }

// SetOutput redirects the print statement.
func (v *VM) SetOutput(w io.Writer) { v.out = w }

// SetTrace turns per-instruction tracing on or off.
func (v *VM) SetTrace(on bool) { v.cfg.TraceExecution = on }

// MarkRoots marks everything the interpreter can reach directly.
func (v *VM) MarkRoots(h *Heap) {
	for i := 0; i < v.top; i++ {
		h.MarkValue(v.stack[i])
	}
	for i := 0; i < v.frameCount; i++ {
		h.MarkObject(v.frames[i].closure)
	}
	for u := v.openUpvalues; u != nil; u = u.next {
		h.MarkObject(u)
	}
	for name, value := range v.globals {
		h.MarkObject(name)
		h.MarkValue(value)
	}
	h.markString(v.initString)
}

// Interpret compiles and runs source.
func (v *VM) Interpret(source string) (InterpretResult, error) {
	if v.compile == nil {
		return InterpretCompileError, ErrNoCompiler
	}
	fn, err := v.compile(v.heap, source)
	if err != nil {
		return InterpretCompileError, err
	}
	return v.Execute(fn)
}

// Execute runs an already compiled script function.
func (v *VM) Execute(fn *Function) (InterpretResult, error) {
	g := v.heap.PinObj(fn)
	closure := v.heap.NewClosure(fn)
	g.Release()

	v.push(ObjValue(closure))
	if err := v.call(closure, 0); err != nil {
		return InterpretRuntimeError, err
	}
	if err := v.run(); err != nil {
		return InterpretRuntimeError, err
	}
	return InterpretOK, nil
}

// Global returns the value of a global variable.
func (v *VM) Global(name string) (Value, bool) {
	key := v.heap.LookupString(name)
	if key == nil {
		return Nil, false
	}
	val, ok := v.globals[key]
	return val, ok
}

// GlobalNames returns the names of all defined globals.
func (v *VM) GlobalNames() []string {
	names := make([]string, 0, len(v.globals))
	for k := range v.globals {
		names = append(names, k.Chars)
	}
	return names
}

// StackDepth returns the number of live value-stack slots.
func (v *VM) StackDepth() int { return v.top }

// FrameDepth returns the number of active call frames.
func (v *VM) FrameDepth() int { return v.frameCount }

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (v *VM) push(val Value) {
	if v.top >= len(v.stack) {
		panic(stackOverflow{})
	}
	v.stack[v.top] = val
	v.top++
}

func (v *VM) pop() Value {
	v.top--
	val := v.stack[v.top]
	v.stack[v.top] = Nil
	return val
}

func (v *VM) peek(distance int) Value {
	return v.stack[v.top-1-distance]
}

func (v *VM) resetStack() {
	for i := 0; i < v.top; i++ {
		v.stack[i] = Nil
	}
	v.top = 0
	v.frameCount = 0
	v.openUpvalues = nil
}
