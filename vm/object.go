package vm

import (
	"fmt"
	"hash/fnv"
)

// ObjType tags the variant of a heap object.
type ObjType uint8

const (
	ObjTypeString ObjType = iota
	ObjTypeFunction
	ObjTypeNative
	ObjTypeClosure
	ObjTypeUpvalue
	ObjTypeClass
	ObjTypeInstance
	ObjTypeBoundMethod
)

var objTypeNames = [...]string{
	ObjTypeString:      "string",
	ObjTypeFunction:    "function",
	ObjTypeNative:      "native",
	ObjTypeClosure:     "closure",
	ObjTypeUpvalue:     "upvalue",
	ObjTypeClass:       "class",
	ObjTypeInstance:    "instance",
	ObjTypeBoundMethod: "bound method",
}

// String returns the variant name.
func (t ObjType) String() string {
	if int(t) < len(objTypeNames) {
		return objTypeNames[t]
	}
	return fmt.Sprintf("ObjType(%d)", t)
}

// Obj is a heap object owned by a Heap. The set of implementations is closed:
// only the types in this file embed objHeader.
type Obj interface {
	Type() ObjType
	String() string
	header() *objHeader
}

// objHeader is the bookkeeping every heap object carries: the mark bit,
// the intrusive link into the heap's object list, and the byte size that
// was accounted when the object was allocated.
type objHeader struct {
	marked bool
	freed  bool
	size   int
	next   Obj
}

func (h *objHeader) header() *objHeader { return h }

// IsFreed reports whether the collector has swept o.
func IsFreed(o Obj) bool { return o.header().freed }

// Approximate per-variant sizes used for allocation accounting.
const (
	sizeHeader      = 32
	sizeString      = sizeHeader + 24
	sizeFunction    = sizeHeader + 80
	sizeNative      = sizeHeader + 40
	sizeClosure     = sizeHeader + 32
	sizeUpvalue     = sizeHeader + 48
	sizeClass       = sizeHeader + 24
	sizeInstance    = sizeHeader + 24
	sizeBoundMethod = sizeHeader + 32
	sizeValue       = 32
)

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

// String is an immutable, interned byte sequence.
type String struct {
	objHeader
	Chars string
	Hash  uint32
}

func (s *String) Type() ObjType  { return ObjTypeString }
func (s *String) String() string { return s.Chars }

// hashString computes the FNV-1a hash used by the intern table.
func hashString(chars string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(chars))
	return h.Sum32()
}

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

// Function is a compiled, not yet closed-over, function body.
type Function struct {
	objHeader
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
	Name         *String // nil for the top-level script
}

func (f *Function) Type() ObjType { return ObjTypeFunction }

func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return "<fn " + f.Name.Chars + ">"
}

// DisplayName is the name used in stack traces.
func (f *Function) DisplayName() string {
	if f.Name == nil {
		return "script"
	}
	return f.Name.Chars + "()"
}

// ---------------------------------------------------------------------------
// Native
// ---------------------------------------------------------------------------

// NativeFn is a host function callable from Lox. A returned error becomes a
// runtime error at the call site.
type NativeFn func(args []Value) (Value, error)

// Native wraps a NativeFn. Arity -1 accepts any number of arguments.
type Native struct {
	objHeader
	Name  string
	Arity int
	Fn    NativeFn
}

func (n *Native) Type() ObjType  { return ObjTypeNative }
func (n *Native) String() string { return "<native fn>" }

// ---------------------------------------------------------------------------
// Closure and Upvalue
// ---------------------------------------------------------------------------

// Closure pairs a Function with the upvalues it captured.
type Closure struct {
	objHeader
	Function *Function
	Upvalues []*Upvalue
}

func (c *Closure) Type() ObjType  { return ObjTypeClosure }
func (c *Closure) String() string { return c.Function.String() }

// Upvalue is a captured variable. While open, location points at a live
// stack slot (recorded in slot); once closed it points at closed.
type Upvalue struct {
	objHeader
	location *Value
	slot     int
	closed   Value
	next     *Upvalue // open list link, sorted by slot descending
}

func (u *Upvalue) Type() ObjType  { return ObjTypeUpvalue }
func (u *Upvalue) String() string { return "upvalue" }

// IsOpen reports whether the upvalue still aliases a stack slot.
func (u *Upvalue) IsOpen() bool { return u.location != &u.closed }

// Get reads the captured variable.
func (u *Upvalue) Get() Value { return *u.location }

// Set writes the captured variable.
func (u *Upvalue) Set(v Value) { *u.location = v }

// close copies the slot's value into the upvalue and redirects to it.
func (u *Upvalue) close() {
	u.closed = *u.location
	u.location = &u.closed
	u.slot = -1
}

// ---------------------------------------------------------------------------
// Class, Instance, BoundMethod
// ---------------------------------------------------------------------------

// Class is a Lox class with its method table.
type Class struct {
	objHeader
	Name    *String
	Methods map[*String]*Closure
}

func (c *Class) Type() ObjType  { return ObjTypeClass }
func (c *Class) String() string { return c.Name.Chars }

// Instance is an object created by calling a class.
type Instance struct {
	objHeader
	Class  *Class
	Fields map[*String]Value
}

func (i *Instance) Type() ObjType  { return ObjTypeInstance }
func (i *Instance) String() string { return i.Class.Name.Chars + " instance" }

// BoundMethod is a method closure captured together with its receiver.
type BoundMethod struct {
	objHeader
	Receiver Value
	Method   *Closure
}

func (b *BoundMethod) Type() ObjType  { return ObjTypeBoundMethod }
func (b *BoundMethod) String() string { return b.Method.Function.String() }
