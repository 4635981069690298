package vm

import (
	"fmt"
	"strings"

	"github.com/emirpasic/gods/stacks/arraystack"
	"github.com/tliron/commonlog"
)

// RootSet is implemented by anything that holds heap references the
// collector cannot otherwise see: the VM itself, and the compiler while it
// is building functions that are not yet reachable from any VM structure.
type RootSet interface {
	MarkRoots(h *Heap)
}

// Heap owns every Lox object. Objects are created only through the Heap's
// constructors, linked into a single intrusive list, and released only by
// the sweep phase of Collect.
type Heap struct {
	objects Obj
	strings map[uint32][]*String // intern table, weak

	bytesAllocated int
	nextGC         int
	growthFactor   int
	stress         bool
	collecting     bool

	gray   *arraystack.Stack
	roots  []RootSet
	pinned []Value

	stats GCStats
	log   commonlog.Logger
}

// NewHeap creates an empty heap using cfg's collector settings.
func NewHeap(cfg Config) *Heap {
	cfg = cfg.withDefaults()
	return &Heap{
		strings:      make(map[uint32][]*String),
		nextGC:       cfg.InitialGCThreshold,
		growthFactor: cfg.GCGrowthFactor,
		stress:       cfg.StressGC,
		gray:         arraystack.New(),
		log:          commonlog.GetLogger("lox.gc"),
	}
}

// BytesAllocated returns the number of bytes currently accounted to live
// or not-yet-swept objects.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// NextGC returns the allocation threshold for the next collection.
func (h *Heap) NextGC() int { return h.nextGC }

// SetStress turns stress mode on or off. In stress mode every allocation
// collects.
func (h *Heap) SetStress(on bool) { h.stress = on }

// ObjectCount walks the object list and returns its length.
func (h *Heap) ObjectCount() int {
	n := 0
	for o := h.objects; o != nil; o = o.header().next {
		n++
	}
	return n
}

// AddRoots registers a root set. Root sets are consulted on every cycle
// until removed.
func (h *Heap) AddRoots(r RootSet) {
	h.roots = append(h.roots, r)
}

// RemoveRoots unregisters a root set.
func (h *Heap) RemoveRoots(r RootSet) {
	for i := len(h.roots) - 1; i >= 0; i-- {
		if h.roots[i] == r {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Temporary roots
// ---------------------------------------------------------------------------

// RootGuard pins a value against collection until Release is called.
// Guards nest and must be released in reverse order of acquisition.
type RootGuard struct {
	h     *Heap
	index int
}

// Pin protects v from collection until the returned guard is released.
//
//	g := h.Pin(ObjValue(name))
//	defer g.Release()
func (h *Heap) Pin(v Value) RootGuard {
	h.pinned = append(h.pinned, v)
	return RootGuard{h: h, index: len(h.pinned) - 1}
}

// PinObj is Pin for an object reference.
func (h *Heap) PinObj(o Obj) RootGuard {
	return h.Pin(ObjValue(o))
}

// Release unpins the guarded value.
func (g RootGuard) Release() {
	if g.h == nil {
		return
	}
	if len(g.h.pinned) != g.index+1 {
		panic(fmt.Sprintf("vm: root guard %d released out of order (%d pinned)", g.index, len(g.h.pinned)))
	}
	g.h.pinned[g.index] = Nil
	g.h.pinned = g.h.pinned[:g.index]
}

// PinnedCount returns the number of currently pinned temporaries.
func (h *Heap) PinnedCount() int { return len(h.pinned) }

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// track is the single allocation entry point. The new object is linked
// first and pinned while a triggered collection runs, so a collection can
// never free the object being allocated.
func (h *Heap) track(o Obj, size int) {
	hd := o.header()
	hd.size = size
	hd.next = h.objects
	h.objects = o
	h.bytesAllocated += size

	if h.stress || h.bytesAllocated > h.nextGC {
		g := h.PinObj(o)
		h.Collect()
		g.Release()
	}
}

// CopyString returns the interned string with the given content, copying
// chars so the result does not retain the caller's backing memory.
func (h *Heap) CopyString(chars string) *String {
	hash := hashString(chars)
	if s := h.findString(chars, hash); s != nil {
		return s
	}
	return h.allocateString(strings.Clone(chars), hash)
}

// TakeString interns the contents of b without copying them. If an equal
// string already exists, that instance is returned instead.
func (h *Heap) TakeString(b *strings.Builder) *String {
	chars := b.String()
	hash := hashString(chars)
	if s := h.findString(chars, hash); s != nil {
		return s
	}
	return h.allocateString(chars, hash)
}

// LookupString returns the interned string with the given content, or nil.
func (h *Heap) LookupString(chars string) *String {
	return h.findString(chars, hashString(chars))
}

func (h *Heap) allocateString(chars string, hash uint32) *String {
	s := &String{Chars: chars, Hash: hash}
	h.track(s, sizeString+len(chars))
	h.strings[hash] = append(h.strings[hash], s)
	return s
}

func (h *Heap) findString(chars string, hash uint32) *String {
	for _, s := range h.strings[hash] {
		if s.Chars == chars {
			return s
		}
	}
	return nil
}

// NewFunction allocates an empty function with a fresh chunk.
func (h *Heap) NewFunction() *Function {
	f := &Function{Chunk: NewChunk()}
	h.track(f, sizeFunction)
	return f
}

// NewNative allocates a native function object.
func (h *Heap) NewNative(name string, arity int, fn NativeFn) *Native {
	n := &Native{Name: name, Arity: arity, Fn: fn}
	h.track(n, sizeNative)
	return n
}

// NewClosure allocates a closure over fn with empty upvalue slots.
// The caller must keep fn reachable.
func (h *Heap) NewClosure(fn *Function) *Closure {
	c := &Closure{Function: fn, Upvalues: make([]*Upvalue, fn.UpvalueCount)}
	h.track(c, sizeClosure+8*fn.UpvalueCount)
	return c
}

// NewUpvalue allocates an open upvalue aliasing the stack slot at index.
func (h *Heap) NewUpvalue(slot *Value, index int) *Upvalue {
	u := &Upvalue{location: slot, slot: index}
	h.track(u, sizeUpvalue)
	return u
}

// NewClosedUpvalue allocates an upvalue that already owns v.
func (h *Heap) NewClosedUpvalue(v Value) *Upvalue {
	u := &Upvalue{closed: v, slot: -1}
	u.location = &u.closed
	h.track(u, sizeUpvalue)
	return u
}

// NewClass allocates a class with an empty method table.
func (h *Heap) NewClass(name *String) *Class {
	c := &Class{Name: name, Methods: make(map[*String]*Closure)}
	h.track(c, sizeClass)
	return c
}

// NewInstance allocates an instance of class with no fields.
func (h *Heap) NewInstance(class *Class) *Instance {
	i := &Instance{Class: class, Fields: make(map[*String]Value)}
	h.track(i, sizeInstance)
	return i
}

// NewBoundMethod allocates a method bound to receiver.
func (h *Heap) NewBoundMethod(receiver Value, method *Closure) *BoundMethod {
	b := &BoundMethod{Receiver: receiver, Method: method}
	h.track(b, sizeBoundMethod)
	return b
}
