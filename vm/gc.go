package vm

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Collector: stop-the-world tri-color mark-sweep
// ---------------------------------------------------------------------------

// GCStats holds cumulative collector statistics.
type GCStats struct {
	Cycles         int
	ObjectsFreed   int
	BytesFreed     int
	BytesAllocated int
	NextGC         int
	LastDuration   time.Duration
	TotalDuration  time.Duration
	LastCollected  time.Time
}

// Stats returns a snapshot of the collector statistics.
func (h *Heap) Stats() GCStats {
	s := h.stats
	s.BytesAllocated = h.bytesAllocated
	s.NextGC = h.nextGC
	return s
}

// Collect runs a full collection: mark roots, trace the gray worklist,
// drop unreached strings from the intern table, sweep the object list.
// Collections do not nest; a call made while collecting is ignored.
func (h *Heap) Collect() {
	if h.collecting {
		return
	}
	h.collecting = true
	defer func() { h.collecting = false }()

	start := time.Now()
	before := h.bytesAllocated
	h.log.Debugf("gc begin: %d bytes allocated", before)

	h.markRoots()
	h.traceReferences()
	h.sweepStrings()
	freed := h.sweep()

	h.nextGC = h.bytesAllocated * h.growthFactor

	elapsed := time.Since(start)
	h.stats.Cycles++
	h.stats.ObjectsFreed += freed
	h.stats.BytesFreed += before - h.bytesAllocated
	h.stats.LastDuration = elapsed
	h.stats.TotalDuration += elapsed
	h.stats.LastCollected = start

	h.log.Debugf("gc end: collected %d bytes (from %d to %d), %d objects, next at %d",
		before-h.bytesAllocated, before, h.bytesAllocated, freed, h.nextGC)
}

func (h *Heap) markRoots() {
	for _, v := range h.pinned {
		h.MarkValue(v)
	}
	for _, r := range h.roots {
		r.MarkRoots(h)
	}
}

// MarkValue marks the object v references, if any.
func (h *Heap) MarkValue(v Value) {
	if v.typ == ValObj {
		h.MarkObject(v.obj)
	}
}

// MarkObject marks o gray and queues it for tracing. Already-marked objects
// are skipped, which terminates cycles.
func (h *Heap) MarkObject(o Obj) {
	if o == nil {
		return
	}
	hd := o.header()
	if hd.marked {
		return
	}
	hd.marked = true
	h.gray.Push(o)
}

func (h *Heap) markString(s *String) {
	if s != nil {
		h.MarkObject(s)
	}
}

func (h *Heap) traceReferences() {
	for !h.gray.Empty() {
		top, _ := h.gray.Pop()
		h.blacken(top.(Obj))
	}
}

// blacken marks everything o references.
func (h *Heap) blacken(o Obj) {
	switch o := o.(type) {
	case *String, *Native:
		// no outgoing references
	case *Upvalue:
		h.MarkValue(o.closed)
	case *Function:
		h.markString(o.Name)
		for _, k := range o.Chunk.Constants {
			h.MarkValue(k)
		}
	case *Closure:
		h.MarkObject(o.Function)
		for _, u := range o.Upvalues {
			if u != nil {
				h.MarkObject(u)
			}
		}
	case *Class:
		h.markString(o.Name)
		for name, method := range o.Methods {
			h.MarkObject(name)
			h.MarkObject(method)
		}
	case *Instance:
		h.MarkObject(o.Class)
		for name, v := range o.Fields {
			h.MarkObject(name)
			h.MarkValue(v)
		}
	case *BoundMethod:
		h.MarkValue(o.Receiver)
		h.MarkObject(o.Method)
	default:
		panic(fmt.Sprintf("vm: blacken: unhandled object type %T", o))
	}
}

// sweepStrings removes unmarked strings from the intern table so it never
// holds a swept string.
func (h *Heap) sweepStrings() {
	for hash, bucket := range h.strings {
		kept := bucket[:0]
		for _, s := range bucket {
			if s.marked {
				kept = append(kept, s)
			}
		}
		for i := len(kept); i < len(bucket); i++ {
			bucket[i] = nil
		}
		if len(kept) == 0 {
			delete(h.strings, hash)
		} else {
			h.strings[hash] = kept
		}
	}
}

// sweep unlinks and frees every unmarked object and clears the mark bit of
// survivors. Returns the number of objects freed.
func (h *Heap) sweep() int {
	freed := 0
	var prev Obj
	o := h.objects
	for o != nil {
		hd := o.header()
		if hd.marked {
			hd.marked = false
			prev = o
			o = hd.next
			continue
		}
		unreached := o
		o = hd.next
		if prev == nil {
			h.objects = o
		} else {
			prev.header().next = o
		}
		h.free(unreached)
		freed++
	}
	return freed
}

// free releases an object's owned substructures and invalidates it.
func (h *Heap) free(o Obj) {
	hd := o.header()
	h.bytesAllocated -= hd.size
	hd.freed = true
	hd.next = nil

	switch o := o.(type) {
	case *String, *Native, *BoundMethod:
	case *Upvalue:
		o.closed = Nil
		o.location = &o.closed
	case *Function:
		o.Chunk = nil
	case *Closure:
		o.Upvalues = nil
	case *Class:
		o.Methods = nil
	case *Instance:
		o.Fields = nil
	default:
		panic(fmt.Sprintf("vm: free: unhandled object type %T", o))
	}
}

// grow accounts n further bytes owned by o, such as a new table entry.
// It never triggers a collection.
func (h *Heap) grow(o Obj, n int) {
	o.header().size += n
	h.bytesAllocated += n
}
