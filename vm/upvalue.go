package vm

// captureUpvalue returns the open upvalue for stack slot, creating one if
// none exists. The open list stays sorted by slot, highest first.
func (v *VM) captureUpvalue(slot int) *Upvalue {
	var prev *Upvalue
	u := v.openUpvalues
	for u != nil && u.slot > slot {
		prev = u
		u = u.next
	}
	if u != nil && u.slot == slot {
		return u
	}

	created := v.heap.NewUpvalue(&v.stack[slot], slot)
	created.next = u
	if prev == nil {
		v.openUpvalues = created
	} else {
		prev.next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above slot.
func (v *VM) closeUpvalues(slot int) {
	for v.openUpvalues != nil && v.openUpvalues.slot >= slot {
		u := v.openUpvalues
		u.close()
		v.openUpvalues = u.next
		u.next = nil
	}
}

// OpenUpvalueSlots lists the slots of all open upvalues in list order.
func (v *VM) OpenUpvalueSlots() []int {
	var slots []int
	for u := v.openUpvalues; u != nil; u = u.next {
		slots = append(slots, u.slot)
	}
	return slots
}
