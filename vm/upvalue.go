package vm

// Upvalue is one slot of the upvalue pool. An upvalue is open while the
// register it captured is still live, holding only that register's stack
// index; close promotes it to own the value. The transition happens exactly
// once, never in reverse.
type Upvalue struct {
	refcount int
	free     bool

	open     bool
	stackIdx int
	val      Value
}

// Open reports whether the upvalue still refers to a live register.
func (u *Upvalue) Open() bool { return u.open }

// StackIndex returns the captured register index. Only meaningful while open.
func (u *Upvalue) StackIndex() int { return u.stackIdx }

// Refcount returns the current reference count.
func (u *Upvalue) Refcount() int { return u.refcount }

// Free reports whether the slot is reusable.
func (u *Upvalue) Free() bool { return u.free }

// setOpen installs the open variant.
func (u *Upvalue) setOpen(stackIdx int) {
	u.clear()
	u.open = true
	u.stackIdx = stackIdx
}

// close copies v into the slot and promotes it to closed.
func (u *Upvalue) close(v Value) {
	u.open = false
	u.stackIdx = 0
	u.val = v.Retain()
}

func (u *Upvalue) retain() {
	u.refcount++
	u.free = false
}

func (u *Upvalue) release() {
	u.refcount--
	if u.refcount == 0 {
		u.free = true
		u.clear()
	}
}

func (u *Upvalue) clear() {
	if !u.open {
		u.val.Release()
	}
	u.open = false
	u.stackIdx = 0
	u.val = NilValue
}
