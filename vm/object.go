package vm

// ObjectKind identifies the variant stored in an object slot.
type ObjectKind uint8

const (
	ObjUnassigned ObjectKind = iota
	ObjTable
	ObjLuaClosure
	ObjNativeClosure
)

// NativeFn is the host function signature. The callable reads its arguments
// through VM.Argument, pushes its results with VM.Push and returns how many
// it pushed. It may re-enter the VM through Call.
type NativeFn func(*VM) int

// LuaClosure pairs a prototype with its resolved upvalue references, in
// prototype order.
type LuaClosure struct {
	Proto  *Prototype
	Upvals []UpvalRef
}

// Object is one slot of the object pool: a tagged sum over table, Lua
// closure and native closure, plus the refcount bookkeeping. Objects are
// created only through ObjectPool.Alloc and die when their count hits zero.
type Object struct {
	refcount int
	free     bool

	kind   ObjectKind
	table  Table
	lcl    LuaClosure
	native NativeFn
}

// Kind returns the variant tag.
func (o *Object) Kind() ObjectKind { return o.kind }

// IsTable reports whether the slot holds a table.
func (o *Object) IsTable() bool { return o.kind == ObjTable }

// IsFunction reports whether the slot holds a closure of either flavor.
func (o *Object) IsFunction() bool {
	return o.kind == ObjLuaClosure || o.kind == ObjNativeClosure
}

// Refcount returns the current reference count.
func (o *Object) Refcount() int { return o.refcount }

// Free reports whether the slot is reusable.
func (o *Object) Free() bool { return o.free }

// SetTable installs an empty table in the slot.
func (o *Object) SetTable() *Table {
	o.clear()
	o.kind = ObjTable
	return &o.table
}

// SetLuaClosure installs a Lua closure for proto. Upvalue references are
// appended by the caller during resolution.
func (o *Object) SetLuaClosure(proto *Prototype) *LuaClosure {
	o.clear()
	o.kind = ObjLuaClosure
	o.lcl = LuaClosure{Proto: proto}
	return &o.lcl
}

// SetNativeClosure installs a host callable in the slot.
func (o *Object) SetNativeClosure(f NativeFn) {
	o.clear()
	o.kind = ObjNativeClosure
	o.native = f
}

// Table returns the table variant. Panics on a non-table slot.
func (o *Object) Table() *Table {
	if o.kind != ObjTable {
		panic("Object.Table: not a table")
	}
	return &o.table
}

// LuaClosureRef returns the Lua closure variant. Panics otherwise.
func (o *Object) LuaClosureRef() *LuaClosure {
	if o.kind != ObjLuaClosure {
		panic("Object.LuaClosureRef: not a Lua closure")
	}
	return &o.lcl
}

func (o *Object) retain() {
	o.refcount++
	o.free = false
}

func (o *Object) release() {
	o.refcount--
	if o.refcount == 0 {
		o.free = true
		o.clear()
	}
}

// clear resets the sum to unassigned, dropping every reference the variant
// held. Dropping may cascade into further slot reclamation.
func (o *Object) clear() {
	switch o.kind {
	case ObjTable:
		for i := range o.table.entries {
			o.table.entries[i].key.Release()
			o.table.entries[i].value.Release()
		}
		o.table.entries = nil
	case ObjLuaClosure:
		for _, u := range o.lcl.Upvals {
			u.Release()
		}
		o.lcl = LuaClosure{}
	case ObjNativeClosure:
		o.native = nil
	}
	o.kind = ObjUnassigned
}
