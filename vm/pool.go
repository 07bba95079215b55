package vm

// The two pools below are the engine's only allocation arenas. Slots are
// pointers, so a slot's address never changes when the pool grows, and a
// reference is just (pool, index). Allocation scans for the lowest free
// slot before appending; reclamation happens when a slot's reference count
// falls to zero. This trades O(n) allocation for zero fragmentation, which
// is the right trade on the small object graphs this engine targets.

// ---------------------------------------------------------------------------
// Object pool
// ---------------------------------------------------------------------------

// ObjectPool is the slot-reuse arena for tables and closures.
type ObjectPool struct {
	slots []*Object
}

// Alloc returns a reference to a free slot. The slot's count is 1 and its
// sum is unassigned; the caller installs the concrete variant.
func (p *ObjectPool) Alloc() ObjRef {
	for i, s := range p.slots {
		if s.free {
			s.free = false
			s.refcount = 1
			return ObjRef{pool: p, idx: i}
		}
	}
	p.slots = append(p.slots, &Object{refcount: 1})
	return ObjRef{pool: p, idx: len(p.slots) - 1}
}

// reserve pre-creates n free slots so early allocations never grow the pool.
func (p *ObjectPool) reserve(n int) {
	for len(p.slots) < n {
		p.slots = append(p.slots, &Object{free: true})
	}
}

// Len returns the number of slots, free or not.
func (p *ObjectPool) Len() int { return len(p.slots) }

// Live returns the number of occupied slots.
func (p *ObjectPool) Live() int {
	n := 0
	for _, s := range p.slots {
		if !s.free {
			n++
		}
	}
	return n
}

// ObjRef is a stable reference into an ObjectPool. It survives pool growth;
// it is not a pointer.
type ObjRef struct {
	pool *ObjectPool
	idx  int
}

// Valid reports whether the reference points at a pool slot at all.
func (r ObjRef) Valid() bool {
	return r.pool != nil && r.idx < len(r.pool.slots)
}

// Object resolves the reference, or returns nil if invalid.
func (r ObjRef) Object() *Object {
	if !r.Valid() {
		return nil
	}
	return r.pool.slots[r.idx]
}

// Retain adds a reference and returns r unchanged.
func (r ObjRef) Retain() ObjRef {
	if o := r.Object(); o != nil {
		o.retain()
	}
	return r
}

// Release drops a reference; on zero the slot is cleared and freed.
func (r ObjRef) Release() {
	if o := r.Object(); o != nil {
		o.release()
	}
}

// Eq reports slot identity: same pool, same index.
func (r ObjRef) Eq(o ObjRef) bool {
	return r.pool == o.pool && r.idx == o.idx
}

// ---------------------------------------------------------------------------
// Upvalue pool
// ---------------------------------------------------------------------------

// UpvalPool is the slot-reuse arena for upvalues.
type UpvalPool struct {
	slots []*Upvalue
}

// Alloc returns a reference to a free upvalue slot with count 1.
func (p *UpvalPool) Alloc() UpvalRef {
	for i, s := range p.slots {
		if s.free {
			s.free = false
			s.refcount = 1
			return UpvalRef{pool: p, idx: i}
		}
	}
	p.slots = append(p.slots, &Upvalue{refcount: 1})
	return UpvalRef{pool: p, idx: len(p.slots) - 1}
}

func (p *UpvalPool) reserve(n int) {
	for len(p.slots) < n {
		p.slots = append(p.slots, &Upvalue{free: true})
	}
}

// Len returns the number of slots, free or not.
func (p *UpvalPool) Len() int { return len(p.slots) }

// Live returns the number of occupied slots.
func (p *UpvalPool) Live() int {
	n := 0
	for _, s := range p.slots {
		if !s.free {
			n++
		}
	}
	return n
}

// UpvalRef is a stable reference into an UpvalPool.
type UpvalRef struct {
	pool *UpvalPool
	idx  int
}

// Valid reports whether the reference points at a pool slot.
func (r UpvalRef) Valid() bool {
	return r.pool != nil && r.idx < len(r.pool.slots)
}

// Upvalue resolves the reference, or returns nil if invalid.
func (r UpvalRef) Upvalue() *Upvalue {
	if !r.Valid() {
		return nil
	}
	return r.pool.slots[r.idx]
}

// Retain adds a reference and returns r unchanged.
func (r UpvalRef) Retain() UpvalRef {
	if u := r.Upvalue(); u != nil {
		u.retain()
	}
	return r
}

// Release drops a reference; on zero the slot is cleared and freed.
func (r UpvalRef) Release() {
	if u := r.Upvalue(); u != nil {
		u.release()
	}
}

// Eq reports slot identity.
func (r UpvalRef) Eq(o UpvalRef) bool {
	return r.pool == o.pool && r.idx == o.idx
}
