package vm

import "testing"

// ---------------------------------------------------------------------------
// Object pool
// ---------------------------------------------------------------------------

func TestObjectPoolAllocAndRelease(t *testing.T) {
	var pool ObjectPool
	ref := pool.Alloc()
	o := ref.Object()
	if o == nil {
		t.Fatal("Alloc returned an unresolvable reference")
	}
	if o.Refcount() != 1 {
		t.Errorf("fresh refcount = %d, want 1", o.Refcount())
	}
	if pool.Live() != 1 {
		t.Errorf("Live = %d, want 1", pool.Live())
	}
	ref.Release()
	if !o.Free() {
		t.Error("slot not freed after final release")
	}
	if pool.Live() != 0 {
		t.Errorf("Live after release = %d, want 0", pool.Live())
	}
}

func TestObjectPoolReusesLowestFreeSlot(t *testing.T) {
	var pool ObjectPool
	a := pool.Alloc()
	b := pool.Alloc()
	c := pool.Alloc()
	b.Release()
	if pool.Len() != 3 {
		t.Fatalf("Len = %d, want 3", pool.Len())
	}
	d := pool.Alloc()
	if !d.Eq(b) {
		t.Error("allocation did not reuse the freed slot")
	}
	if pool.Len() != 3 {
		t.Errorf("Len after reuse = %d, want 3", pool.Len())
	}
	a.Release()
	c.Release()
	d.Release()
}

// TestObjectPoolStableHandles verifies that a reference taken before the
// pool grows still resolves to the same slot after growth.
func TestObjectPoolStableHandles(t *testing.T) {
	var pool ObjectPool
	ref := pool.Alloc()
	before := ref.Object()
	before.SetTable().Set(StringValue("k"), IntValue(1))

	var later []ObjRef
	for i := 0; i < 100; i++ {
		later = append(later, pool.Alloc())
	}
	after := ref.Object()
	if before != after {
		t.Error("slot pointer changed when the pool grew")
	}
	if v := after.Table().Get(StringValue("k")); !v.IsInt() || v.Int() != 1 {
		t.Errorf("table content lost across growth: %v", v)
	}
	for _, r := range later {
		r.Release()
	}
	ref.Release()
}

func TestObjectPoolRetainKeepsSlotAlive(t *testing.T) {
	var pool ObjectPool
	ref := pool.Alloc()
	ref.Object().SetTable()
	extra := ref.Retain()
	ref.Release()
	if ref.Object().Free() {
		t.Fatal("slot freed while a reference remained")
	}
	extra.Release()
	if !ref.Object().Free() {
		t.Error("slot not freed after the last reference dropped")
	}
}

// TestReleaseCascades builds outer = {inner = {}} and drops the only outer
// reference; both slots must come back.
func TestReleaseCascades(t *testing.T) {
	var pool ObjectPool
	outer := pool.Alloc()
	outerTable := outer.Object().SetTable()
	inner := pool.Alloc()
	inner.Object().SetTable()

	innerVal := ObjectValue(inner)
	outerTable.Set(StringValue("inner"), innerVal)
	innerVal.Release() // table holds the only reference now

	if pool.Live() != 2 {
		t.Fatalf("Live = %d, want 2", pool.Live())
	}
	outer.Release()
	if pool.Live() != 0 {
		t.Errorf("Live after cascade = %d, want 0", pool.Live())
	}
}

func TestObjectClearDropsVariant(t *testing.T) {
	var pool ObjectPool
	ref := pool.Alloc()
	o := ref.Object()
	o.SetTable()
	if !o.IsTable() {
		t.Fatal("SetTable did not install a table")
	}
	o.SetNativeClosure(func(*VM) int { return 0 })
	if o.IsTable() || !o.IsFunction() {
		t.Error("reassigning the variant left stale table state")
	}
	ref.Release()
	if o.Kind() != ObjUnassigned {
		t.Errorf("kind after reclaim = %v, want unassigned", o.Kind())
	}
}

// ---------------------------------------------------------------------------
// Upvalue pool
// ---------------------------------------------------------------------------

func TestUpvalPoolReuse(t *testing.T) {
	var pool UpvalPool
	a := pool.Alloc()
	b := pool.Alloc()
	a.Release()
	c := pool.Alloc()
	if !c.Eq(a) {
		t.Error("upvalue allocation did not reuse the freed slot")
	}
	b.Release()
	c.Release()
	if pool.Live() != 0 {
		t.Errorf("Live = %d, want 0", pool.Live())
	}
}

func TestUpvalReleaseDropsHeldObject(t *testing.T) {
	var objs ObjectPool
	var ups UpvalPool

	oref := objs.Alloc()
	oref.Object().SetTable()

	uref := ups.Alloc()
	uref.Upvalue().close(ObjectValue(oref))
	// The upvalue retained its own reference; drop ours.
	// (close copies, so the original is still owned here.)
	if oref.Object().Refcount() != 2 {
		t.Fatalf("refcount = %d, want 2", oref.Object().Refcount())
	}
	oref.Release()
	if oref.Object().Free() {
		t.Fatal("object freed while the upvalue held it")
	}
	uref.Release()
	if !oref.Object().Free() {
		t.Error("object not freed when the upvalue died")
	}
}

// ---------------------------------------------------------------------------
// Pool pre-sizing through Limits
// ---------------------------------------------------------------------------

func TestLimitsPreSizePools(t *testing.T) {
	vm := NewWithLimits(Limits{Objects: 8, Upvalues: 4})
	if got := vm.ObjectPoolRef().Len(); got != 8 {
		t.Errorf("object pool Len = %d, want 8", got)
	}
	if got := vm.UpvalPoolRef().Len(); got != 4 {
		t.Errorf("upvalue pool Len = %d, want 4", got)
	}
	// Only the environment table is live.
	if got := vm.ObjectPoolRef().Live(); got != 1 {
		t.Errorf("object pool Live = %d, want 1", got)
	}
}

// TestPoolBalanceAfterRun loads and runs a table-heavy program and checks
// that nothing beyond the environment and the root closure stays live.
func TestPoolBalanceAfterRun(t *testing.T) {
	b := NewProtoBuilder("churn", 0)
	b.SetMaxStack(3)
	k := b.Const(IntValue(1))
	// Three throwaway tables.
	b.EmitABC(OpNewTable, 0, 0, 0)
	b.EmitABC(OpNewTable, 1, 0, 0)
	b.EmitABC(OpNewTable, 2, 0, 0)
	b.EmitABC(OpSetTable, 0, RK(k), 1) // keep one nested
	b.EmitABC(OpReturn, 0, 1, 0)

	vm := New()
	if err := vm.LoadChunk(rootChunk(b.Build())); err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	if err := vm.Call(0, 0); err != nil {
		t.Fatalf("Call: %v", err)
	}
	// env only: the root closure was consumed by the call and every table
	// died with its registers.
	if got := vm.ObjectPoolRef().Live(); got != 1 {
		t.Errorf("live objects after run = %d, want 1 (env)", got)
	}
}
