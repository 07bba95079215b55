package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Host surface
// ---------------------------------------------------------------------------

func TestPushPop(t *testing.T) {
	vm := New()
	vm.Push(IntValue(1))
	vm.Push(StringValue("two"))
	if vm.top() != 2 {
		t.Fatalf("top = %d, want 2", vm.top())
	}
	if v := vm.Pop(); v.Str() != "two" {
		t.Errorf("Pop = %v, want \"two\"", v)
	}
	if v := vm.Pop(); v.Int() != 1 {
		t.Errorf("Pop = %v, want 1", v)
	}
}

func TestPopUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Pop on an empty stack must panic")
		}
	}()
	New().Pop()
}

func TestPopTransfersOwnership(t *testing.T) {
	vm := New()
	ref := vm.ObjectPoolRef().Alloc()
	ref.Object().SetTable()
	v := ObjectValue(ref)
	vm.Push(v) // stack retains, count 2
	v.Release()

	got := vm.Pop() // transfers the stack's reference to us
	if ref.Object().Refcount() != 1 {
		t.Fatalf("refcount after Pop = %d, want 1", ref.Object().Refcount())
	}
	got.Release()
	if !ref.Object().Free() {
		t.Error("object should be reclaimed after the host released it")
	}
}

func TestPopN(t *testing.T) {
	vm := New()
	for i := 0; i < 5; i++ {
		vm.Push(IntValue(int64(i)))
	}
	vm.PopN(3)
	if vm.top() != 2 {
		t.Errorf("top after PopN(3) = %d, want 2", vm.top())
	}
}

func TestPushGlobal(t *testing.T) {
	vm := New()
	vm.Env().Set(StringValue("answer"), IntValue(42))
	vm.PushGlobal(StringValue("answer"))
	if v := vm.Pop(); !v.IsInt() || v.Int() != 42 {
		t.Errorf("PushGlobal = %v, want 42", v)
	}
	vm.PushGlobal(StringValue("missing"))
	if v := vm.Pop(); !v.IsNil() {
		t.Errorf("missing global = %v, want nil", v)
	}
}

func TestDefineNativeFunction(t *testing.T) {
	vm := New()
	vm.DefineNativeFunction("probe", func(*VM) int { return 0 })
	v := vm.Env().Get(StringValue("probe"))
	if !v.IsObject() || !v.Obj().Object().IsFunction() {
		t.Errorf("global probe = %v, want a function", v)
	}
	// The env table holds the only reference.
	if v.Obj().Object().Refcount() != 1 {
		t.Errorf("refcount = %d, want 1", v.Obj().Object().Refcount())
	}
}

func TestArgumentOutsideCallReadsResults(t *testing.T) {
	b := NewProtoBuilder("pair", 0)
	b.SetMaxStack(2)
	ka := b.Const(StringValue("x"))
	kb := b.Const(IntValue(9))
	b.EmitABx(OpLoadK, 0, ka)
	b.EmitABx(OpLoadK, 1, kb)
	b.EmitABC(OpReturn, 0, 3, 0)

	vm := New()
	if err := vm.LoadChunk(rootChunk(b.Build())); err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	if err := vm.Call(0, 2); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v := vm.Argument(0); v.Str() != "x" {
		t.Errorf("Argument(0) = %v, want \"x\"", v)
	}
	if v := vm.Argument(1); v.Int() != 9 {
		t.Errorf("Argument(1) = %v, want 9", v)
	}
}

func TestNativeArgumentAccess(t *testing.T) {
	vm := New()
	var got []Value
	var n int
	vm.DefineNativeFunction("grab", func(m *VM) int {
		n = m.NumArguments()
		for i := 0; i < n; i++ {
			got = append(got, m.Argument(i))
		}
		return 0
	})
	vm.PushGlobal(StringValue("grab"))
	vm.Push(IntValue(1))
	vm.Push(StringValue("b"))
	if err := vm.Call(2, 0); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if n != 2 {
		t.Fatalf("NumArguments = %d, want 2", n)
	}
	if got[0].Int() != 1 || got[1].Str() != "b" {
		t.Errorf("arguments = %v, want [1 b]", got)
	}
	if vm.top() != 0 {
		t.Errorf("stack height after 0-result call = %d, want 0", vm.top())
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

func TestLoadChunkInstallsRootClosure(t *testing.T) {
	b := NewProtoBuilder("root", 0)
	b.AddUpvalue(false, 0)
	b.EmitABC(OpReturn, 0, 1, 0)

	vm := New()
	if err := vm.LoadChunk(rootChunk(b.Build())); err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	if vm.top() != 1 {
		t.Fatalf("top after load = %d, want 1", vm.top())
	}
	v := vm.reg(0)
	if !v.IsObject() || v.Obj().Object().Kind() != ObjLuaClosure {
		t.Fatalf("register 0 = %v, want the root closure", v)
	}
	// Upvalue 0 is closed over the environment.
	lcl := v.Obj().Object().LuaClosureRef()
	if len(lcl.Upvals) != 1 {
		t.Fatalf("root upvalues = %d, want 1", len(lcl.Upvals))
	}
	u := lcl.Upvals[0].Upvalue()
	if u.Open() {
		t.Error("environment upvalue should be closed")
	}
	if !vm.upvalGet(u).Equals(vm.env) {
		t.Error("upvalue 0 is not the environment table")
	}
}

func TestLoadChunkRejectedMidCall(t *testing.T) {
	b := NewProtoBuilder("noop", 0)
	b.EmitABC(OpReturn, 0, 1, 0)
	chunk := rootChunk(b.Build())

	vm := New()
	var loadErr error
	vm.DefineNativeFunction("reload", func(m *VM) int {
		loadErr = m.LoadChunk(chunk)
		return 0
	})
	vm.PushGlobal(StringValue("reload"))
	if err := vm.Call(0, 0); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !errors.Is(loadErr, ErrActiveFrame) {
		t.Errorf("LoadChunk mid-call = %v, want ErrActiveFrame", loadErr)
	}
}

func TestReloadReplacesProgram(t *testing.T) {
	build := func(n int64) *Chunk {
		b := NewProtoBuilder("n", 0)
		k := b.Const(IntValue(n))
		b.EmitABx(OpLoadK, 0, k)
		b.EmitABC(OpReturn, 0, 2, 0)
		return rootChunk(b.Build())
	}

	vm := New()
	if r := loadAndCall(t, vm, build(1)); r.Int() != 1 {
		t.Errorf("first program = %v, want 1", r)
	}
	if r := loadAndCall(t, vm, build(2)); r.Int() != 2 {
		t.Errorf("second program = %v, want 2", r)
	}
}

// TestFaultLeavesVMUsable drives a runtime error and then runs a healthy
// program on the same VM.
func TestFaultLeavesVMUsable(t *testing.T) {
	vm := New()
	vm.Push(StringValue("not a function"))
	if err := vm.Call(0, 0); err == nil {
		t.Fatal("expected a runtime error")
	}
	vm.setTop(0)

	b := NewProtoBuilder("after", 0)
	k := b.Const(IntValue(7))
	b.EmitABx(OpLoadK, 0, k)
	b.EmitABC(OpReturn, 0, 2, 0)
	if r := loadAndCall(t, vm, rootChunk(b.Build())); r.Int() != 7 {
		t.Errorf("post-fault program = %v, want 7", r)
	}
}
