package vm

import "testing"

// Whole-program tests: each runs a small hand-assembled program through the
// public host surface and checks the final result, exercising the loader,
// call engine and interpreter together.

// TestProgramArithmetic runs
//
//	return 2 + 3 * 4
func TestProgramArithmetic(t *testing.T) {
	b := NewProtoBuilder("expr", 0)
	b.SetMaxStack(2)
	k2 := b.Const(IntValue(2))
	k3 := b.Const(IntValue(3))
	k4 := b.Const(IntValue(4))
	b.EmitABC(OpMul, 0, RK(k3), RK(k4))
	b.EmitABC(OpAdd, 0, RK(k2), 0)
	b.EmitABC(OpReturn, 0, 2, 0)

	vm := New()
	r := loadAndCall(t, vm, rootChunk(b.Build()))
	if !r.IsInt() || r.Int() != 14 {
		t.Errorf("2 + 3 * 4 = %v, want 14", r)
	}
}

// TestProgramPresetGlobal has the host preset a global before running
//
//	return x + 1
func TestProgramPresetGlobal(t *testing.T) {
	vm := New()
	vm.Env().Set(StringValue("x"), IntValue(7))

	b := NewProtoBuilder("readx", 0)
	b.SetMaxStack(2)
	b.AddUpvalue(false, 0)
	kx := b.Const(StringValue("x"))
	k1 := b.Const(IntValue(1))
	b.EmitABC(OpGetTabUp, 0, 0, RK(kx))
	b.EmitABC(OpAdd, 0, 0, RK(k1))
	b.EmitABC(OpReturn, 0, 2, 0)

	r := loadAndCall(t, vm, rootChunk(b.Build()))
	if !r.IsInt() || r.Int() != 8 {
		t.Errorf("x + 1 = %v, want 8", r)
	}
}

// TestProgramClosureCounter runs
//
//	function mk() local i = 0; return function() i = i + 1; return i end end
//	local f = mk(); f(); f(); return f()
func TestProgramClosureCounter(t *testing.T) {
	inner := NewProtoBuilder("inner", 0)
	inner.SetMaxStack(1)
	inner.AddUpvalue(true, 0) // i, captured from mk's frame
	k1 := inner.Const(IntValue(1))
	inner.EmitABC(OpGetUpval, 0, 0, 0)
	inner.EmitABC(OpAdd, 0, 0, RK(k1))
	inner.EmitABC(OpSetUpval, 0, 0, 0)
	inner.EmitABC(OpReturn, 0, 2, 0)

	mk := NewProtoBuilder("mk", 0)
	mk.SetMaxStack(2)
	k0 := mk.Const(IntValue(0))
	innerIdx := mk.AddProto(inner.Build())
	mk.EmitABx(OpLoadK, 0, k0) // i = 0
	mk.EmitABx(OpClosure, 1, innerIdx)
	mk.EmitABC(OpReturn, 1, 2, 0) // closes i on the way out

	root := NewProtoBuilder("main", 0)
	root.SetMaxStack(2)
	mkIdx := root.AddProto(mk.Build())
	root.EmitABx(OpClosure, 0, mkIdx)
	root.EmitABC(OpCall, 0, 1, 2) // f = mk()
	root.EmitABC(OpMove, 1, 0, 0)
	root.EmitABC(OpCall, 1, 1, 1) // f()
	root.EmitABC(OpMove, 1, 0, 0)
	root.EmitABC(OpCall, 1, 1, 1) // f()
	root.EmitABC(OpMove, 1, 0, 0)
	root.EmitABC(OpCall, 1, 1, 2) // return f()
	root.EmitABC(OpReturn, 1, 2, 0)

	vm := New()
	r := loadAndCall(t, vm, rootChunk(root.Build()))
	if !r.IsInt() || r.Int() != 3 {
		t.Errorf("third f() = %v, want 3", r)
	}
}

// TestProgramForSum runs
//
//	local s = 0
//	for i = 1, 5 do s = s + i end
//	return s
func TestProgramForSum(t *testing.T) {
	b := NewProtoBuilder("forsum", 0)
	b.SetMaxStack(5)
	k0 := b.Const(IntValue(0))
	k1 := b.Const(IntValue(1))
	k5 := b.Const(IntValue(5))
	b.EmitABx(OpLoadK, 0, k0) // s
	b.EmitABx(OpLoadK, 1, k1) // init
	b.EmitABx(OpLoadK, 2, k5) // limit
	b.EmitABx(OpLoadK, 3, k1) // step
	b.EmitAsBx(OpForPrep, 1, 1)
	b.EmitABC(OpAdd, 0, 0, 4) // s = s + i
	b.EmitAsBx(OpForLoop, 1, -2)
	b.EmitABC(OpReturn, 0, 2, 0)

	vm := New()
	r := loadAndCall(t, vm, rootChunk(b.Build()))
	if !r.IsInt() || r.Int() != 15 {
		t.Errorf("sum 1..5 = %v, want 15", r)
	}
}
