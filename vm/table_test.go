package vm

import "testing"

func TestTableGetMiss(t *testing.T) {
	var tbl Table
	if v := tbl.Get(StringValue("absent")); !v.IsNil() {
		t.Errorf("miss = %v, want nil", v)
	}
}

func TestTableSetGet(t *testing.T) {
	var tbl Table
	tbl.Set(StringValue("a"), IntValue(1))
	tbl.Set(IntValue(2), StringValue("two"))
	tbl.Set(BoolValue(true), FloatValue(0.5))

	if v := tbl.Get(StringValue("a")); !v.IsInt() || v.Int() != 1 {
		t.Errorf("t.a = %v, want 1", v)
	}
	if v := tbl.Get(IntValue(2)); !v.IsString() || v.Str() != "two" {
		t.Errorf("t[2] = %v, want \"two\"", v)
	}
	if v := tbl.Get(BoolValue(true)); !v.IsFloat() || v.Float() != 0.5 {
		t.Errorf("t[true] = %v, want 0.5", v)
	}
	if tbl.Len() != 3 {
		t.Errorf("Len = %d, want 3", tbl.Len())
	}
}

func TestTableOverwriteKeepsOneEntry(t *testing.T) {
	var tbl Table
	tbl.Set(StringValue("k"), IntValue(1))
	tbl.Set(StringValue("k"), IntValue(2))
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}
	if v := tbl.Get(StringValue("k")); v.Int() != 2 {
		t.Errorf("t.k = %v, want 2", v)
	}
}

// Integer and float keys that are numerically equal address the same entry,
// matching value equality in the common numeric domain.
func TestTableNumericKeyUnification(t *testing.T) {
	var tbl Table
	tbl.Set(IntValue(1), StringValue("int"))
	tbl.Set(FloatValue(1.0), StringValue("float"))
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}
	if v := tbl.Get(IntValue(1)); v.Str() != "float" {
		t.Errorf("t[1] = %v, want \"float\"", v)
	}
}

func TestTableNilAssignmentOverwrites(t *testing.T) {
	var tbl Table
	tbl.Set(StringValue("k"), IntValue(1))
	tbl.Set(StringValue("k"), NilValue)
	if v := tbl.Get(StringValue("k")); !v.IsNil() {
		t.Errorf("t.k = %v, want nil", v)
	}
	// The entry is overwritten, never removed.
	if tbl.Len() != 1 {
		t.Errorf("Len = %d, want 1", tbl.Len())
	}
}

func TestTableInsertionOrder(t *testing.T) {
	var tbl Table
	keys := []string{"c", "a", "b"}
	for i, k := range keys {
		tbl.Set(StringValue(k), IntValue(int64(i)))
	}
	for i, want := range keys {
		k, v := tbl.Entry(i)
		if k.Str() != want || v.Int() != int64(i) {
			t.Errorf("entry %d = (%v, %v), want (%q, %d)", i, k, v, want, i)
		}
	}
}

func TestTableRefcountsValues(t *testing.T) {
	var pool ObjectPool
	ref := pool.Alloc()
	ref.Object().SetTable()
	held := ObjectValue(ref)

	var tbl Table
	tbl.Set(StringValue("o"), held)
	if ref.Object().Refcount() != 2 {
		t.Fatalf("refcount after Set = %d, want 2", ref.Object().Refcount())
	}
	tbl.Set(StringValue("o"), NilValue)
	if ref.Object().Refcount() != 1 {
		t.Fatalf("refcount after overwrite = %d, want 1", ref.Object().Refcount())
	}
	held.Release()
	if !ref.Object().Free() {
		t.Error("object should be reclaimed once the table let go")
	}
}
