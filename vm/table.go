package vm

// Table is an insertion-ordered sequence of key/value pairs with linear
// lookup. There is no array/hash split: the target workloads keep tables
// small, and a flat vector avoids both hashing and rehash allocation.
// Assigning nil overwrites the entry; it never shrinks the table.
type Table struct {
	entries []tableEntry
}

type tableEntry struct {
	key   Value
	value Value
}

// Get returns the value for the first key equal to k, or nil on a miss.
func (t *Table) Get(k Value) Value {
	for i := range t.entries {
		if t.entries[i].key.Equals(k) {
			return t.entries[i].value
		}
	}
	return NilValue
}

// Set overwrites the entry whose key equals k, or appends a new one.
// The table takes its own references on both key and value.
func (t *Table) Set(k, v Value) {
	for i := range t.entries {
		if t.entries[i].key.Equals(k) {
			old := t.entries[i].value
			t.entries[i].value = v.Retain()
			old.Release()
			return
		}
	}
	t.entries = append(t.entries, tableEntry{key: k.Retain(), value: v.Retain()})
}

// Len returns the number of entries, which is what LEN reports for tables.
func (t *Table) Len() int { return len(t.entries) }

// Entry returns the i-th pair in insertion order.
func (t *Table) Entry(i int) (Value, Value) {
	return t.entries[i].key, t.entries[i].value
}
