// Package vm implements an embeddable Lua 5.3 bytecode engine built for
// hosts that need tight control over memory: values are small tagged
// structs, heap objects (tables and closures) live in a refcounted pool
// with explicit Retain/Release, and the register and call stacks are plain
// slices the host can size up front.
//
// The engine executes chunks produced by the stock luac 5.3 compiler. It
// does not compile source; load bytecode with VM.Load or assemble
// prototypes directly with ProtoBuilder.
//
// Typical embedding:
//
//	m := vm.New()
//	m.DefineNativeFunction("emit", func(m *vm.VM) int {
//	    fmt.Println(m.Argument(0).ToString())
//	    return 0
//	})
//	if err := m.Load(bytes.NewReader(chunk)); err != nil { ... }
//	if err := m.Call(0, 1); err != nil { ... }
//	result := m.Pop()
//	defer result.Release()
//
// A VM is single-threaded; run one per goroutine or serialise access.
package vm
