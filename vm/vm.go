package vm

import (
	"io"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("quoll.vm")

// Limits tunes the engine for a target environment. The zero value gives
// the defaults below.
type Limits struct {
	Registers int  // initial register capacity
	Objects   int  // pre-created object pool slots
	Upvalues  int  // pre-created upvalue pool slots
	CallDepth int  // maximum call frames; exceeding it is a runtime error
	Trace     bool // log every executed instruction at debug level
}

const (
	defaultRegisters = 48
	defaultFrames    = 16
	defaultCallDepth = 256
)

// VM is a single-threaded Lua 5.3 bytecode engine. It owns one register
// stack, one call-frame stack, the object and upvalue pools, and the
// distinguished environment table. A VM is not safe for concurrent use;
// the host serialises access.
type VM struct {
	registers []Value
	frames    []callFrame

	objects ObjectPool
	upvals  UpvalPool

	// env is the distinguished environment: an owned reference to a table
	// object, bound to upvalue 0 of every loaded root closure.
	env Value

	limits        Limits
	maxFrameDepth int
}

// New creates a VM with default limits.
func New() *VM {
	return NewWithLimits(Limits{})
}

// NewWithLimits creates a VM tuned by l.
func NewWithLimits(l Limits) *VM {
	if l.Registers <= 0 {
		l.Registers = defaultRegisters
	}
	if l.CallDepth <= 0 {
		l.CallDepth = defaultCallDepth
	}
	vm := &VM{
		registers: make([]Value, 0, l.Registers),
		frames:    make([]callFrame, 0, defaultFrames),
		limits:    l,
	}
	vm.objects.reserve(l.Objects)
	vm.upvals.reserve(l.Upvalues)

	ref := vm.objects.Alloc()
	ref.Object().SetTable()
	vm.env = ObjectValue(ref)
	return vm
}

// ---------------------------------------------------------------------------
// Register stack
// ---------------------------------------------------------------------------

// top is the current stack height; registers[i] is live for i < top.
func (vm *VM) top() int { return len(vm.registers) }

// reg borrows the value at index i. Slots at or above top read as nil.
func (vm *VM) reg(i int) Value {
	if i < 0 || i >= len(vm.registers) {
		return NilValue
	}
	return vm.registers[i]
}

// setReg stores a copy of v at index i, retaining v and releasing whatever
// was there. The stack grows with nils if i is above top.
func (vm *VM) setReg(i int, v Value) {
	for len(vm.registers) <= i {
		vm.registers = append(vm.registers, NilValue)
	}
	old := vm.registers[i]
	vm.registers[i] = v.Retain()
	old.Release()
}

// setRegOwned stores v at index i taking over the caller's reference.
func (vm *VM) setRegOwned(i int, v Value) {
	for len(vm.registers) <= i {
		vm.registers = append(vm.registers, NilValue)
	}
	old := vm.registers[i]
	vm.registers[i] = v
	old.Release()
}

// pushValue appends a copy of v, retaining it.
func (vm *VM) pushValue(v Value) {
	vm.registers = append(vm.registers, v.Retain())
}

// setTop grows the stack with nils or shrinks it, releasing dropped values.
func (vm *VM) setTop(n int) {
	for len(vm.registers) > n {
		last := len(vm.registers) - 1
		vm.registers[last].Release()
		vm.registers = vm.registers[:last]
	}
	for len(vm.registers) < n {
		vm.registers = append(vm.registers, NilValue)
	}
}

// ---------------------------------------------------------------------------
// Host surface
// ---------------------------------------------------------------------------

// Push appends v to the register stack, in preparation for a call. The
// stack takes its own reference.
func (vm *VM) Push(v Value) {
	vm.pushValue(v)
}

// PushGlobal pushes env()[key], a shorthand for Push(Env().Get(key)).
func (vm *VM) PushGlobal(key Value) {
	vm.Push(vm.Env().Get(key))
}

// Pop removes and returns the top value. Ownership of the stack's reference
// transfers to the caller: an object value returned here must eventually be
// Released by the host. Panics on an empty stack.
func (vm *VM) Pop() Value {
	if len(vm.registers) == 0 {
		panic("VM.Pop: stack underflow")
	}
	last := len(vm.registers) - 1
	v := vm.registers[last]
	vm.registers = vm.registers[:last]
	return v
}

// PopN drops the top n values, typically unwanted return values.
func (vm *VM) PopN(n int) {
	if n > len(vm.registers) {
		panic("VM.PopN: stack underflow")
	}
	vm.setTop(len(vm.registers) - n)
}

// Argument returns argument i of the running native call, indexed from 0.
// Outside any call it returns registers[i], which is where a finished
// top-level call leaves its results. The value is borrowed.
func (vm *VM) Argument(i int) Value {
	if len(vm.frames) > 0 {
		fr := &vm.frames[len(vm.frames)-1]
		return vm.reg(fr.funcIdx + i + 1)
	}
	return vm.reg(i)
}

// NumArguments returns how many arguments the running native call received.
func (vm *VM) NumArguments() int {
	if len(vm.frames) == 0 {
		return vm.top()
	}
	fr := &vm.frames[len(vm.frames)-1]
	return vm.top() - fr.funcIdx - 1
}

// Env returns the distinguished environment table, where globals live.
func (vm *VM) Env() *Table {
	return vm.env.Obj().Object().Table()
}

// AllocNativeFunction wraps a host callable in a native-closure object and
// returns an owning Value for it.
func (vm *VM) AllocNativeFunction(f NativeFn) Value {
	ref := vm.objects.Alloc()
	ref.Object().SetNativeClosure(f)
	return ObjectValue(ref)
}

// DefineNativeFunction binds a host callable into the environment, making
// it visible to Lua code as a global.
func (vm *VM) DefineNativeFunction(key string, f NativeFn) {
	fn := vm.AllocNativeFunction(f)
	vm.Env().Set(StringValue(key), fn)
	fn.Release()
}

// Load reads a compiled chunk from r and installs its root closure at
// register 0 with upvalue 0 bound to the environment. There must be no
// active call. On error the VM is unchanged and remains usable.
func (vm *VM) Load(r io.Reader) error {
	chunk, err := NewChunkReader(r).ReadChunk()
	if err != nil {
		log.Errorf("load failed: %s", err.Error())
		return err
	}
	return vm.LoadChunk(chunk)
}

// LoadChunk installs an already-decoded chunk, same contract as Load.
func (vm *VM) LoadChunk(chunk *Chunk) error {
	if len(vm.frames) > 0 {
		return ErrActiveFrame
	}
	vm.setTop(0)
	ref := vm.objects.Alloc()
	lcl := ref.Object().SetLuaClosure(chunk.Root)
	for i := range chunk.Root.Upvalues {
		uref := vm.upvals.Alloc()
		u := uref.Upvalue()
		if i == 0 {
			u.close(vm.env)
		} else {
			u.close(NilValue)
		}
		lcl.Upvals = append(lcl.Upvals, uref)
	}
	vm.setRegOwned(0, ObjectValue(ref))
	log.Debugf("loaded chunk %q: %d instructions, %d nested prototypes",
		chunk.Root.Source, len(chunk.Root.Code), len(chunk.Root.Protos))
	return nil
}

// Call executes the function sitting nargs slots below the top, leaving
// nret results where the function was. Hosts request a fixed result count;
// nret must not be negative (MultiRet is a bytecode-level notion). Lua-level
// faults come back as a *RuntimeError; the stacks and pools stay consistent.
func (vm *VM) Call(nargs, nret int) (err error) {
	if nargs < 0 || nret < 0 {
		panic("VM.Call: negative argument or result count")
	}
	entry := len(vm.frames)
	defer func() {
		if r := recover(); r != nil {
			re, ok := r.(*RuntimeError)
			if !ok {
				panic(r)
			}
			// Unwind frames pushed by this invocation.
			for len(vm.frames) > entry {
				vm.frames = vm.frames[:len(vm.frames)-1]
			}
			log.Errorf("call failed: %s", re.Msg)
			err = re
		}
	}()
	idx := vm.top() - nargs - 1
	if idx < 0 {
		panic("VM.Call: not enough values on the stack")
	}
	if !vm.precall(idx, nret) {
		vm.execute()
	}
	return nil
}

// MaxFrameDepth reports the deepest the call-frame stack has ever been.
// Tail calls collapse frames, so tail-recursive loops keep this constant.
func (vm *VM) MaxFrameDepth() int { return vm.maxFrameDepth }

// FrameDepth reports the current call-frame depth.
func (vm *VM) FrameDepth() int { return len(vm.frames) }

// ObjectPoolRef exposes the object pool for diagnostics and tests.
func (vm *VM) ObjectPoolRef() *ObjectPool { return &vm.objects }

// UpvalPoolRef exposes the upvalue pool for diagnostics and tests.
func (vm *VM) UpvalPoolRef() *UpvalPool { return &vm.upvals }
