package vm

// Frame status bits, matching the three ways a frame can come to exist.
const (
	statusLua   uint8 = 1 << 1 // frame runs Lua bytecode (vs a native call)
	statusFresh uint8 = 1 << 3 // frame entered the dispatch loop from the host
	statusTail  uint8 = 1 << 5 // frame was reused by a tail call
)

// callFrame is one entry of the call stack. Native frames fill only
// funcIdx, numResults and status.
type callFrame struct {
	funcIdx    int
	numResults int
	status     uint8

	// Lua frames only.
	base  int
	pc    int
	proto *Prototype
	cl    *Object // the closure object; borrowed, the function register owns it
}

func (vm *VM) pushFrame(fr callFrame) {
	if len(vm.frames) >= vm.limits.CallDepth {
		vm.fault("call stack overflow (depth %d)", len(vm.frames))
	}
	vm.frames = append(vm.frames, fr)
	if len(vm.frames) > vm.maxFrameDepth {
		vm.maxFrameDepth = len(vm.frames)
	}
}

func (vm *VM) popFrame() callFrame {
	fr := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	return fr
}

// ---------------------------------------------------------------------------
// Precall / postcall
// ---------------------------------------------------------------------------

// precall prepares a call to the function at register idx with nret
// expected results. Native targets run synchronously here, results and all,
// and precall returns true. Lua targets get a frame pushed and precall
// returns false: the caller must run (or already be inside) the dispatch
// loop.
func (vm *VM) precall(idx int, nret int) bool {
	v := vm.reg(idx)
	if !v.IsObject() {
		vm.fault("attempt to call a %s value", typeName(v))
	}
	obj := v.Obj().Object()
	switch obj.Kind() {
	case ObjNativeClosure:
		vm.pushFrame(callFrame{funcIdx: idx, numResults: nret})
		n := obj.native(vm)
		vm.postcall(vm.top()-n, n)
		return true

	case ObjLuaClosure:
		proto := obj.lcl.Proto
		nargs := vm.top() - idx - 1
		var base int
		if proto.IsVararg {
			// Move the fixed parameters above the arguments; the extra
			// arguments stay behind, directly below the new base, where
			// VARARG finds them.
			base = vm.top()
			for i := 0; i < proto.NumParams; i++ {
				src := idx + 1 + i
				if i < nargs {
					vm.pushValue(vm.reg(src))
					vm.setReg(src, NilValue)
				} else {
					vm.pushValue(NilValue)
				}
			}
		} else {
			base = idx + 1
			for nargs < proto.NumParams {
				vm.pushValue(NilValue)
				nargs++
			}
		}
		// Reserve capacity so register writes below base+maxstack never
		// relocate mid-instruction.
		if need := base + proto.MaxStackSize; cap(vm.registers) < need {
			grown := make([]Value, len(vm.registers), need)
			copy(grown, vm.registers)
			vm.registers = grown
		}
		vm.pushFrame(callFrame{
			funcIdx:    idx,
			numResults: nret,
			status:     statusLua,
			base:       base,
			proto:      proto,
			cl:         obj,
		})
		return false
	}
	vm.fault("attempt to call a %s value", typeName(v))
	return false
}

// postcall pops the finished frame and arranges its results below the
// function slot per the frame's expected count. Returns false only for
// MultiRet frames, whose result count is whatever the callee produced.
func (vm *VM) postcall(firstResult, nproduced int) bool {
	fr := vm.popFrame()
	res := fr.funcIdx
	wanted := fr.numResults
	switch {
	case wanted == 0:
		vm.setTop(res)
	case wanted == 1:
		if nproduced == 0 {
			vm.setReg(res, NilValue)
		} else {
			vm.setReg(res, vm.reg(firstResult))
		}
		vm.setTop(res + 1)
	case wanted == MultiRet:
		for i := 0; i < nproduced; i++ {
			vm.setReg(res+i, vm.reg(firstResult+i))
		}
		vm.setTop(res + nproduced)
		return false
	default:
		n := wanted
		if nproduced < n {
			n = nproduced
		}
		for i := 0; i < n; i++ {
			vm.setReg(res+i, vm.reg(firstResult+i))
		}
		for i := n; i < wanted; i++ {
			vm.setReg(res+i, NilValue)
		}
		vm.setTop(res + wanted)
	}
	return true
}

// tailcall collapses the freshly pushed callee frame (top of the frame
// stack) into its caller: registers shift down over the caller's, the
// caller frame takes over the callee's code, and the intermediate frame is
// dropped. The FRESH bit survives so a later RETURN still exits to the
// host; the caller's expected result count is untouched.
func (vm *VM) tailcall() {
	nf := vm.popFrame()
	caller := &vm.frames[len(vm.frames)-1]

	delta := nf.funcIdx - caller.funcIdx
	n := vm.top() - nf.funcIdx
	for i := 0; i < n; i++ {
		vm.setReg(caller.funcIdx+i, vm.reg(nf.funcIdx+i))
	}
	vm.setTop(caller.funcIdx + n)

	caller.proto = nf.proto
	caller.cl = nf.cl
	caller.base = nf.base - delta
	caller.pc = 0
	caller.status = statusLua | statusTail | (caller.status & statusFresh)
}

// typeName names a value's Lua-visible type for error messages.
func typeName(v Value) string {
	switch v.Kind() {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindInt, KindFloat:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		if o := v.Obj().Object(); o != nil && o.IsTable() {
			return "table"
		}
		return "function"
	}
	return "value"
}
