package vm

import (
	"math"
	"strings"
)

// execute is the fetch-decode-dispatch loop. The frame on top of the stack
// when it is entered gets the FRESH mark; the loop exits when a RETURN pops
// a FRESH frame, which is how control winds back to the host (or to the
// native function that re-entered through Call).
func (vm *VM) execute() {
	vm.frames[len(vm.frames)-1].status |= statusFresh

	for {
		// Re-resolve the frame every iteration: calls and returns change
		// the frame stack under us.
		fr := &vm.frames[len(vm.frames)-1]
		inst := fr.proto.Code[fr.pc]
		fr.pc++

		if vm.limits.Trace {
			log.Debugf("pc=%d %s", fr.pc-1, inst.Opcode().String())
		}

		switch inst.Opcode() {
		case OpMove:
			vm.setReg(fr.base+inst.A(), vm.reg(fr.base+inst.B()))

		case OpLoadK:
			vm.setReg(fr.base+inst.A(), fr.proto.Constants[inst.Bx()])

		case OpLoadKX:
			ax := fr.proto.Code[fr.pc].Ax()
			fr.pc++
			vm.setReg(fr.base+inst.A(), fr.proto.Constants[ax])

		case OpLoadBool:
			vm.setReg(fr.base+inst.A(), BoolValue(inst.B() != 0))
			if inst.C() != 0 {
				fr.pc++
			}

		case OpLoadNil:
			ra := fr.base + inst.A()
			for i := 0; i <= inst.B(); i++ {
				vm.setReg(ra+i, NilValue)
			}

		case OpGetUpval:
			u := vm.frameUpval(fr, inst.B())
			vm.setReg(fr.base+inst.A(), vm.upvalGet(u))

		case OpGetTabUp:
			u := vm.frameUpval(fr, inst.B())
			key := vm.rk(fr, inst.C())
			vm.setReg(fr.base+inst.A(), vm.indexValue(vm.upvalGet(u), key))

		case OpGetTable:
			key := vm.rk(fr, inst.C())
			vm.setReg(fr.base+inst.A(), vm.indexValue(vm.reg(fr.base+inst.B()), key))

		case OpSetTabUp:
			u := vm.frameUpval(fr, inst.A())
			if t := tableOf(vm.upvalGet(u)); t != nil {
				t.Set(vm.rk(fr, inst.B()), vm.rk(fr, inst.C()))
			}

		case OpSetUpval:
			u := vm.frameUpval(fr, inst.B())
			vm.upvalSet(u, vm.reg(fr.base+inst.A()))

		case OpSetTable:
			if t := tableOf(vm.reg(fr.base + inst.A())); t != nil {
				t.Set(vm.rk(fr, inst.B()), vm.rk(fr, inst.C()))
			}

		case OpNewTable:
			ref := vm.objects.Alloc()
			ref.Object().SetTable()
			vm.setRegOwned(fr.base+inst.A(), ObjectValue(ref))

		case OpSelf:
			ra := fr.base + inst.A()
			rb := vm.reg(fr.base + inst.B())
			key := vm.rk(fr, inst.C())
			vm.setReg(ra+1, rb)
			vm.setReg(ra, vm.indexValue(rb, key))

		case OpAdd, OpSub, OpMul, OpMod, OpPow, OpDiv, OpIDiv:
			x := vm.rk(fr, inst.B())
			y := vm.rk(fr, inst.C())
			if r, ok := arith(inst.Opcode(), x, y); ok {
				vm.setReg(fr.base+inst.A(), r)
			}

		case OpBAnd, OpBOr, OpBXor, OpShl, OpShr:
			x := vm.rk(fr, inst.B())
			y := vm.rk(fr, inst.C())
			if r, ok := bitwise(inst.Opcode(), x, y); ok {
				vm.setReg(fr.base+inst.A(), r)
			}

		case OpUnm:
			v := vm.reg(fr.base + inst.B())
			if v.IsInt() {
				vm.setReg(fr.base+inst.A(), IntValue(-v.Int()))
			} else if f, ok := v.ToNumber(); ok {
				vm.setReg(fr.base+inst.A(), FloatValue(-f))
			}

		case OpBNot:
			if i, ok := vm.reg(fr.base + inst.B()).ToInteger(); ok {
				vm.setReg(fr.base+inst.A(), IntValue(^i))
			}

		case OpNot:
			vm.setReg(fr.base+inst.A(), BoolValue(vm.reg(fr.base+inst.B()).IsFalsey()))

		case OpLen:
			v := vm.reg(fr.base + inst.B())
			switch {
			case v.IsString():
				vm.setReg(fr.base+inst.A(), IntValue(int64(len(v.Str()))))
			case tableOf(v) != nil:
				vm.setReg(fr.base+inst.A(), IntValue(int64(tableOf(v).Len())))
			}

		case OpConcat:
			var sb strings.Builder
			for i := inst.B(); i <= inst.C(); i++ {
				sb.WriteString(vm.reg(fr.base + i).ToString())
			}
			vm.setReg(fr.base+inst.A(), StringValue(sb.String()))

		case OpJmp:
			if a := inst.A(); a != 0 {
				vm.closeUpvals(fr.base + a - 1)
			}
			fr.pc += inst.SBx()

		case OpEq:
			if vm.rk(fr, inst.B()).Equals(vm.rk(fr, inst.C())) != (inst.A() != 0) {
				fr.pc++
			}

		case OpLt:
			if vm.rk(fr, inst.B()).Less(vm.rk(fr, inst.C())) != (inst.A() != 0) {
				fr.pc++
			}

		case OpLe:
			if vm.rk(fr, inst.B()).LessEq(vm.rk(fr, inst.C())) != (inst.A() != 0) {
				fr.pc++
			}

		case OpTest:
			if vm.reg(fr.base+inst.A()).IsTruthy() != (inst.C() != 0) {
				fr.pc++
			}

		case OpTestSet:
			rb := vm.reg(fr.base + inst.B())
			if rb.IsTruthy() == (inst.C() != 0) {
				vm.setReg(fr.base+inst.A(), rb)
			} else {
				fr.pc++
			}

		case OpCall:
			ra := fr.base + inst.A()
			if b := inst.B(); b != 0 {
				vm.setTop(ra + b)
			}
			vm.precall(ra, inst.C()-1)
			// Lua target: the new frame is current and the loop picks it
			// up. Native target: already complete, carry on here.

		case OpTailCall:
			ra := fr.base + inst.A()
			if b := inst.B(); b != 0 {
				vm.setTop(ra + b)
			}
			if len(fr.proto.Protos) > 0 {
				vm.closeUpvals(fr.base)
			}
			if !vm.precall(ra, MultiRet) {
				vm.tailcall()
			}
			// A native target has already run and left its results at ra;
			// the RETURN that follows by convention picks them all up.

		case OpReturn:
			if len(fr.proto.Protos) > 0 {
				vm.closeUpvals(fr.base)
			}
			ra := fr.base + inst.A()
			var n int
			if b := inst.B(); b == 0 {
				n = vm.top() - ra
			} else {
				n = b - 1
			}
			fresh := fr.status&statusFresh != 0
			vm.postcall(ra, n)
			if fresh {
				return
			}

		case OpForLoop:
			ra := fr.base + inst.A()
			if vm.reg(ra).IsInt() {
				i0 := vm.reg(ra).Int()
				step := vm.reg(ra + 2).Int()
				// An increment that would wrap int64 has run off the end of
				// the representable range: the loop is over.
				if (step > 0 && i0 > math.MaxInt64-step) ||
					(step < 0 && i0 < math.MinInt64-step) {
					break
				}
				idx := i0 + step
				limit := vm.reg(ra + 1).Int()
				vm.setReg(ra, IntValue(idx))
				if (step > 0 && idx <= limit) || (step <= 0 && limit <= idx) {
					fr.pc += inst.SBx()
					vm.setReg(ra+3, IntValue(idx))
				}
			} else {
				idx := vm.reg(ra).Float() + vm.reg(ra + 2).Float()
				limit := vm.reg(ra + 1).Float()
				step := vm.reg(ra + 2).Float()
				vm.setReg(ra, FloatValue(idx))
				if (step > 0 && idx <= limit) || (step <= 0 && limit <= idx) {
					fr.pc += inst.SBx()
					vm.setReg(ra+3, FloatValue(idx))
				}
			}

		case OpForPrep:
			ra := fr.base + inst.A()
			init, limit, step := vm.reg(ra), vm.reg(ra+1), vm.reg(ra+2)
			if init.IsInt() && limit.IsInt() && step.IsInt() {
				vm.setReg(ra, IntValue(init.Int()-step.Int()))
			} else {
				fi, ok1 := init.ToNumber()
				fl, ok2 := limit.ToNumber()
				fs, ok3 := step.ToNumber()
				if !ok1 || !ok2 || !ok3 {
					vm.fault("'for' bounds must be numbers")
				}
				vm.setReg(ra, FloatValue(fi-fs))
				vm.setReg(ra+1, FloatValue(fl))
				vm.setReg(ra+2, FloatValue(fs))
			}
			fr.pc += inst.SBx()

		case OpTForCall:
			ra := fr.base + inst.A()
			cb := ra + 3
			vm.setTop(cb)
			vm.pushValue(vm.reg(ra))
			vm.pushValue(vm.reg(ra + 1))
			vm.pushValue(vm.reg(ra + 2))
			vm.precall(cb, inst.C())

		case OpTForLoop:
			ra := fr.base + inst.A()
			if !vm.reg(ra + 1).IsNil() {
				vm.setReg(ra, vm.reg(ra+1))
				fr.pc += inst.SBx()
			}

		case OpSetList:
			ra := fr.base + inst.A()
			n := inst.B()
			if n == 0 {
				n = vm.top() - ra - 1
			}
			c := inst.C()
			if c == 0 {
				c = fr.proto.Code[fr.pc].Ax()
				fr.pc++
			}
			if t := tableOf(vm.reg(ra)); t != nil {
				for i := 1; i <= n; i++ {
					key := int64((c-1)*fieldsPerFlush + i)
					t.Set(IntValue(key), vm.reg(ra+i))
				}
			}
			vm.setTop(ra + 1)

		case OpClosure:
			sub := fr.proto.Protos[inst.Bx()]
			ref := vm.makeClosure(sub, fr)
			vm.setRegOwned(fr.base+inst.A(), ObjectValue(ref))

		case OpVararg:
			ra := fr.base + inst.A()
			nvar := fr.base - fr.funcIdx - 1 - fr.proto.NumParams
			if nvar < 0 {
				nvar = 0
			}
			varBase := fr.base - nvar
			if b := inst.B(); b == 0 {
				for j := 0; j < nvar; j++ {
					vm.setReg(ra+j, vm.reg(varBase+j))
				}
				vm.setTop(ra + nvar)
			} else {
				for j := 0; j < b-1; j++ {
					if j < nvar {
						vm.setReg(ra+j, vm.reg(varBase+j))
					} else {
						vm.setReg(ra+j, NilValue)
					}
				}
			}

		case OpExtraArg:
			// Only ever consumed by LOADKX and SETLIST; reaching it here
			// means malformed bytecode.
			vm.fault("unexpected EXTRAARG")

		default:
			vm.fault("unknown opcode %d", inst.Opcode())
		}
	}
}

// ---------------------------------------------------------------------------
// Operand helpers
// ---------------------------------------------------------------------------

// rk resolves a composite register-or-constant operand.
func (vm *VM) rk(fr *callFrame, x int) Value {
	if isConst(x) {
		return fr.proto.Constants[rkIndex(x)]
	}
	return vm.reg(fr.base + rkIndex(x))
}

// frameUpval resolves upvalue i of the running closure.
func (vm *VM) frameUpval(fr *callFrame, i int) *Upvalue {
	ups := fr.cl.lcl.Upvals
	if i >= len(ups) {
		vm.fault("upvalue index %d out of range", i)
	}
	return ups[i].Upvalue()
}

// upvalGet reads through an upvalue: the captured register while open, the
// owned value once closed.
func (vm *VM) upvalGet(u *Upvalue) Value {
	if u.open {
		return vm.reg(u.stackIdx)
	}
	return u.val
}

// upvalSet writes through an upvalue, mirroring upvalGet.
func (vm *VM) upvalSet(u *Upvalue, v Value) {
	if u.open {
		vm.setReg(u.stackIdx, v)
		return
	}
	old := u.val
	u.val = v.Retain()
	old.Release()
}

// tableOf unwraps a table object, or nil for anything else.
func tableOf(v Value) *Table {
	if !v.IsObject() {
		return nil
	}
	o := v.Obj().Object()
	if o == nil || !o.IsTable() {
		return nil
	}
	return o.Table()
}

// indexValue is the MVP read path for GETTABLE and friends: indexing a
// non-table yields nil.
func (vm *VM) indexValue(v, key Value) Value {
	if t := tableOf(v); t != nil {
		return t.Get(key)
	}
	return NilValue
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// arith evaluates the ADD..IDIV group. Two integer operands stay in the
// integer domain (division included, using floor semantics); anything else
// coerces through ToNumber and computes in float. A failed coercion writes
// nothing.
func arith(op Opcode, x, y Value) (Value, bool) {
	if x.IsInt() && y.IsInt() && op != OpPow {
		a, b := x.Int(), y.Int()
		switch op {
		case OpAdd:
			return IntValue(a + b), true
		case OpSub:
			return IntValue(a - b), true
		case OpMul:
			return IntValue(a * b), true
		case OpMod:
			if b == 0 {
				return NilValue, false
			}
			return IntValue(intMod(a, b)), true
		case OpDiv, OpIDiv:
			if b == 0 {
				return NilValue, false
			}
			return IntValue(intFloorDiv(a, b)), true
		}
	}
	a, ok1 := x.ToNumber()
	b, ok2 := y.ToNumber()
	if !ok1 || !ok2 {
		return NilValue, false
	}
	switch op {
	case OpAdd:
		return FloatValue(a + b), true
	case OpSub:
		return FloatValue(a - b), true
	case OpMul:
		return FloatValue(a * b), true
	case OpMod:
		return FloatValue(floatMod(a, b)), true
	case OpPow:
		return FloatValue(math.Pow(a, b)), true
	case OpDiv:
		return FloatValue(a / b), true
	case OpIDiv:
		return FloatValue(math.Floor(a / b)), true
	}
	return NilValue, false
}

// bitwise evaluates the integer-only BAND..SHR group. Operands that do not
// convert to integers leave the destination untouched.
func bitwise(op Opcode, x, y Value) (Value, bool) {
	a, ok1 := x.ToInteger()
	b, ok2 := y.ToInteger()
	if !ok1 || !ok2 {
		return NilValue, false
	}
	switch op {
	case OpBAnd:
		return IntValue(a & b), true
	case OpBOr:
		return IntValue(a | b), true
	case OpBXor:
		return IntValue(a ^ b), true
	case OpShl:
		return IntValue(shiftLeft(a, b)), true
	case OpShr:
		return IntValue(shiftLeft(a, -b)), true
	}
	return NilValue, false
}

// intFloorDiv is Lua's // on integers: quotient rounded toward minus
// infinity.
func intFloorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// intMod is Lua's % on integers: result takes the divisor's sign.
func intMod(a, b int64) int64 {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

// floatMod matches Lua's float %: math.Mod adjusted to the divisor's sign.
func floatMod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

// shiftLeft is Lua's logical shift: negative counts shift right, counts of
// 64 or more produce zero.
func shiftLeft(a, n int64) int64 {
	if n < 0 {
		if n <= -64 {
			return 0
		}
		return int64(uint64(a) >> uint(-n))
	}
	if n >= 64 {
		return 0
	}
	return int64(uint64(a) << uint(n))
}

// ---------------------------------------------------------------------------
// Closures and upvalue lifecycle
// ---------------------------------------------------------------------------

// makeClosure materialises a closure for proto in the context of frame fr,
// consulting the prototype's cache first. Returns an owned reference.
func (vm *VM) makeClosure(proto *Prototype, fr *callFrame) ObjRef {
	if cached := vm.cachedClosure(proto, fr); cached.Valid() {
		return cached
	}
	ref := vm.objects.Alloc()
	lcl := ref.Object().SetLuaClosure(proto)
	for _, d := range proto.Upvalues {
		var uref UpvalRef
		if d.InStack {
			uref = vm.findOrCreateUpval(fr.base + d.Index)
		} else {
			uref = fr.cl.lcl.Upvals[d.Index].Retain()
		}
		lcl.Upvals = append(lcl.Upvals, uref)
	}
	// Remember it for the next CLOSURE at this site.
	old := proto.cache
	proto.cache = ref.Retain()
	if old.Valid() {
		old.Release()
	}
	return ref
}

// cachedClosure returns a retained reference to the prototype's cached
// closure when every upvalue it captured equals the value that would be
// resolved now; otherwise an invalid reference.
func (vm *VM) cachedClosure(proto *Prototype, fr *callFrame) ObjRef {
	if !proto.cache.Valid() {
		return ObjRef{}
	}
	c := proto.cache.Object()
	if c.Free() || c.Kind() != ObjLuaClosure {
		return ObjRef{}
	}
	for i, d := range proto.Upvalues {
		var want Value
		if d.InStack {
			want = vm.reg(fr.base + d.Index)
		} else {
			want = vm.upvalGet(fr.cl.lcl.Upvals[d.Index].Upvalue())
		}
		have := vm.upvalGet(c.lcl.Upvals[i].Upvalue())
		if !have.Equals(want) {
			return ObjRef{}
		}
	}
	return proto.cache.Retain()
}

// findOrCreateUpval returns an owned reference to the open upvalue at the
// given stack level, creating one if no frame has captured it yet.
func (vm *VM) findOrCreateUpval(level int) UpvalRef {
	for i, u := range vm.upvals.slots {
		if !u.free && u.open && u.stackIdx == level {
			return UpvalRef{pool: &vm.upvals, idx: i}.Retain()
		}
	}
	uref := vm.upvals.Alloc()
	uref.Upvalue().setOpen(level)
	return uref
}

// closeUpvals promotes every open upvalue at or above the given stack level
// to own its current value. Called when a scope exits: JMP with A non-zero,
// and RETURN/TAILCALL from prototypes that have nested functions.
func (vm *VM) closeUpvals(level int) {
	for _, u := range vm.upvals.slots {
		if !u.free && u.open && u.stackIdx >= level {
			u.close(vm.reg(u.stackIdx))
		}
	}
}
