// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import "witchlight.dev/luavm/internal/bytecode"

// run executes instructions from the topmost frame until it (and every
// frame it calls into) returns, leaving results on the stack in place of
// the call per spec §2 Data flow. A nested Lua call's precall pushes a
// new frame that this same loop goes on executing, so Lua-to-Lua calls
// do not grow the Go call stack; run is re-entered only through
// [Thread.Call], from Go functions and metamethod dispatch.
func (th *Thread) run() error {
	entryDepth := len(th.frames)
	for len(th.frames) >= entryDepth {
		ci := th.current()
		if ci.closure == nil {
			// A Go-function frame sits at the top only mid-__call
			// resolution; precall never leaves one pending here.
			return newRuntimeError("internal error: non-Lua frame reached by interpreter")
		}
		if err := th.execOne(ci); err != nil {
			return th.unwind(entryDepth, err)
		}
		if err := th.maybeStepGC(); err != nil {
			return th.unwind(entryDepth, err)
		}
	}
	return nil
}

func (th *Thread) unwind(entryDepth int, err error) error {
	for len(th.frames) > entryDepth {
		ci := th.current()
		th.closeUpvalues(ci.base)
		th.popFrame()
	}
	return err
}

func (th *Thread) maybeStepGC() error {
	gc := &th.global.gc
	if gc.debt <= 0 {
		return nil
	}
	gc.debt -= gc.stepSize * int64(gc.stepMul) / 100
	return gc.step()
}

// execOne decodes and executes the single instruction at ci.pc, advancing
// the program counter. Instructions that transfer control (calls,
// returns, jumps) adjust th.frames and return directly; run's loop
// condition notices when a call or return has changed the frame depth.
func (th *Thread) execOne(ci *callInfo) error {
	proto := ci.closure.proto
	if ci.pc < 0 || ci.pc >= len(proto.Code) {
		return newRuntimeError("%s: jumped out of bounds", proto.Source)
	}
	instr := proto.Code[ci.pc]
	ci.pc++

	reg := func(i uint16) *Value { return &th.stack[ci.base+int(i)] }
	constant := func(i uint16) Value { return th.importConstant(proto.Constants[i]) }
	rk := func(arg uint16, isConst bool) Value {
		if isConst {
			return constant(arg)
		}
		return *reg(arg)
	}

	op := instr.OpCode()
	switch op {
	case bytecode.OpMove:
		*reg(uint16(instr.ArgA())) = *reg(instr.ArgB())

	case bytecode.OpLoadK:
		*reg(uint16(instr.ArgA())) = constant(uint16(instr.ArgBx()))

	case bytecode.OpLoadKX:
		extra := proto.Code[ci.pc]
		ci.pc++
		*reg(uint16(instr.ArgA())) = constant(uint16(extra.ArgAx()))

	case bytecode.OpLoadBool:
		*reg(uint16(instr.ArgA())) = Boolean(instr.ArgB() != 0)
		if instr.ArgC() != 0 {
			ci.pc++
		}

	case bytecode.OpLoadNil:
		a := instr.ArgA()
		for i := uint16(0); i <= instr.ArgB(); i++ {
			*reg(uint16(a) + i) = None{}
		}

	case bytecode.OpGetUpval:
		*reg(uint16(instr.ArgA())) = ci.closure.upvalues[instr.ArgB()].get()

	case bytecode.OpSetUpval:
		uv := ci.closure.upvalues[instr.ArgB()]
		uv.set(*reg(uint16(instr.ArgA())))
		th.global.gc.barrierForward(&uv.gcHeader, uv.get())

	case bytecode.OpGetTabUp:
		uv := ci.closure.upvalues[instr.ArgB()]
		key := constant(instr.IndexC())
		v, err := th.index(uv.get(), key)
		if err != nil {
			return err
		}
		*reg(uint16(instr.ArgA())) = v

	case bytecode.OpGetTable:
		obj := *reg(instr.ArgB())
		key := rk(instr.IndexC(), instr.IsConstantC())
		v, err := th.index(obj, key)
		if err != nil {
			return err
		}
		*reg(uint16(instr.ArgA())) = v

	case bytecode.OpSetTabUp:
		uv := ci.closure.upvalues[instr.ArgA()]
		key := constant(instr.IndexB())
		val := rk(instr.IndexC(), instr.IsConstantC())
		if err := th.newindex(uv.get(), key, val); err != nil {
			return err
		}

	case bytecode.OpSetTable:
		obj := *reg(uint16(instr.ArgA()))
		key := rk(instr.IndexB(), instr.IsConstantB())
		val := rk(instr.IndexC(), instr.IsConstantC())
		if err := th.newindex(obj, key, val); err != nil {
			return err
		}

	case bytecode.OpNewTable:
		*reg(uint16(instr.ArgA())) = newTable()
		th.global.gc.newObject((*reg(uint16(instr.ArgA()))).(*table))

	case bytecode.OpSelf:
		a, b := instr.ArgA(), instr.ArgB()
		obj := *reg(b)
		*reg(uint16(a)+1) = obj
		key := rk(instr.IndexC(), instr.IsConstantC())
		v, err := th.index(obj, key)
		if err != nil {
			return err
		}
		*reg(uint16(a)) = v

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpMod, bytecode.OpPow,
		bytecode.OpDiv, bytecode.OpIDiv, bytecode.OpBAnd, bytecode.OpBOr, bytecode.OpBXor,
		bytecode.OpSHL, bytecode.OpSHR:
		x := rk(instr.IndexB(), instr.IsConstantB())
		y := rk(instr.IndexC(), instr.IsConstantC())
		if v, ok := arith(op, x, y); ok {
			*reg(uint16(instr.ArgA())) = v
		} else {
			v, err := th.arithMeta(op, x, y)
			if err != nil {
				return err
			}
			*reg(uint16(instr.ArgA())) = v
		}

	case bytecode.OpUNM, bytecode.OpBNot:
		x := *reg(instr.ArgB())
		if v, ok := arith(op, x, x); ok {
			*reg(uint16(instr.ArgA())) = v
		} else {
			v, err := th.arithMeta(op, x, x)
			if err != nil {
				return err
			}
			*reg(uint16(instr.ArgA())) = v
		}

	case bytecode.OpNot:
		*reg(uint16(instr.ArgA())) = Boolean(!Truthy(*reg(instr.ArgB())))

	case bytecode.OpLen:
		v, err := th.length(*reg(instr.ArgB()))
		if err != nil {
			return err
		}
		*reg(uint16(instr.ArgA())) = v

	case bytecode.OpConcat:
		b, c := instr.ArgB(), instr.ArgC()
		v, err := th.concat(th.stack[ci.base+int(b) : ci.base+int(c)+1])
		if err != nil {
			return err
		}
		*reg(uint16(instr.ArgA())) = v

	case bytecode.OpJMP:
		if instr.ArgA() > 0 {
			th.closeUpvalues(ci.base + int(instr.ArgA()) - 1)
		}
		ci.pc += int(instr.ArgSBx())

	case bytecode.OpEQ:
		x := rk(instr.IndexB(), instr.IsConstantB())
		y := rk(instr.IndexC(), instr.IsConstantC())
		eq, err := th.valuesEqual(x, y)
		if err != nil {
			return err
		}
		if eq != (instr.ArgA() != 0) {
			ci.pc++
		}

	case bytecode.OpLT, bytecode.OpLE:
		x := rk(instr.IndexB(), instr.IsConstantB())
		y := rk(instr.IndexC(), instr.IsConstantC())
		lt, err := th.valuesLess(op == bytecode.OpLE, x, y)
		if err != nil {
			return err
		}
		if lt != (instr.ArgA() != 0) {
			ci.pc++
		}

	case bytecode.OpTest:
		if Truthy(*reg(uint16(instr.ArgA()))) != (instr.ArgC() != 0) {
			ci.pc++
		}

	case bytecode.OpTestSet:
		b := *reg(instr.ArgB())
		if Truthy(b) == (instr.ArgC() != 0) {
			*reg(uint16(instr.ArgA())) = b
		} else {
			ci.pc++
		}

	case bytecode.OpCall:
		return th.execCall(ci, instr, false)

	case bytecode.OpTailCall:
		return th.execCall(ci, instr, true)

	case bytecode.OpReturn:
		a, b := instr.ArgA(), instr.ArgB()
		var results []Value
		if b == 0 {
			results = append([]Value(nil), th.stack[ci.base+int(a):]...)
		} else {
			results = append([]Value(nil), th.stack[ci.base+int(a):ci.base+int(a)+int(b)-1]...)
		}
		th.postcall(ci, results)

	case bytecode.OpForPrep:
		a := instr.ArgA()
		initV, limitV, stepV := *reg(uint16(a)), *reg(uint16(a) + 1), *reg(uint16(a) + 2)
		init, ok1 := toNumber(initV)
		limit, ok2 := toNumber(limitV)
		step, ok3 := toNumber(stepV)
		if !ok1 || !ok2 || !ok3 {
			return newRuntimeError("'for' initial value must be a number")
		}
		if isZero(step) {
			return newRuntimeError("'for' step is zero")
		}
		*reg(uint16(a)) = arithSub(init, step)
		*reg(uint16(a) + 1) = limit
		*reg(uint16(a) + 2) = step
		ci.pc += int(instr.ArgSBx())

	case bytecode.OpForLoop:
		a := instr.ArgA()
		next, cont := forLoopStep(*reg(uint16(a)), *reg(uint16(a) + 1), *reg(uint16(a) + 2))
		*reg(uint16(a)) = next
		if cont {
			ci.pc += int(instr.ArgSBx())
			*reg(uint16(a) + 3) = next
		}

	case bytecode.OpTForCall:
		a, c := instr.ArgA(), instr.ArgC()
		fn := *reg(uint16(a))
		args := []Value{*reg(uint16(a) + 1), *reg(uint16(a) + 2)}
		results, err := th.Call(fn, args, int(c))
		if err != nil {
			return err
		}
		for i := uint16(0); i < uint16(c); i++ {
			v := Value(None{})
			if int(i) < len(results) {
				v = results[i]
			}
			*reg(uint16(a) + 3 + i) = v
		}

	case bytecode.OpTForLoop:
		a := instr.ArgA()
		if !IsNone(*reg(uint16(a) + 1)) {
			*reg(uint16(a)) = *reg(uint16(a) + 1)
			ci.pc += int(instr.ArgSBx())
		}

	case bytecode.OpSetList:
		a, b, c := instr.ArgA(), instr.ArgB(), instr.ArgC()
		t := (*reg(uint16(a))).(*table)
		block := int(c)
		if c == 0 {
			extra := proto.Code[ci.pc]
			ci.pc++
			block = int(extra.ArgAx())
		}
		n := int(b)
		if n == 0 {
			n = len(th.stack) - (ci.base + int(a) + 1)
		}
		base := (block - 1) * bytecode0FieldsPerFlush
		for i := 0; i < n; i++ {
			if err := t.rawSetWithBarrier(th, Integer(base+i+1), th.stack[ci.base+int(a)+1+i]); err != nil {
				return err
			}
		}

	case bytecode.OpClosure:
		proto2 := proto.Functions[instr.ArgBx()]
		c := newLuaClosure(proto2, ci, th)
		th.global.gc.newObject(c)
		*reg(uint16(instr.ArgA())) = c

	case bytecode.OpVararg:
		a, b := instr.ArgA(), instr.ArgB()
		n := len(ci.varargs)
		if b != 0 {
			n = int(b) - 1
		}
		for i := 0; i < n; i++ {
			v := Value(None{})
			if i < len(ci.varargs) {
				v = ci.varargs[i]
			}
			*reg(uint16(a) + uint16(i)) = v
		}
		if b == 0 {
			for len(th.stack) < ci.base+int(a)+n {
				th.stack = append(th.stack, None{})
			}
			th.stack = th.stack[:ci.base+int(a)+n]
		}

	case bytecode.OpExtraArg:
		// Only ever consumed inline by OpLoadKX/OpSetList above.

	default:
		return newRuntimeError("unimplemented opcode %s", op)
	}
	return nil
}

// bytecode0FieldsPerFlush mirrors the reference implementation's
// LFIELDS_PER_FLUSH: the block size OpSetList's C operand counts in.
const bytecode0FieldsPerFlush = 50

// execCall implements OpCall/OpTailCall: it gathers arguments from the
// register window, invokes precall, and for a Go callee collects results
// immediately; for a Lua callee it leaves the new frame for run's loop to
// pick up. A tail call first pops the current frame, reusing its stack
// slot for the callee the way the reference implementation avoids
// growing the C stack on self-recursion.
func (th *Thread) execCall(ci *callInfo, instr bytecode.Instruction, tail bool) error {
	a, b, c := instr.ArgA(), instr.ArgB(), instr.ArgC()
	funcIndex := ci.base + int(a)
	numArgs := int(b) - 1
	if b == 0 {
		numArgs = len(th.stack) - funcIndex - 1
	}
	numResults := int(c) - 1

	if tail {
		numResults = -1
		callee := th.stack[funcIndex]
		args := append([]Value(nil), th.stack[funcIndex+1:funcIndex+1+numArgs]...)
		th.closeUpvalues(ci.base)
		th.stack = th.stack[:ci.funcIndex]
		th.stack = append(th.stack, callee)
		th.stack = append(th.stack, args...)
		th.popFrame()
		newFuncIndex := len(th.stack) - 1 - numArgs
		isGo, err := th.precall(newFuncIndex, numArgs, ci.numResults)
		if err != nil {
			return err
		}
		if isGo {
			// precall already placed the Go function's results at
			// newFuncIndex; just trim/pad to what our own caller wants.
			results := adjustResults(th.stack[newFuncIndex:], ci.numResults)
			th.stack = append(th.stack[:newFuncIndex], results...)
		} else {
			th.current().isTailCall = true
		}
		return nil
	}

	th.stack = th.stack[:funcIndex+1+numArgs]
	isGo, err := th.precall(funcIndex, numArgs, numResults)
	if err != nil {
		return err
	}
	if isGo {
		// Results already sit where the call began; nothing further
		// to do since precall placed them starting at funcIndex.
	}
	return nil
}

func arithAdd(a, b Value) Value {
	v, _ := arith(bytecode.OpAdd, a, b)
	return v
}

func arithSub(a, b Value) Value {
	v, _ := arith(bytecode.OpSub, a, b)
	return v
}

func isZero(v Value) bool {
	switch v := v.(type) {
	case Integer:
		return v == 0
	case Float:
		return v == 0
	}
	return false
}

// forLoopStep advances a numeric for loop by one step, returning the new
// loop value and whether the loop should continue. When idx, limit, and
// step are all integers the whole computation stays in int64 space, so a
// step that would carry idx past math.MaxInt64/math.MinInt64 clamps the
// loop to termination instead of silently wrapping or losing precision
// through a float64 round-trip.
func forLoopStep(idx, limit, step Value) (Value, bool) {
	ii, iIsInt := idx.(Integer)
	li, lIsInt := limit.(Integer)
	si, sIsInt := step.(Integer)
	if iIsInt && lIsInt && sIsInt {
		next, overflow := addInt64Overflows(int64(ii), int64(si))
		if overflow {
			return idx, false
		}
		if si >= 0 {
			return Integer(next), next <= int64(li)
		}
		return Integer(next), next >= int64(li)
	}
	stepF := toFloat(step)
	next := toFloat(idx) + stepF
	if stepF >= 0 {
		return Float(next), next <= toFloat(limit)
	}
	return Float(next), next >= toFloat(limit)
}

func addInt64Overflows(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, true
	}
	return sum, false
}
