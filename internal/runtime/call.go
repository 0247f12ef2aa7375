// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

// maxCallDepth bounds Lua-to-Lua call nesting that is not a tail call,
// guarding the host's Go stack the way the reference implementation
// guards its C stack.
const maxCallDepth = 200

// Call invokes fn with args, running to completion (including any nested
// Lua calls) and returning its results. nresults selects how many result
// values the caller wants; pass -1 for "all of them", matching the
// LUA_MULTRET convention reflected in bytecode.OpCall/OpReturn encoding.
func (th *Thread) Call(fn Value, args []Value, nresults int) ([]Value, error) {
	base := len(th.stack)
	th.stack = append(th.stack, fn)
	th.stack = append(th.stack, args...)

	isGo, err := th.precall(base, len(args), nresults)
	if err != nil {
		th.stack = th.stack[:base]
		return nil, err
	}
	if !isGo {
		if err := th.run(); err != nil {
			return nil, err
		}
	}

	results := append([]Value(nil), th.stack[base:]...)
	th.stack = th.stack[:base]
	return results, nil
}

// callValue is the common single-result shorthand metamethod dispatch uses.
func (th *Thread) callValue(fn Value, args []Value) (Value, error) {
	results, err := th.Call(fn, args, 1)
	if err != nil {
		return None{}, err
	}
	if len(results) == 0 {
		return None{}, nil
	}
	return results[0], nil
}

// precall sets up a new activation for the callable at th.stack[funcIndex]
// with numArgs arguments already pushed above it. For a Go function, it
// runs the function to completion inline and arranges its results in
// place of the call, returning isGo=true. For a Lua function, it pushes a
// new callInfo and returns isGo=false, leaving it to the interpreter loop
// to execute.
func (th *Thread) precall(funcIndex, numArgs, numResults int) (isGo bool, err error) {
	callee := th.stack[funcIndex]
	switch fn := callee.(type) {
	case *goClosure:
		ci := th.pushFrame()
		ci.goClosure = fn
		ci.funcIndex = funcIndex
		ci.base = funcIndex + 1
		ci.numResults = numResults
		n, err := fn.fn(th)
		th.popFrame()
		if err != nil {
			th.stack = th.stack[:funcIndex]
			return true, err
		}
		results := adjustResults(append([]Value(nil), th.stack[len(th.stack)-n:]...), numResults)
		th.stack = th.stack[:funcIndex]
		th.stack = append(th.stack, results...)
		return true, nil
	case *luaClosure:
		if len(th.frames) >= maxCallDepth {
			return false, newRuntimeError("stack overflow")
		}
		proto := fn.proto
		numFixed := int(proto.NumParams)
		base := funcIndex + 1
		var varargs []Value
		if proto.IsVararg && numArgs > numFixed {
			varargs = append([]Value(nil), th.stack[base+numFixed:base+numArgs]...)
			th.stack = th.stack[:base+numFixed]
		}
		for len(th.stack) < base+numFixed {
			th.stack = append(th.stack, None{})
		}
		for len(th.stack) < base+int(proto.MaxStackSize) {
			th.stack = append(th.stack, None{})
		}
		ci := th.pushFrame()
		ci.closure = fn
		ci.funcIndex = funcIndex
		ci.base = base
		ci.numResults = numResults
		ci.varargs = varargs
		return false, nil
	default:
		mm := th.global.metamethod(callee, "__call")
		if IsNone(mm) {
			return false, newTypeError(callee, "call")
		}
		th.stack = append(th.stack[:funcIndex], append([]Value{mm}, th.stack[funcIndex:]...)...)
		return th.precall(funcIndex, numArgs+1, numResults)
	}
}

// adjustResults trims or pads results to exactly want values, unless want
// is negative ("all of them").
func adjustResults(results []Value, want int) []Value {
	if want < 0 {
		return results
	}
	if len(results) > want {
		return results[:want]
	}
	for len(results) < want {
		results = append(results, None{})
	}
	return results
}

// postcall finishes the topmost activation, moving its results down to
// where the caller expects them and popping the frame. Returns true if
// there is a further Lua frame for the interpreter loop to resume, false
// if execution has unwound back to the entry point of [Thread.Call].
func (th *Thread) postcall(ci *callInfo, results []Value) bool {
	results = adjustResults(results, ci.numResults)
	th.closeUpvalues(ci.base)
	th.stack = th.stack[:ci.funcIndex]
	th.stack = append(th.stack, results...)
	th.popFrame()
	return len(th.frames) > 0
}
