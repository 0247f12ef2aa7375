// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import "witchlight.dev/luavm/internal/bytecode"

// maxIndexChain bounds __index/__newindex chain traversal, per spec §5
// Metatables and §8 Testable Property 6.
const maxIndexChain = 2000

// metamethod resolves the named tag method for v, or returns None{} if
// absent. Tables and userdata consult their own metatable; every other
// type shares its basic type's metatable on the global state.
func (g *GlobalState) metamethod(v Value, event string) Value {
	mt := g.metatableFor(v)
	if mt == nil {
		return None{}
	}
	return mt.lookupByName(event)
}

func stringsEqualByContent(a Value, s string) bool {
	so, ok := a.(*stringObj)
	return ok && so.s == s
}

// isCallable reports whether v is a function value (a Lua or Go closure);
// a value callable only through __call is not reported.
func isCallable(v Value) bool {
	switch v.(type) {
	case *luaClosure, *goClosure:
		return true
	default:
		return false
	}
}

// index implements `t[k]` including __index chain resolution, per spec §5:
// if the metamethod is itself a table, lookup continues into it; a
// function metamethod is called with (t, k).
func (th *Thread) index(obj Value, key Value) (Value, error) {
	for i := 0; i < maxIndexChain; i++ {
		if t, ok := obj.(*table); ok {
			v := t.Get(key)
			if !IsNone(v) {
				return v, nil
			}
			if t.meta == nil {
				return None{}, nil
			}
			mm := t.fastAbsent("__index")
			if IsNone(mm) {
				return None{}, nil
			}
			if isCallable(mm) {
				return th.callValue(mm, []Value{obj, key})
			}
			obj = mm
			continue
		}
		mm := th.global.metamethod(obj, "__index")
		if IsNone(mm) {
			return None{}, newTypeError(obj, "index")
		}
		if isCallable(mm) {
			return th.callValue(mm, []Value{obj, key})
		}
		obj = mm
	}
	return None{}, errIndexChainTooLong
}

// newindex implements `t[k] = v` including __newindex chain resolution.
func (th *Thread) newindex(obj Value, key, val Value) error {
	for i := 0; i < maxIndexChain; i++ {
		t, ok := obj.(*table)
		if !ok {
			mm := th.global.metamethod(obj, "__newindex")
			if IsNone(mm) {
				return newTypeError(obj, "index")
			}
			if isCallable(mm) {
				_, err := th.callValue(mm, []Value{obj, key, val})
				return err
			}
			obj = mm
			continue
		}
		if !IsNone(t.Get(key)) {
			return t.rawSetWithBarrier(th, key, val)
		}
		if t.meta == nil {
			return t.rawSetWithBarrier(th, key, val)
		}
		mm := t.fastAbsent("__newindex")
		if IsNone(mm) {
			return t.rawSetWithBarrier(th, key, val)
		}
		if isCallable(mm) {
			_, err := th.callValue(mm, []Value{obj, key, val})
			return err
		}
		obj = mm
	}
	return errIndexChainTooLong
}

// lookupByName finds a string-keyed value by content, used for metatable
// event lookups where the key may or may not be interned.
func (t *table) lookupByName(name string) Value {
	for k, v := range t.hash {
		if stringsEqualByContent(k, name) {
			if _, dead := v.(deadKey); dead {
				return None{}
			}
			return v
		}
	}
	return None{}
}

// rawSetWithBarrier is Set plus the write barrier the spec requires on
// every container mutation (spec §4.3).
func (t *table) rawSetWithBarrier(th *Thread, key, val Value) error {
	if err := t.Set(key, val); err != nil {
		return err
	}
	th.global.gc.barrierBack(t)
	return nil
}

// arithMeta resolves and calls the metamethod for an arithmetic or
// bitwise opcode, trying the left operand's metatable first, then the
// right's (spec §5 Metatables).
func (th *Thread) arithMeta(op bytecode.OpCode, a, b Value) (Value, error) {
	if op == bytecode.OpMod || op == bytecode.OpIDiv {
		if _, aok := a.(Integer); aok {
			if bi, bok := b.(Integer); bok && bi == 0 {
				sym := "%%"
				if op == bytecode.OpIDiv {
					sym = "//"
				}
				return None{}, newRuntimeError("attempt to perform 'n%s0'", sym)
			}
		}
	}
	tm, ok := bytecode.TagMethodForArith(op)
	if !ok {
		return None{}, newTypeError(a, "perform arithmetic on")
	}
	name := tm.String()
	if mm := th.global.metamethod(a, name); !IsNone(mm) && isCallable(mm) {
		return th.callValue(mm, []Value{a, b})
	}
	if mm := th.global.metamethod(b, name); !IsNone(mm) && isCallable(mm) {
		return th.callValue(mm, []Value{a, b})
	}
	bad := a
	if _, ok := toNumber(a); ok {
		bad = b
	}
	return None{}, newTypeError(bad, "perform arithmetic on")
}

// concatMeta resolves __concat the same way arithMeta resolves arithmetic
// metamethods.
func (th *Thread) concatMeta(a, b Value) (Value, error) {
	if mm := th.global.metamethod(a, "__concat"); !IsNone(mm) && isCallable(mm) {
		return th.callValue(mm, []Value{a, b})
	}
	if mm := th.global.metamethod(b, "__concat"); !IsNone(mm) && isCallable(mm) {
		return th.callValue(mm, []Value{a, b})
	}
	bad := a
	if _, ok := a.(*stringObj); ok {
		bad = b
	}
	return None{}, newTypeError(bad, "concatenate")
}

// compareMeta resolves __lt/__le/__eq for operand types Lua doesn't
// compare natively.
func (th *Thread) compareMeta(event string, a, b Value) (bool, error) {
	mm := th.global.metamethod(a, event)
	if IsNone(mm) {
		mm = th.global.metamethod(b, event)
	}
	if IsNone(mm) || !isCallable(mm) {
		return false, newTypeError(a, "compare")
	}
	v, err := th.callValue(mm, []Value{a, b})
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}
