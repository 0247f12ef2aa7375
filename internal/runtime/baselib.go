// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import (
	"fmt"
	"strings"
)

// NewGlobals creates a fresh globals table (`_G`) populated with the
// minimal base-library surface this module carries (spec §1 marks the
// full standard library out of scope; this is just enough to run and
// observe a compiled chunk end to end, per SPEC_FULL.md §2.3).
func NewGlobals(g *GlobalState) Value {
	env := newTable()
	g.gc.newObject(env)
	reg := func(name string, fn GoFunction) {
		c := &goClosure{fn: fn, name: name}
		g.gc.newObject(c)
		env.Set(g.strings.intern(name), c)
	}

	reg("print", baseLibPrint)
	reg("type", baseLibType)
	reg("tostring", baseLibToString)
	reg("tonumber", baseLibToNumber)
	reg("pairs", baseLibPairs)
	reg("ipairs", baseLibIPairs)
	reg("next", baseLibNext)
	reg("pcall", baseLibPCall)
	reg("xpcall", baseLibXPCall)
	reg("error", baseLibError)
	reg("assert", baseLibAssert)
	reg("select", baseLibSelect)
	reg("rawget", baseLibRawGet)
	reg("rawset", baseLibRawSet)
	reg("rawequal", baseLibRawEqual)
	reg("rawlen", baseLibRawLen)
	reg("setmetatable", baseLibSetMetatable)
	reg("getmetatable", baseLibGetMetatable)
	reg("unpack", baseLibUnpack)
	reg("collectgarbage", baseLibCollectGarbage)

	env.Set(g.strings.intern("_G"), env)
	env.Set(g.strings.intern("_VERSION"), &stringObj{s: "Lua 5.3"})
	return env
}

func baseLibPrint(th *Thread) (int, error) {
	n := th.Top()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		s, err := baseToDisplayString(th, th.Arg(i))
		if err != nil {
			return 0, err
		}
		parts[i-1] = s
	}
	fmt.Println(strings.Join(parts, "\t"))
	return 0, nil
}

// baseToDisplayString applies __tostring when present, else falls back
// to [ToString].
func baseToDisplayString(th *Thread, v Value) (string, error) {
	if mm := th.global.metamethod(v, "__tostring"); !IsNone(mm) && isCallable(mm) {
		result, err := th.callValue(mm, []Value{v})
		if err != nil {
			return "", err
		}
		return ToString(result), nil
	}
	if t, ok := v.(*table); ok && t.meta != nil {
		if name := t.meta.lookupByName("__name"); !IsNone(name) {
			if s, ok := name.(*stringObj); ok {
				return fmt.Sprintf("%s: %p", s.s, t), nil
			}
		}
	}
	return ToString(v), nil
}

func baseLibType(th *Thread) (int, error) {
	th.Push(&stringObj{s: TypeName(th.Arg(1))})
	return 1, nil
}

func baseLibToString(th *Thread) (int, error) {
	s, err := baseToDisplayString(th, th.Arg(1))
	if err != nil {
		return 0, err
	}
	th.Push(&stringObj{s: s})
	return 1, nil
}

func baseLibToNumber(th *Thread) (int, error) {
	v := th.Arg(1)
	if th.Top() >= 2 {
		s, ok := v.(*stringObj)
		if !ok {
			th.Push(None{})
			return 1, nil
		}
		base, _ := toInteger(th.Arg(2))
		n, ok := parseIntegerBase(strings.TrimSpace(s.s), int(base))
		if !ok {
			th.Push(None{})
			return 1, nil
		}
		th.Push(Integer(n))
		return 1, nil
	}
	n, ok := toNumber(v)
	if !ok {
		th.Push(None{})
		return 1, nil
	}
	th.Push(n)
	return 1, nil
}

func parseIntegerBase(s string, base int) (int64, bool) {
	if s == "" || base < 2 || base > 36 {
		return 0, false
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	if s == "" {
		return 0, false
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d int64
		switch {
		case c >= '0' && c <= '9':
			d = int64(c - '0')
		case c >= 'a' && c <= 'z':
			d = int64(c-'a') + 10
		case c >= 'A' && c <= 'Z':
			d = int64(c-'A') + 10
		default:
			return 0, false
		}
		if d >= int64(base) {
			return 0, false
		}
		n = n*int64(base) + d
	}
	if neg {
		n = -n
	}
	return n, true
}

// baseLibPairs returns the stateless iterator triple (next, t, nil),
// consulting __pairs if present the way Lua 5.2's compatibility path did
// (the reference 5.3 VM dropped __pairs, but keeping it costs nothing
// here and lets host-provided tables customize iteration).
func baseLibPairs(th *Thread) (int, error) {
	v := th.Arg(1)
	if mm := th.global.metamethod(v, "__pairs"); !IsNone(mm) && isCallable(mm) {
		results, err := th.Call(mm, []Value{v}, 3)
		if err != nil {
			return 0, err
		}
		for _, r := range results {
			th.Push(r)
		}
		return len(results), nil
	}
	t, ok := v.(*table)
	if !ok {
		return 0, newTypeError(v, "iterate over")
	}
	nextFn := &goClosure{fn: baseLibNext, name: "next"}
	th.global.gc.newObject(nextFn)
	th.Push(nextFn)
	th.Push(t)
	th.Push(None{})
	return 3, nil
}

func baseLibNext(th *Thread) (int, error) {
	v := th.Arg(1)
	t, ok := v.(*table)
	if !ok {
		return 0, newTypeError(v, "iterate over")
	}
	key := th.Arg(2)
	nk, nv, ok := t.Next(key)
	if !ok {
		th.Push(None{})
		return 1, nil
	}
	th.Push(nk)
	th.Push(nv)
	return 2, nil
}

func baseLibIPairs(th *Thread) (int, error) {
	v := th.Arg(1)
	iterFn := &goClosure{fn: baseLibIPairsAux, name: "ipairs_aux"}
	th.global.gc.newObject(iterFn)
	th.Push(iterFn)
	th.Push(v)
	th.Push(Integer(0))
	return 3, nil
}

func baseLibIPairsAux(th *Thread) (int, error) {
	v := th.Arg(1)
	i, _ := toInteger(th.Arg(2))
	i++
	val, err := th.index(v, i)
	if err != nil {
		return 0, err
	}
	if IsNone(val) {
		th.Push(None{})
		return 1, nil
	}
	th.Push(i)
	th.Push(val)
	return 2, nil
}

func baseLibPCall(th *Thread) (int, error) {
	n := th.Top()
	if n < 1 {
		return 0, newRuntimeError("bad argument #1 to 'pcall' (value expected)")
	}
	fn := th.Arg(1)
	args := make([]Value, 0, n-1)
	for i := 2; i <= n; i++ {
		args = append(args, th.Arg(i))
	}
	var results []Value
	err := th.protectedCall(func() error {
		r, err := th.Call(fn, args, -1)
		results = r
		return err
	})
	if err != nil {
		th.Push(Boolean(false))
		th.Push(errorToValue(err))
		return 2, nil
	}
	th.Push(Boolean(true))
	for _, r := range results {
		th.Push(r)
	}
	return 1 + len(results), nil
}

func baseLibXPCall(th *Thread) (int, error) {
	n := th.Top()
	if n < 2 {
		return 0, newRuntimeError("bad argument #2 to 'xpcall' (value expected)")
	}
	fn := th.Arg(1)
	handler := th.Arg(2)
	args := make([]Value, 0, n-2)
	for i := 3; i <= n; i++ {
		args = append(args, th.Arg(i))
	}
	var results []Value
	err := th.protectedCall(func() error {
		r, err := th.Call(fn, args, -1)
		results = r
		return err
	})
	if err != nil {
		handled, herr := th.callValue(handler, []Value{errorToValue(err)})
		if herr != nil {
			th.Push(Boolean(false))
			th.Push(errorToValue(herr))
			return 2, nil
		}
		th.Push(Boolean(false))
		th.Push(handled)
		return 2, nil
	}
	th.Push(Boolean(true))
	for _, r := range results {
		th.Push(r)
	}
	return 1 + len(results), nil
}

func baseLibError(th *Thread) (int, error) {
	v := th.Arg(1)
	level, _ := toInteger(th.Arg(2))
	if s, ok := v.(*stringObj); ok && level != 0 {
		loc := "?"
		for i := len(th.frames) - 1; i >= 0; i-- {
			if ci := &th.frames[i]; ci.closure != nil {
				loc = sourceLocation(ci.closure.proto, ci.pc)
				break
			}
		}
		v = &stringObj{s: loc + ": " + s.s}
	}
	th.Error(v)
	return 0, nil
}

func baseLibAssert(th *Thread) (int, error) {
	v := th.Arg(1)
	if Truthy(v) {
		n := th.Top()
		for i := 1; i <= n; i++ {
			th.Push(th.Arg(i))
		}
		return n, nil
	}
	msg := th.Arg(2)
	if IsNone(msg) {
		msg = &stringObj{s: "assertion failed!"}
	}
	th.Error(msg)
	return 0, nil
}

func baseLibSelect(th *Thread) (int, error) {
	sel := th.Arg(1)
	n := th.Top()
	if s, ok := sel.(*stringObj); ok && s.s == "#" {
		th.Push(Integer(n - 1))
		return 1, nil
	}
	idx, ok := toInteger(sel)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'select' (number expected)")
	}
	if idx < 0 {
		idx = Integer(n) + idx
	}
	if idx < 1 {
		return 0, newRuntimeError("bad argument #1 to 'select' (index out of range)")
	}
	count := 0
	for i := int(idx) + 1; i <= n; i++ {
		th.Push(th.Arg(i))
		count++
	}
	return count, nil
}

func baseLibRawGet(th *Thread) (int, error) {
	t, ok := th.Arg(1).(*table)
	if !ok {
		return 0, newTypeError(th.Arg(1), "index")
	}
	th.Push(t.Get(th.Arg(2)))
	return 1, nil
}

func baseLibRawSet(th *Thread) (int, error) {
	t, ok := th.Arg(1).(*table)
	if !ok {
		return 0, newTypeError(th.Arg(1), "index")
	}
	if err := t.rawSetWithBarrier(th, th.Arg(2), th.Arg(3)); err != nil {
		return 0, err
	}
	th.Push(t)
	return 1, nil
}

func baseLibRawEqual(th *Thread) (int, error) {
	th.Push(Boolean(RawEqual(th.Arg(1), th.Arg(2))))
	return 1, nil
}

func baseLibRawLen(th *Thread) (int, error) {
	switch v := th.Arg(1).(type) {
	case *table:
		th.Push(v.Len())
	case *stringObj:
		th.Push(Integer(len(v.s)))
	default:
		return 0, newTypeError(v, "get length of")
	}
	return 1, nil
}

func baseLibSetMetatable(th *Thread) (int, error) {
	t, ok := th.Arg(1).(*table)
	if !ok {
		return 0, newTypeError(th.Arg(1), "set metatable of")
	}
	if t.meta != nil && !IsNone(t.meta.lookupByName("__metatable")) {
		return 0, newRuntimeError("cannot change a protected metatable")
	}
	switch mt := th.Arg(2).(type) {
	case None:
		t.SetMetatable(th.global, nil)
	case *table:
		t.SetMetatable(th.global, mt)
	default:
		return 0, newRuntimeError("bad argument #2 to 'setmetatable' (nil or table expected)")
	}
	th.global.gc.barrierBack(t)
	th.Push(t)
	return 1, nil
}

func baseLibGetMetatable(th *Thread) (int, error) {
	mt := th.global.metatableFor(th.Arg(1))
	if mt == nil {
		th.Push(None{})
		return 1, nil
	}
	if protected := mt.lookupByName("__metatable"); !IsNone(protected) {
		th.Push(protected)
		return 1, nil
	}
	th.Push(mt)
	return 1, nil
}

func baseLibUnpack(th *Thread) (int, error) {
	t, ok := th.Arg(1).(*table)
	if !ok {
		return 0, newTypeError(th.Arg(1), "iterate over")
	}
	i := Integer(1)
	if th.Top() >= 2 {
		i, _ = toInteger(th.Arg(2))
	}
	j := t.Len()
	if th.Top() >= 3 {
		j, _ = toInteger(th.Arg(3))
	}
	count := 0
	for ; i <= j; i++ {
		th.Push(t.Get(i))
		count++
	}
	return count, nil
}

// baseLibCollectGarbage implements the subset of `collectgarbage`'s
// option table that has an observable effect in this port (spec §4.4 GC
// tunables): "collect" runs a full cycle, "step" runs one incremental
// step, "stop"/"restart" are accepted but have no distinct effect since
// this port has no free-running background collector to pause, and
// "count" reports the debt counter as a rough KB estimate.
func baseLibCollectGarbage(th *Thread) (int, error) {
	opt := "collect"
	if s, ok := th.Arg(1).(*stringObj); ok {
		opt = s.s
	}
	switch opt {
	case "collect":
		if err := th.global.Collect(); err != nil {
			return 0, err
		}
		th.Push(Integer(0))
	case "step":
		if err := th.global.Step(); err != nil {
			return 0, err
		}
		th.Push(Boolean(false))
	case "count":
		th.Push(Float(float64(th.global.gc.debt) / 1024))
	case "setpause":
		n, _ := toInteger(th.Arg(2))
		th.global.SetPacing(int(n), 0)
		th.Push(Integer(int64(th.global.gc.pause)))
	case "setstepmul":
		n, _ := toInteger(th.Arg(2))
		th.global.SetPacing(0, int(n))
		th.Push(Integer(int64(th.global.gc.stepMul)))
	case "setgcfinnum":
		n, _ := toInteger(th.Arg(2))
		th.global.SetFinalizerBudget(int(n))
		th.Push(Integer(int64(th.global.gc.finNum)))
	case "stop", "restart", "isrunning":
		th.Push(Boolean(true))
	default:
		th.Push(Integer(0))
	}
	return 1, nil
}
