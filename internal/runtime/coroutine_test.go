// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import (
	"testing"

	"witchlight.dev/luavm/internal/bytecode"
)

// yieldOnceChunk calls the global "yield1" function (a goClosure wrapping
// [Thread.Yield]) with no arguments and returns whatever it hands back
// from the next resume.
func yieldOnceChunk() *bytecode.Prototype {
	return chunkOf(2,
		[]bytecode.Constant{bytecode.StringConstant("yield1")},
		[]bytecode.Instruction{
			bytecode.ABCInstruction(bytecode.OpGetTabUp, 0, 0, bytecode.RKAsConstant(0)),
			bytecode.ABCInstruction(bytecode.OpCall, 0, 1, 2),
			bytecode.ABCInstruction(bytecode.OpReturn, 0, 2, 0),
		},
	)
}

func TestCoroutineResumeYieldRoundTrip(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)

	yield1 := &goClosure{
		name: "yield1",
		fn: func(th *Thread) (int, error) {
			vals := th.Yield([]Value{Integer(1)})
			th.stack = append(th.stack, vals...)
			return len(vals), nil
		},
	}
	g.gc.newObject(yield1)
	if err := env.Set(g.strings.intern("yield1"), yield1); err != nil {
		t.Fatal(err)
	}

	main := g.LoadMainChunk(yieldOnceChunk(), env).(*luaClosure)
	th := g.MainThread()
	co := th.NewCoroutine(main)

	results, dead, err := th.Resume(co, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dead {
		t.Fatal("coroutine reported dead after its first yield")
	}
	if len(results) != 1 || results[0] != Integer(1) {
		t.Fatalf("first Resume results = %v; want [1]", results)
	}

	results, dead, err = th.Resume(co, []Value{Integer(99)})
	if err != nil {
		t.Fatal(err)
	}
	if !dead {
		t.Fatal("coroutine did not report dead after returning")
	}
	if len(results) != 1 || results[0] != Integer(99) {
		t.Fatalf("final Resume results = %v; want [99]", results)
	}
}

func TestCoroutineResumeDeadIsError(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)
	main := g.LoadMainChunk(constChunk(bytecode.IntegerConstant(1)), env).(*luaClosure)
	th := g.MainThread()
	co := th.NewCoroutine(main)

	if _, _, err := th.Resume(co, nil); err != nil {
		t.Fatal(err)
	}
	if _, dead, err := th.Resume(co, nil); err == nil || !dead {
		t.Errorf("resuming a finished coroutine = (dead=%v, err=%v); want an error and dead=true", dead, err)
	}
}
