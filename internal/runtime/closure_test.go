// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import (
	"testing"

	"witchlight.dev/luavm/internal/bytecode"
)

// constChunk builds the smallest possible main-chunk prototype: load one
// constant into register 0 and return it. Good enough to exercise
// [GlobalState.LoadMainChunk] and a full [Thread.Call] round trip without
// needing a compiler.
func constChunk(c bytecode.Constant) *bytecode.Prototype {
	return &bytecode.Prototype{
		MaxStackSize: 2,
		Constants:    []bytecode.Constant{c},
		Code: []bytecode.Instruction{
			bytecode.ABxInstruction(bytecode.OpLoadK, 0, 0),
			bytecode.ABCInstruction(bytecode.OpReturn, 0, 2, 0),
		},
		Upvalues: []bytecode.UpvalueDescriptor{{Name: "_ENV"}},
	}
}

func TestLoadMainChunkRunsAndReturnsConstant(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)
	proto := constChunk(bytecode.IntegerConstant(4))

	main := g.LoadMainChunk(proto, env)
	closure, ok := main.(*luaClosure)
	if !ok {
		t.Fatalf("LoadMainChunk returned %T; want *luaClosure", main)
	}
	if got, want := len(closure.upvalues), 1; got != want {
		t.Fatalf("len(upvalues) = %d; want %d (just _ENV)", got, want)
	}
	if closure.upvalues[0].closed != env {
		t.Errorf("upvalue 0 is not bound to env")
	}

	th := g.MainThread()
	results, err := th.Call(main, nil, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("Call returned %d results; want 1", len(results))
	}
	if got, want := results[0], Integer(4); got != want {
		t.Errorf("Call(main) = %v; want %v", got, want)
	}
}

func TestLoadMainChunkRegistersClosureWithGC(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)
	proto := constChunk(bytecode.IntegerConstant(1))
	main := g.LoadMainChunk(proto, env).(object)

	found := false
	for o := g.gc.allgc; o != nil; o = o.header().next {
		if o == main {
			found = true
			break
		}
	}
	if !found {
		t.Error("LoadMainChunk's closure is not linked into allgc; it would be invisible to the collector")
	}
}
