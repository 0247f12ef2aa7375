// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import (
	"testing"

	"witchlight.dev/luavm/internal/bytecode"
)

// chunkOf wraps code/constants into the smallest prototype able to run
// standalone (one upvalue, _ENV, to match what LoadMainChunk expects).
func chunkOf(maxStack uint8, consts []bytecode.Constant, code []bytecode.Instruction) *bytecode.Prototype {
	return &bytecode.Prototype{
		MaxStackSize: maxStack,
		Constants:    consts,
		Code:         code,
		Upvalues:     []bytecode.UpvalueDescriptor{{Name: "_ENV"}},
	}
}

func runMainChunk(t *testing.T, g *GlobalState, proto *bytecode.Prototype, env Value) []Value {
	t.Helper()
	main := g.LoadMainChunk(proto, env)
	results, err := g.MainThread().Call(main, nil, -1)
	if err != nil {
		t.Fatal(err)
	}
	return results
}

func TestInterpArithmeticAdd(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)
	proto := chunkOf(3,
		[]bytecode.Constant{bytecode.IntegerConstant(2), bytecode.IntegerConstant(3)},
		[]bytecode.Instruction{
			bytecode.ABxInstruction(bytecode.OpLoadK, 0, 0),
			bytecode.ABxInstruction(bytecode.OpLoadK, 1, 1),
			bytecode.ABCInstruction(bytecode.OpAdd, 2, 0, 1),
			bytecode.ABCInstruction(bytecode.OpReturn, 2, 2, 0),
		},
	)

	results := runMainChunk(t, g, proto, env)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d; want 1", len(results))
	}
	if got, want := results[0], Integer(5); got != want {
		t.Errorf("2 + 3 = %v; want %v", got, want)
	}
}

func TestInterpTableSetGet(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)
	proto := chunkOf(4,
		[]bytecode.Constant{bytecode.StringConstant("x"), bytecode.IntegerConstant(9)},
		[]bytecode.Instruction{
			bytecode.ABCInstruction(bytecode.OpNewTable, 0, 0, 0),
			bytecode.ABxInstruction(bytecode.OpLoadK, 1, 0), // r1 = "x"
			bytecode.ABxInstruction(bytecode.OpLoadK, 2, 1), // r2 = 9
			bytecode.ABCInstruction(bytecode.OpSetTable, 0, 1, 2),
			bytecode.ABCInstruction(bytecode.OpGetTable, 3, 0, 1),
			bytecode.ABCInstruction(bytecode.OpReturn, 3, 2, 0),
		},
	)

	results := runMainChunk(t, g, proto, env)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d; want 1", len(results))
	}
	if got, want := results[0], Integer(9); got != want {
		t.Errorf("t.x = %v; want %v", got, want)
	}
}

func TestInterpComparisonTakesThenBranch(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)
	proto := chunkOf(3,
		[]bytecode.Constant{
			bytecode.IntegerConstant(1),
			bytecode.IntegerConstant(2),
			bytecode.IntegerConstant(100),
			bytecode.IntegerConstant(200),
		},
		[]bytecode.Instruction{
			bytecode.ABxInstruction(bytecode.OpLoadK, 0, 0), // r0 = 1
			bytecode.ABxInstruction(bytecode.OpLoadK, 1, 1), // r1 = 2
			bytecode.ABCInstruction(bytecode.OpLT, 1, 0, 1), // if (r0<r1) ~= true then pc++
			bytecode.ABxInstruction(bytecode.OpJMP, 0, 1),   // skip the else-branch load
			bytecode.ABxInstruction(bytecode.OpLoadK, 2, 2), // r2 = 100 (else, skipped)
			bytecode.ABxInstruction(bytecode.OpLoadK, 2, 3), // r2 = 200 (then)
			bytecode.ABCInstruction(bytecode.OpReturn, 2, 2, 0),
		},
	)

	results := runMainChunk(t, g, proto, env)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d; want 1", len(results))
	}
	if got, want := results[0], Integer(200); got != want {
		t.Errorf("1 < 2 branch result = %v; want %v (then-branch)", got, want)
	}
}

func TestInterpComparisonTakesElseBranch(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)
	proto := chunkOf(3,
		[]bytecode.Constant{
			bytecode.IntegerConstant(5),
			bytecode.IntegerConstant(2),
			bytecode.IntegerConstant(100),
			bytecode.IntegerConstant(200),
		},
		[]bytecode.Instruction{
			bytecode.ABxInstruction(bytecode.OpLoadK, 0, 0), // r0 = 5
			bytecode.ABxInstruction(bytecode.OpLoadK, 1, 1), // r1 = 2
			bytecode.ABCInstruction(bytecode.OpLT, 1, 0, 1), // (5<2) is false, ~= true -> skip
			bytecode.ABxInstruction(bytecode.OpJMP, 0, 2),   // then-path jump to the then load
			bytecode.ABxInstruction(bytecode.OpLoadK, 2, 2), // r2 = 100 (else)
			bytecode.ABxInstruction(bytecode.OpJMP, 0, 1),   // skip the then-branch load
			bytecode.ABxInstruction(bytecode.OpLoadK, 2, 3), // r2 = 200 (then, skipped)
			bytecode.ABCInstruction(bytecode.OpReturn, 2, 2, 0),
		},
	)

	results := runMainChunk(t, g, proto, env)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d; want 1", len(results))
	}
	if got, want := results[0], Integer(100); got != want {
		t.Errorf("5 < 2 branch result = %v; want %v (else-branch)", got, want)
	}
}

func TestInterpCallGoFunction(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)

	double := &goClosure{
		name: "double",
		fn: func(th *Thread) (int, error) {
			ci := th.current()
			arg := th.stack[ci.base]
			n, ok := arg.(Integer)
			if !ok {
				return 0, newRuntimeError("double: want integer argument")
			}
			th.stack = append(th.stack, Integer(n*2))
			return 1, nil
		},
	}
	g.gc.newObject(double)
	if err := env.Set(g.strings.intern("double"), double); err != nil {
		t.Fatal(err)
	}

	proto := chunkOf(4,
		[]bytecode.Constant{bytecode.StringConstant("double"), bytecode.IntegerConstant(21)},
		[]bytecode.Instruction{
			bytecode.ABCInstruction(bytecode.OpGetTabUp, 0, 0, bytecode.RKAsConstant(0)), // r0 = _ENV.double
			bytecode.ABxInstruction(bytecode.OpLoadK, 1, 1),                              // r1 = 21
			bytecode.ABCInstruction(bytecode.OpCall, 0, 2, 2),                            // r0 = r0(r1)
			bytecode.ABCInstruction(bytecode.OpReturn, 0, 2, 0),
		},
	)

	results := runMainChunk(t, g, proto, env)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d; want 1", len(results))
	}
	if got, want := results[0], Integer(42); got != want {
		t.Errorf("double(21) = %v; want %v", got, want)
	}
}
