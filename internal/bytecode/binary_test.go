// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleChunk() *Prototype {
	return &Prototype{
		Source:          "sample.lua",
		LineDefined:     0,
		LastLineDefined: 3,
		NumParams:       1,
		IsVararg:        true,
		MaxStackSize:    4,
		Code: []Instruction{
			ABxInstruction(OpLoadK, 0, 0),
			ABCInstruction(OpAdd, 1, 0, 0),
			ABCInstruction(OpReturn, 1, 2, 0),
		},
		Constants: []Constant{
			IntegerConstant(7),
			FloatConstant(2.5),
			StringConstant("hi"),
			BooleanConstant(true),
			NilConstant,
		},
		Upvalues: []UpvalueDescriptor{
			{Name: "_ENV", InStack: true, Index: 0},
		},
		Functions: []*Prototype{
			{
				Source:       "sample.lua",
				LineDefined:  1,
				MaxStackSize: 2,
				Code: []Instruction{
					ABCInstruction(OpReturn, 0, 1, 0),
				},
			},
		},
	}
}

func TestPrototypeRoundTrip(t *testing.T) {
	p := sampleChunk()

	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	got, err := ReadPrototype(&buf)
	if err != nil {
		t.Fatal(err)
	}

	// LineAt is a func value with no meaningful equality; exclude it and
	// compare everything else the format actually round-trips.
	opts := cmp.Comparer(func(a, b Constant) bool {
		return a.GoString() == b.GoString()
	})
	if diff := cmp.Diff(p, got, opts,
		cmp.Comparer(func(a, b func(int) int) bool { return true }),
	); diff != "" {
		t.Errorf("round trip changed the prototype (-want +got):\n%s", diff)
	}
}

func TestReadPrototypeRejectsBadSignature(t *testing.T) {
	buf := bytes.NewBufferString("not a chunk")
	if _, err := ReadPrototype(buf); err == nil {
		t.Error("ReadPrototype on garbage input = <nil> error; want an error")
	}
}

func TestReadPrototypeRejectsTruncatedInput(t *testing.T) {
	p := sampleChunk()
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-4]
	if _, err := ReadPrototype(bytes.NewReader(truncated)); err == nil {
		t.Error("ReadPrototype on truncated input = <nil> error; want an error")
	}
}
