// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

// UpvalueDescriptor tells a [OpClosure] instruction where to find the
// storage for one of a nested prototype's upvalues: either a register in
// the enclosing function's own frame (InStack) or one of the enclosing
// function's own upvalues.
type UpvalueDescriptor struct {
	Name    string
	InStack bool
	Index   uint8
}

// LocalVariable is debug information describing the lexical extent of a
// named local register.
type LocalVariable struct {
	Name    string
	StartPC int
	EndPC   int
}

// Prototype is a compiled function body, as produced by a compiler external
// to this module and ingested by the interpreter. See spec §6.
type Prototype struct {
	Source          string
	LineDefined     int
	LastLineDefined int

	NumParams    uint8
	IsVararg     bool
	MaxStackSize uint8

	Code      []Instruction
	Constants []Constant
	Functions []*Prototype
	Upvalues  []UpvalueDescriptor

	// LocalVariables is debug info only: the interpreter does not consult
	// it to execute code, only to name registers in error messages.
	LocalVariables []LocalVariable
	// LineAt maps an instruction index to a source line, or returns 0 if
	// absent. May be nil if debug info was stripped.
	LineAt func(pc int) int
}

// IsMainChunk reports whether the prototype is the top-level chunk of a
// source file, as opposed to a nested function literal.
func (p *Prototype) IsMainChunk() bool {
	return p.LineDefined == 0
}

// LocalName returns the name of the local variable occupying register reg
// at the given program counter, or "" if no debug info covers it.
func (p *Prototype) LocalName(reg uint8, pc int) string {
	for _, v := range p.LocalVariables {
		if v.StartPC <= pc && pc < v.EndPC {
			if reg == 0 {
				return v.Name
			}
			reg--
		}
	}
	return ""
}

// StripDebug returns a copy of p with debug information removed, matching
// the effect of a `luac -s`-style strip on the ingestion side.
func (p *Prototype) StripDebug() *Prototype {
	p2 := new(Prototype)
	*p2 = *p
	p2.Source = ""
	p2.LocalVariables = nil
	p2.LineAt = nil
	if len(p.Functions) > 0 {
		p2.Functions = make([]*Prototype, len(p.Functions))
		for i, f := range p.Functions {
			p2.Functions[i] = f.StripDebug()
		}
	}
	return p2
}
