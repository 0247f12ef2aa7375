// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"fmt"
	"io"
)

// Disassemble writes a human-readable listing of p and, recursively,
// every nested prototype it contains, in the style of the reference
// `luac -l` tool.
func (p *Prototype) Disassemble(w io.Writer) error {
	return p.disassemble(w, 0)
}

func (p *Prototype) disassemble(w io.Writer, depth int) error {
	name := p.Source
	if name == "" {
		name = "?"
	}
	kind := "function"
	if p.IsMainChunk() {
		kind = "main chunk"
	}
	if _, err := fmt.Fprintf(w, "%s <%s:%d,%d> (%d instructions)\n",
		kind, name, p.LineDefined, p.LastLineDefined, len(p.Code)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%d params, %d stack slots, %d upvalues, %d constants, %d functions\n",
		p.NumParams, p.MaxStackSize, len(p.Upvalues), len(p.Constants), len(p.Functions)); err != nil {
		return err
	}
	for i, instr := range p.Code {
		line := 0
		if p.LineAt != nil {
			line = p.LineAt(i)
		}
		if _, err := fmt.Fprintf(w, "\t%d\t[%d]\t%s\n", i+1, line, instr); err != nil {
			return err
		}
	}
	for i, c := range p.Constants {
		if _, err := fmt.Fprintf(w, "\tconstant %d: %s\n", i, c.GoString()); err != nil {
			return err
		}
	}
	for _, nested := range p.Functions {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		if err := nested.disassemble(w, depth+1); err != nil {
			return err
		}
	}
	return nil
}
