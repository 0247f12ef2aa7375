// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"fmt"
	"math"
)

// constantKind discriminates the literal kinds a [Constant] can hold.
type constantKind uint8

const (
	constantNil constantKind = iota
	constantBoolean
	constantInteger
	constantFloat
	constantString
)

// Constant is a compile-time literal stored in a [Prototype]'s constant
// table. Unlike the runtime's tagged value, a Constant can never be
// collectable: strings are the only heap-shaped constant, and the runtime
// interns them into its own string objects on load.
type Constant struct {
	kind constantKind
	i    int64
	f    float64
	s    string
}

// NilConstant is the nil literal.
var NilConstant = Constant{kind: constantNil}

// BooleanConstant returns a boolean literal.
func BooleanConstant(b bool) Constant {
	c := Constant{kind: constantBoolean}
	if b {
		c.i = 1
	}
	return c
}

// IntegerConstant returns an integer literal.
func IntegerConstant(i int64) Constant {
	return Constant{kind: constantInteger, i: i}
}

// FloatConstant returns a floating-point literal.
func FloatConstant(f float64) Constant {
	return Constant{kind: constantFloat, f: f}
}

// StringConstant returns a string literal.
func StringConstant(s string) Constant {
	return Constant{kind: constantString, s: s}
}

// IsNil reports whether c is the nil literal.
func (c Constant) IsNil() bool { return c.kind == constantNil }

// Bool returns c's boolean value, if c holds one.
func (c Constant) Bool() (_ bool, ok bool) {
	return c.i != 0, c.kind == constantBoolean
}

// Int64 returns c's integer value, if c holds one.
func (c Constant) Int64() (_ int64, ok bool) {
	return c.i, c.kind == constantInteger
}

// Float64 returns c's float value, if c holds one.
func (c Constant) Float64() (_ float64, ok bool) {
	return c.f, c.kind == constantFloat
}

// String returns c's string value, if c holds one.
func (c Constant) String() (_ string, ok bool) {
	return c.s, c.kind == constantString
}

// GoString renders c for disassembly listings.
func (c Constant) GoString() string {
	switch c.kind {
	case constantNil:
		return "nil"
	case constantBoolean:
		b, _ := c.Bool()
		return fmt.Sprint(b)
	case constantInteger:
		return fmt.Sprintf("%d", c.i)
	case constantFloat:
		if math.IsInf(c.f, 0) || math.IsNaN(c.f) {
			return fmt.Sprint(c.f)
		}
		return fmt.Sprintf("%g", c.f)
	case constantString:
		return fmt.Sprintf("%q", c.s)
	default:
		return "?"
	}
}
