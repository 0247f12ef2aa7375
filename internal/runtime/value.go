// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import (
	"fmt"
	"math"
)

// Value is a Lua value as held in a register, an upvalue, a table slot, or
// passed across a call boundary. The reference implementation packs this
// into a tagged union; a Go port represents the same discrimination with an
// interface, per the spec's own note that this is the idiomatic shape here.
//
// The concrete types implementing Value are: [None] (the nil value),
// Boolean, Integer, Float, LightUserdata, and the pointer-shaped *stringObj,
// *table, *luaClosure, *goClosure, *userdataObj, and *Thread.
type Value interface {
	typeName() string
}

// None is the nil value. Lua's nil has exactly one representation, unlike
// the concrete numeric and boolean kinds below.
type None struct{}

func (None) typeName() string { return "nil" }

// Boolean is a Lua boolean.
type Boolean bool

func (Boolean) typeName() string { return "boolean" }

// Integer is a Lua integer, a signed 64-bit value distinct from [Float].
type Integer int64

func (Integer) typeName() string { return "number" }

// Float is a Lua floating-point number.
type Float float64

func (Float) typeName() string { return "number" }

// LightUserdata is an uncollectable opaque pointer value, compared by
// identity and carrying no metatable of its own.
type LightUserdata struct {
	Pointer any
}

func (LightUserdata) typeName() string { return "userdata" }

// IsNone reports whether v is the nil value.
func IsNone(v Value) bool {
	_, ok := v.(None)
	return ok
}

// Truthy implements Lua's truthiness rule: every value is true except nil
// and false.
func Truthy(v Value) bool {
	switch v := v.(type) {
	case None:
		return false
	case Boolean:
		return bool(v)
	default:
		return true
	}
}

// TypeName returns the Lua type name of v, as reported by the `type`
// builtin and used in error messages.
func TypeName(v Value) string {
	if v == nil {
		return "no value"
	}
	switch v := v.(type) {
	case *userdataObj:
		return "userdata"
	case *stringObj:
		return "string"
	case *table:
		return "table"
	case *luaClosure, *goClosure:
		return "function"
	case *Thread:
		return "thread"
	default:
		return v.typeName()
	}
}

// RawEqual implements primitive equality (the `==` operator without
// consulting the __eq metamethod): numbers compare by mathematical value
// across Integer/Float, strings by content, everything else by identity.
func RawEqual(a, b Value) bool {
	switch a := a.(type) {
	case None:
		_, ok := b.(None)
		return ok
	case Boolean:
		bb, ok := b.(Boolean)
		return ok && a == bb
	case Integer:
		switch b := b.(type) {
		case Integer:
			return a == b
		case Float:
			return float64(a) == float64(b) && !math.IsNaN(float64(b))
		default:
			return false
		}
	case Float:
		switch b := b.(type) {
		case Integer:
			return float64(a) == float64(b)
		case Float:
			return a == b
		default:
			return false
		}
	case LightUserdata:
		bb, ok := b.(LightUserdata)
		return ok && a.Pointer == bb.Pointer
	case *stringObj:
		bb, ok := b.(*stringObj)
		return ok && a.s == bb.s
	default:
		return a == b
	}
}

// ToString formats v the way `tostring` does for values without a
// __tostring metamethod: strings and numbers render their content,
// everything else renders as "type: address".
func ToString(v Value) string {
	switch v := v.(type) {
	case None:
		return "nil"
	case Boolean:
		if v {
			return "true"
		}
		return "false"
	case Integer:
		return fmt.Sprintf("%d", int64(v))
	case Float:
		return formatFloat(float64(v))
	case *stringObj:
		return v.s
	default:
		return fmt.Sprintf("%s: %p", TypeName(v), v)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		s := fmt.Sprintf("%.14g", f)
		for _, c := range s {
			if c == '.' || c == 'e' || c == 'n' || c == 'i' {
				return s
			}
		}
		return s + ".0"
	}
}
