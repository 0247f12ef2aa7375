// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import (
	"fmt"
	"math"

	"witchlight.dev/luavm/internal/bytecode"
)

// toNumber attempts the numeric coercion Lua performs for arithmetic
// operands: numbers pass through, strings convertible to a number are
// parsed (spec §7 User-visible behavior: "arithmetic on convertible
// strings is attempted transparently").
func toNumber(v Value) (Value, bool) {
	switch v := v.(type) {
	case Integer, Float:
		return v, true
	case *stringObj:
		return parseNumber(v.s)
	default:
		return nil, false
	}
}

func parseNumber(s string) (Value, bool) {
	s = trimSpace(s)
	if s == "" {
		return nil, false
	}
	if i, ok := parseInteger(s); ok {
		return Integer(i), true
	}
	var f float64
	n, err := fmt.Sscanf(s, "%g", &f)
	if err != nil || n != 1 {
		return nil, false
	}
	return Float(f), true
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && isSpace(s[i]) {
		i++
	}
	for j > i && isSpace(s[j-1]) {
		j--
	}
	return s[i:j]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func parseInteger(s string) (int64, bool) {
	neg := false
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	if i >= len(s) {
		return 0, false
	}
	var v uint64
	for ; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
	}
	if neg {
		return -int64(v), true
	}
	return int64(v), true
}

// toInteger coerces v to an [Integer], following Lua 5.3's requirement
// that a Float argument have no fractional part.
func toInteger(v Value) (Integer, bool) {
	switch v := v.(type) {
	case Integer:
		return v, true
	case Float:
		i := Integer(v)
		if Float(i) == v && !math.IsInf(float64(v), 0) {
			return i, true
		}
		return 0, false
	case *stringObj:
		n, ok := parseNumber(v.s)
		if !ok {
			return 0, false
		}
		return toInteger(n)
	default:
		return 0, false
	}
}

// floorDivInt implements Lua's `//` on two integers: floored, not
// truncated, division.
func floorDivInt(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// modInt implements Lua's `%` on two integers: the result has the sign of
// the divisor (floored modulo), matching `a - floor(a/b)*b`.
func modInt(a, b int64) int64 {
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

func modFloat(a, b float64) float64 {
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// shiftLeft implements Lua's `<<`, which treats a negative shift count as
// a right shift, and any shift of 64 or more bits as producing zero.
func shiftLeft(a int64, n int64) int64 {
	if n <= -64 || n >= 64 {
		return 0
	}
	if n >= 0 {
		return int64(uint64(a) << uint(n))
	}
	return int64(uint64(a) >> uint(-n))
}

func shiftRight(a int64, n int64) int64 { return shiftLeft(a, -n) }

// arith evaluates one arithmetic or bitwise opcode over two operands,
// coercing them with toNumber itself, returning the result or false if
// the operator needs metamethod dispatch (operand not a number, or a
// bitwise op on a non-integral float) or is an integer % or // by zero.
func arith(op bytecode.OpCode, a, b Value) (Value, bool) {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if !aok || !bok {
		return nil, false
	}
	switch op {
	case bytecode.OpBAnd, bytecode.OpBOr, bytecode.OpBXor, bytecode.OpSHL, bytecode.OpSHR, bytecode.OpBNot:
		ai, aok := toInteger(an)
		bi, bok := toInteger(bn)
		if !aok || (op != bytecode.OpBNot && !bok) {
			return nil, false
		}
		switch op {
		case bytecode.OpBAnd:
			return Integer(int64(ai) & int64(bi)), true
		case bytecode.OpBOr:
			return Integer(int64(ai) | int64(bi)), true
		case bytecode.OpBXor:
			return Integer(int64(ai) ^ int64(bi)), true
		case bytecode.OpSHL:
			return Integer(shiftLeft(int64(ai), int64(bi))), true
		case bytecode.OpSHR:
			return Integer(shiftRight(int64(ai), int64(bi))), true
		case bytecode.OpBNot:
			return Integer(^int64(ai)), true
		}
	}
	ai, aIsInt := an.(Integer)
	bi, bIsInt := bn.(Integer)
	if aIsInt && bIsInt {
		switch op {
		case bytecode.OpAdd:
			return Integer(int64(ai) + int64(bi)), true
		case bytecode.OpSub:
			return Integer(int64(ai) - int64(bi)), true
		case bytecode.OpMul:
			return Integer(int64(ai) * int64(bi)), true
		case bytecode.OpMod:
			if bi == 0 {
				return nil, false
			}
			return Integer(modInt(int64(ai), int64(bi))), true
		case bytecode.OpIDiv:
			if bi == 0 {
				return nil, false
			}
			return Integer(floorDivInt(int64(ai), int64(bi))), true
		case bytecode.OpUNM:
			return Integer(-int64(ai)), true
		}
	}
	af, bf := toFloat(an), toFloat(bn)
	switch op {
	case bytecode.OpAdd:
		return Float(af + bf), true
	case bytecode.OpSub:
		return Float(af - bf), true
	case bytecode.OpMul:
		return Float(af * bf), true
	case bytecode.OpDiv:
		return Float(af / bf), true
	case bytecode.OpMod:
		return Float(modFloat(af, bf)), true
	case bytecode.OpIDiv:
		return Float(math.Floor(af / bf)), true
	case bytecode.OpPow:
		return Float(math.Pow(af, bf)), true
	case bytecode.OpUNM:
		return Float(-af), true
	}
	return nil, false
}

func toFloat(v Value) float64 {
	switch v := v.(type) {
	case Integer:
		return float64(v)
	case Float:
		return float64(v)
	default:
		return 0
	}
}
