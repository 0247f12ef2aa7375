// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

//go:generate stringer -type=TagMethod -linecomment -output=tagmethod_string.go

package bytecode

// TagMethod enumerates the built-in metamethod events (see spec §4.7).
type TagMethod uint8

// Metamethod events. Index, NewIndex, GC, Mode, Len, and EQ are the "fast
// six" that a [Instruction]-driven table caches as known-absent.
const (
	TagMethodIndex    TagMethod = iota // __index
	TagMethodNewIndex                  // __newindex
	TagMethodGC                        // __gc
	TagMethodMode                      // __mode
	TagMethodLen                       // __len
	TagMethodEQ                        // __eq

	TagMethodAdd    // __add
	TagMethodSub    // __sub
	TagMethodMul    // __mul
	TagMethodMod    // __mod
	TagMethodPow    // __pow
	TagMethodDiv    // __div
	TagMethodIDiv   // __idiv
	TagMethodBAnd   // __band
	TagMethodBOr    // __bor
	TagMethodBXor   // __bxor
	TagMethodSHL    // __shl
	TagMethodSHR    // __shr
	TagMethodUNM    // __unm
	TagMethodBNot   // __bnot
	TagMethodLT     // __lt
	TagMethodLE     // __le
	TagMethodConcat // __concat
	TagMethodCall   // __call
	TagMethodClose  // __close

	NumTagMethods
)

// NumFastTagMethods is the number of metamethods eligible for a table's
// known-absent bitmask cache (§4.7).
const NumFastTagMethods = int(TagMethodEQ) + 1

var tagMethodNames = [NumTagMethods]string{
	TagMethodIndex: "__index", TagMethodNewIndex: "__newindex", TagMethodGC: "__gc",
	TagMethodMode: "__mode", TagMethodLen: "__len", TagMethodEQ: "__eq",
	TagMethodAdd: "__add", TagMethodSub: "__sub", TagMethodMul: "__mul",
	TagMethodMod: "__mod", TagMethodPow: "__pow", TagMethodDiv: "__div",
	TagMethodIDiv: "__idiv", TagMethodBAnd: "__band", TagMethodBOr: "__bor",
	TagMethodBXor: "__bxor", TagMethodSHL: "__shl", TagMethodSHR: "__shr",
	TagMethodUNM: "__unm", TagMethodBNot: "__bnot", TagMethodLT: "__lt",
	TagMethodLE: "__le", TagMethodConcat: "__concat", TagMethodCall: "__call",
	TagMethodClose: "__close",
}

// String returns the metatable field name for tm, e.g. "__index".
func (tm TagMethod) String() string {
	if tm >= NumTagMethods {
		return "TagMethod(?)"
	}
	return tagMethodNames[tm]
}

// opTagMethod maps an arithmetic/bitwise [OpCode] to its fallback metamethod.
var opTagMethod = map[OpCode]TagMethod{
	OpAdd: TagMethodAdd, OpSub: TagMethodSub, OpMul: TagMethodMul,
	OpMod: TagMethodMod, OpPow: TagMethodPow, OpDiv: TagMethodDiv,
	OpIDiv: TagMethodIDiv, OpBAnd: TagMethodBAnd, OpBOr: TagMethodBOr,
	OpBXor: TagMethodBXor, OpSHL: TagMethodSHL, OpSHR: TagMethodSHR,
	OpUNM: TagMethodUNM, OpBNot: TagMethodBNot, OpConcat: TagMethodConcat,
}

// TagMethodForArith returns the metamethod associated with an arithmetic or
// bitwise opcode, if any.
func TagMethodForArith(op OpCode) (TagMethod, bool) {
	tm, ok := opTagMethod[op]
	return tm, ok
}
