// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

//go:generate stringer -type=OpCode,OpMode -linecomment -output=instruction_string.go

package bytecode

import "fmt"

// Instruction is a single 32-bit virtual machine instruction.
//
// An instruction uses one of three layouts, selected by its [OpCode]'s
// [OpCode.OpMode]:
//
//   - iABC:  op:6 A:8 B:9 C:9
//   - iABx:  op:6 A:8 Bx:18
//   - iAsBx: op:6 A:8 sBx:18 (signed, biased by [offsetBx])
//
// A [OpExtraArg] instruction (op:6 Ax:26) supplies a wider constant or
// list index following [OpLoadKX] and [OpSetList].
type Instruction uint32

const (
	sizeOp  = 6
	sizeA   = 8
	sizeB   = 9
	sizeC   = 9
	sizeBx  = sizeB + sizeC // 18
	sizeAx  = sizeA + sizeBx // 26

	posOp = 0
	posA  = posOp + sizeOp
	posB  = posA + sizeA
	posC  = posB + sizeB
	posBx = posA + sizeA
	// posAx has no separate A field: the Ax operand starts right after the opcode.
	posAx = posOp + sizeOp

	maxArgA  = 1<<sizeA - 1
	maxArgB  = 1<<sizeB - 1
	maxArgC  = 1<<sizeC - 1
	maxArgBx = 1<<sizeBx - 1
	maxArgAx = 1<<sizeAx - 1

	offsetBx = maxArgBx >> 1

	// bitRK is set in a B or C operand to mean "this is a constant index,
	// not a register index" (the "RK" addressing mode).
	bitRK = 1 << (sizeB - 1)
	// maxIndexRK is the largest constant index addressable through RK mode.
	maxIndexRK = bitRK - 1
)

// ABCInstruction returns a new iABC [Instruction].
// It panics if op's [OpCode.OpMode] is not [OpModeABC].
func ABCInstruction(op OpCode, a uint8, b, c uint16) Instruction {
	if op.OpMode() != OpModeABC {
		panic("ABCInstruction with invalid OpCode")
	}
	return Instruction(op)<<posOp |
		Instruction(a)<<posA |
		Instruction(b&maxArgB)<<posB |
		Instruction(c&maxArgC)<<posC
}

// ABxInstruction returns a new iABx or iAsBx [Instruction], depending on
// op's [OpCode.OpMode]. For iAsBx, bx is the signed offset before biasing.
func ABxInstruction(op OpCode, a uint8, bx int32) Instruction {
	switch op.OpMode() {
	case OpModeABx:
		if bx < 0 || bx > maxArgBx {
			panic("Bx argument out of range")
		}
		return Instruction(op)<<posOp | Instruction(a)<<posA | Instruction(bx)<<posBx
	case OpModeAsBx:
		biased := bx + offsetBx
		if biased < 0 || biased > maxArgBx {
			panic("sBx argument out of range")
		}
		return Instruction(op)<<posOp | Instruction(a)<<posA | Instruction(biased)<<posBx
	default:
		panic("ABxInstruction with invalid OpCode")
	}
}

// ExtraArgument returns an [OpExtraArg] instruction carrying ax.
func ExtraArgument(ax uint32) Instruction {
	if ax > maxArgAx {
		panic("ExtraArgument argument out of range")
	}
	return Instruction(OpExtraArg)<<posOp | Instruction(ax)<<posAx
}

// OpCode returns the instruction's opcode.
func (i Instruction) OpCode() OpCode {
	return OpCode(i >> posOp & (1<<sizeOp - 1))
}

// ArgA returns the A operand, present in every layout but [OpModeAx].
func (i Instruction) ArgA() uint8 {
	return uint8(i >> posA)
}

// ArgB returns the raw B operand of an iABC instruction, including its RK bit.
func (i Instruction) ArgB() uint16 {
	return uint16(i>>posB) & maxArgB
}

// ArgC returns the raw C operand of an iABC instruction, including its RK bit.
func (i Instruction) ArgC() uint16 {
	return uint16(i>>posC) & maxArgC
}

// ArgBx returns the unsigned Bx operand of an iABx instruction.
func (i Instruction) ArgBx() uint32 {
	return uint32(i>>posBx) & maxArgBx
}

// ArgSBx returns the signed, unbiased Bx operand of an iAsBx instruction.
func (i Instruction) ArgSBx() int32 {
	return int32(i.ArgBx()) - offsetBx
}

// ArgAx returns the operand of an [OpExtraArg] instruction.
func (i Instruction) ArgAx() uint32 {
	return uint32(i>>posAx) & maxArgAx
}

// IsConstantB reports whether ArgB addresses the constant table rather
// than a register ("RK" mode).
func (i Instruction) IsConstantB() bool {
	return i.ArgB()&bitRK != 0
}

// IsConstantC reports whether ArgC addresses the constant table rather
// than a register ("RK" mode).
func (i Instruction) IsConstantC() bool {
	return i.ArgC()&bitRK != 0
}

// IndexB returns ArgB's index, stripped of its RK bit.
func (i Instruction) IndexB() uint16 {
	return i.ArgB() &^ bitRK
}

// IndexC returns ArgC's index, stripped of its RK bit.
func (i Instruction) IndexC() uint16 {
	return i.ArgC() &^ bitRK
}

// RKAsConstant encodes a constant table index for a B or C operand in RK mode.
// It panics if k does not fit in [maxIndexRK].
func RKAsConstant(k int) uint16 {
	if k < 0 || k > maxIndexRK {
		panic("constant index out of range for RK operand")
	}
	return uint16(k) | bitRK
}

// String formats i for disassembly listings, e.g. "ADD        1 R(2) K(0)":
// the mnemonic padded to ten columns, then the operands, with RK operands
// shown as R(n) or K(n).
func (i Instruction) String() string {
	op := i.OpCode()
	switch op.OpMode() {
	case OpModeABC:
		return fmt.Sprintf("%-10s %d %s %s", op, i.ArgA(), rkString(i.ArgB()), rkString(i.ArgC()))
	case OpModeABx:
		return fmt.Sprintf("%-10s %d %d", op, i.ArgA(), i.ArgBx())
	case OpModeAsBx:
		return fmt.Sprintf("%-10s %d %d", op, i.ArgA(), i.ArgSBx())
	case OpModeAx:
		return fmt.Sprintf("%-10s %d", op, i.ArgAx())
	default:
		return fmt.Sprintf("%-10s ?", op)
	}
}

func rkString(arg uint16) string {
	if arg&bitRK != 0 {
		return fmt.Sprintf("K(%d)", arg&^bitRK)
	}
	return fmt.Sprintf("R(%d)", arg)
}
