// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Signature is the magic header of a compiled chunk written by [WriteTo].
//
// The spec explicitly leaves the persistent bytecode format unspecified
// (§2 Non-goals); this is this module's own on-disk shape for carrying a
// [Prototype] between the (external) compiler and this interpreter, not an
// attempt to match the reference implementation's luac.out byte layout.
const Signature = "\x00lvmc"

const formatVersion uint8 = 1

// WriteTo writes p and its nested prototypes to w in this module's compiled
// chunk format.
func (p *Prototype) WriteTo(w io.Writer) (int64, error) {
	bw := &bytewriter{w: bufio.NewWriter(w)}
	bw.bytes([]byte(Signature))
	bw.u8(formatVersion)
	bw.prototype(p)
	if err := bw.w.Flush(); err != nil {
		bw.err = err
	}
	return bw.n, bw.err
}

// ReadPrototype reads a compiled chunk previously written by
// [*Prototype.WriteTo].
func ReadPrototype(r io.Reader) (*Prototype, error) {
	br := &bytereader{r: bufio.NewReader(r)}
	sig := br.bytes(len(Signature))
	if br.err == nil && string(sig) != Signature {
		return nil, fmt.Errorf("bytecode: read prototype: bad signature")
	}
	version := br.u8()
	if br.err == nil && version != formatVersion {
		return nil, fmt.Errorf("bytecode: read prototype: unsupported format version %d", version)
	}
	p := br.prototype()
	if br.err != nil {
		return nil, fmt.Errorf("bytecode: read prototype: %w", br.err)
	}
	return p, nil
}

type bytewriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (bw *bytewriter) bytes(b []byte) {
	if bw.err != nil {
		return
	}
	n, err := bw.w.Write(b)
	bw.n += int64(n)
	bw.err = err
}

func (bw *bytewriter) u8(v uint8)   { bw.bytes([]byte{v}) }
func (bw *bytewriter) u8bool(v bool) {
	if v {
		bw.u8(1)
	} else {
		bw.u8(0)
	}
}

func (bw *bytewriter) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	bw.bytes(buf[:])
}

func (bw *bytewriter) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	bw.bytes(buf[:])
}

func (bw *bytewriter) i64(v int64)     { bw.u64(uint64(v)) }
func (bw *bytewriter) f64(v float64)   { bw.u64(math.Float64bits(v)) }

func (bw *bytewriter) str(s string) {
	bw.u32(uint32(len(s)))
	bw.bytes([]byte(s))
}

func (bw *bytewriter) instruction(i Instruction) { bw.u32(uint32(i)) }

func (bw *bytewriter) constant(c Constant) {
	bw.u8(uint8(c.kind))
	switch c.kind {
	case constantBoolean, constantInteger:
		bw.i64(c.i)
	case constantFloat:
		bw.f64(c.f)
	case constantString:
		bw.str(c.s)
	}
}

func (bw *bytewriter) prototype(p *Prototype) {
	bw.str(p.Source)
	bw.u32(uint32(p.LineDefined))
	bw.u32(uint32(p.LastLineDefined))
	bw.u8(p.NumParams)
	bw.u8bool(p.IsVararg)
	bw.u8(p.MaxStackSize)

	bw.u32(uint32(len(p.Code)))
	for _, i := range p.Code {
		bw.instruction(i)
	}
	bw.u32(uint32(len(p.Constants)))
	for _, c := range p.Constants {
		bw.constant(c)
	}
	bw.u32(uint32(len(p.Upvalues)))
	for _, uv := range p.Upvalues {
		bw.str(uv.Name)
		bw.u8bool(uv.InStack)
		bw.u8(uv.Index)
	}
	bw.u32(uint32(len(p.Functions)))
	for _, f := range p.Functions {
		bw.prototype(f)
	}
}

type bytereader struct {
	r   *bufio.Reader
	err error
}

func (br *bytereader) bytes(n int) []byte {
	if br.err != nil {
		return nil
	}
	buf := make([]byte, n)
	_, br.err = io.ReadFull(br.r, buf)
	return buf
}

func (br *bytereader) u8() uint8 {
	b := br.bytes(1)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func (br *bytereader) u8bool() bool { return br.u8() != 0 }

func (br *bytereader) u32() uint32 {
	b := br.bytes(4)
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (br *bytereader) u64() uint64 {
	b := br.bytes(8)
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (br *bytereader) i64() int64   { return int64(br.u64()) }
func (br *bytereader) f64() float64 { return math.Float64frombits(br.u64()) }

func (br *bytereader) str() string {
	n := br.u32()
	return string(br.bytes(int(n)))
}

func (br *bytereader) instruction() Instruction { return Instruction(br.u32()) }

func (br *bytereader) constant() Constant {
	kind := constantKind(br.u8())
	switch kind {
	case constantBoolean:
		return BooleanConstant(br.i64() != 0)
	case constantInteger:
		return IntegerConstant(br.i64())
	case constantFloat:
		return FloatConstant(br.f64())
	case constantString:
		return StringConstant(br.str())
	default:
		return NilConstant
	}
}

func (br *bytereader) prototype() *Prototype {
	if br.err != nil {
		return nil
	}
	p := &Prototype{
		Source:          br.str(),
		LineDefined:     int(br.u32()),
		LastLineDefined: int(br.u32()),
		NumParams:       br.u8(),
		IsVararg:        br.u8bool(),
		MaxStackSize:    br.u8(),
	}
	if n := br.u32(); n > 0 {
		p.Code = make([]Instruction, n)
	}
	for i := range p.Code {
		p.Code[i] = br.instruction()
	}
	if n := br.u32(); n > 0 {
		p.Constants = make([]Constant, n)
	}
	for i := range p.Constants {
		p.Constants[i] = br.constant()
	}
	if n := br.u32(); n > 0 {
		p.Upvalues = make([]UpvalueDescriptor, n)
	}
	for i := range p.Upvalues {
		p.Upvalues[i] = UpvalueDescriptor{
			Name:    br.str(),
			InStack: br.u8bool(),
			Index:   br.u8(),
		}
	}
	if n := br.u32(); n > 0 {
		p.Functions = make([]*Prototype, n)
	}
	for i := range p.Functions {
		p.Functions[i] = br.prototype()
	}
	if br.err != nil {
		return nil
	}
	return p
}
