// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import "witchlight.dev/luavm/internal/bytecode"

// GoFunction is a function implemented in Go and callable from Lua. It
// receives its arguments already pushed on the thread's stack (see
// [Thread.Top]) and returns values the same way, returning the count of
// results pushed, or an error to propagate as a Lua error.
type GoFunction func(th *Thread) (int, error)

// upvalue is a single captured variable, open (pointing into a live stack
// slot) or closed (owning its value inline). Multiple closures sharing the
// same lexical variable share the same *upvalue, per spec §3.
//
// Open upvalues are kept on a thread's open list in descending stack-index
// order (spec §6, invariant), so the upvalues a closeUpvalues call closes
// always form a prefix of the list; closeUpvalues still walks the whole
// list.
type upvalue struct {
	gcHeader
	thread   *Thread // owning thread while open; nil once closed
	index    int     // stack slot while open
	closed   Value   // storage while closed
	refcount int      // closures currently referencing this upvalue
}

func (uv *upvalue) typeName() string { return "upvalue" }

func (uv *upvalue) isOpen() bool { return uv.thread != nil }

func (uv *upvalue) get() Value {
	if uv.isOpen() {
		return uv.thread.stack[uv.index]
	}
	return uv.closed
}

func (uv *upvalue) set(v Value) {
	if uv.isOpen() {
		uv.thread.stack[uv.index] = v
		return
	}
	uv.closed = v
}

// close detaches the upvalue from the stack, copying its current value
// inline. Called when the owning stack frame returns or a block exits
// past the upvalue's slot (OpClose / OpReturn).
func (uv *upvalue) close() {
	if !uv.isOpen() {
		return
	}
	uv.closed = uv.thread.stack[uv.index]
	uv.thread = nil
	uv.index = -1
}

// findOpenUpvalue returns the existing open upvalue for stack slot index,
// or creates and links one. The thread's open list is kept sorted by
// descending index so new insertions and closeUpvalues both run in a
// single linear pass.
func (th *Thread) findOpenUpvalue(index int) *upvalue {
	for i, uv := range th.openUpvalues {
		if uv.index == index {
			return uv
		}
		if uv.index < index {
			uv = &upvalue{thread: th, index: index}
			th.openUpvalues = append(th.openUpvalues, nil)
			copy(th.openUpvalues[i+1:], th.openUpvalues[i:])
			th.openUpvalues[i] = uv
			return uv
		}
	}
	uv := &upvalue{thread: th, index: index}
	th.openUpvalues = append(th.openUpvalues, uv)
	return uv
}

// closeUpvalues closes every open upvalue at or above the given stack
// index, in descending order, removing them from the thread's open list.
func (th *Thread) closeUpvalues(bottom int) {
	n := 0
	for _, uv := range th.openUpvalues {
		if uv.index >= bottom {
			uv.close()
		} else {
			th.openUpvalues[n] = uv
			n++
		}
	}
	clear(th.openUpvalues[n:])
	th.openUpvalues = th.openUpvalues[:n]
}

// luaClosure is a closure over a compiled [bytecode.Prototype].
type luaClosure struct {
	gcHeader
	proto    *bytecode.Prototype
	upvalues []*upvalue
}

func (c *luaClosure) typeName() string { return "function" }

// goClosure is a closure over a [GoFunction], carrying inline tagged
// upvalues rather than stack-linked ones (the reference implementation's
// "C closure"); a GoFunction with zero upvalues is the "light C function"
// case and needs no allocation distinct from any other goClosure here,
// since Go closures are already cheap pointers.
type goClosure struct {
	gcHeader
	fn       GoFunction
	name     string
	upvalues []Value
}

func (c *goClosure) typeName() string { return "function" }

// LoadMainChunk wraps a compiler-emitted main chunk (no enclosing
// function) into a registered Lua closure ready to [Thread.Call], binding
// each of its upvalues — by convention just `_ENV` at index 0 — directly
// to env rather than resolving them against a caller's frame.
func (g *GlobalState) LoadMainChunk(proto *bytecode.Prototype, env Value) Value {
	c := &luaClosure{proto: proto, upvalues: make([]*upvalue, len(proto.Upvalues))}
	for i := range proto.Upvalues {
		c.upvalues[i] = &upvalue{closed: env, refcount: 1}
	}
	g.gc.newObject(c)
	return c
}

// newLuaClosure allocates a closure over proto whose upvalues are resolved
// per the UpvalueDescriptor table (spec §6, OpClosure): an in-stack
// descriptor shares the open upvalue on that register of the enclosing
// frame (creating one if none is open), and any other descriptor shares
// the enclosing closure's upvalue at that index.
func newLuaClosure(proto *bytecode.Prototype, enclosing *callInfo, th *Thread) *luaClosure {
	c := &luaClosure{proto: proto, upvalues: make([]*upvalue, len(proto.Upvalues))}
	for i, desc := range proto.Upvalues {
		if desc.InStack {
			c.upvalues[i] = th.findOpenUpvalue(enclosing.base + int(desc.Index))
		} else {
			c.upvalues[i] = enclosing.closure.upvalues[desc.Index]
		}
		c.upvalues[i].refcount++
	}
	return c
}
