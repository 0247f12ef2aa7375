// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import "github.com/google/uuid"

// GlobalState is the data shared by every [Thread] created under one VM
// instance: the registry, per-basic-type metatables, the collector's own
// bookkeeping lists, the interned string table, and collector tuning
// parameters (spec §3, Global state).
//
// A GlobalState and the threads registered to it are not safe for
// concurrent use from multiple goroutines; spec §5 Scheduling requires
// each VM state be driven by exactly one goroutine at a time. Running many
// independent GlobalStates across goroutines is fine and is how
// [witchlight.dev/luavm/cmd/luavm] parallelizes multi-script runs.
type GlobalState struct {
	id       uuid.UUID
	registry *table
	main     *Thread

	metatables [numBasicTypes]*table

	strings *stringTable
	gc      gcState

	panicHandler func(th *Thread, v Value)
}

// basicType indexes [GlobalState.metatables]; every value of a given basic
// type shares one metatable unless it is a table or userdata, which carry
// their own.
type basicType uint8

const (
	basicNil basicType = iota
	basicBoolean
	basicNumber
	basicString
	basicFunction
	basicUserdata
	basicThread
	basicTable
	numBasicTypes
)

func basicTypeOf(v Value) basicType {
	switch v.(type) {
	case None:
		return basicNil
	case Boolean:
		return basicBoolean
	case Integer, Float:
		return basicNumber
	case *stringObj:
		return basicString
	case *luaClosure, *goClosure:
		return basicFunction
	case *userdataObj:
		return basicUserdata
	case *Thread:
		return basicThread
	case *table:
		return basicTable
	default:
		return numBasicTypes
	}
}

// NewState creates a fresh VM instance with an empty registry, a main
// thread, and the collector paused in its initial pause phase.
func NewState() *GlobalState {
	g := &GlobalState{
		id:       uuid.New(),
		registry: newTable(),
		strings:  newStringTable(),
	}
	g.gc = newGCState(g)
	g.gc.newObject(g.registry)
	g.main = newThread(g)
	g.gc.newObject(g.main)
	return g
}

// MainThread returns the state's original thread, created alongside the
// state itself.
func (g *GlobalState) MainThread() *Thread { return g.main }

// ID returns the identifier assigned to g at creation, for correlating log
// lines across concurrently running states (see cmd/luavm's errgroup fan-out
// in run.go and the startup log line in serve.go).
func (g *GlobalState) ID() uuid.UUID { return g.id }

// GCStats is a point-in-time snapshot of the collector's bookkeeping,
// exposed for introspection (`cmd/luavm serve`'s /gc endpoint, the REPL's
// `stats` command). It reports the phase, the debt and the worklist sizes;
// it carries no counts of the allgc/finobj/tobefnz/fixedgc lists.
type GCStats struct {
	Phase     string
	Debt      int64
	GrayLen   int
	GrayAgain int
	WeakLen   int
	Ephemeron int
	AllWeak   int
}

// GCStats reports the collector's current phase and worklist sizes.
func (g *GlobalState) GCStats() GCStats {
	return GCStats{
		Phase:     g.gc.phase.String(),
		Debt:      g.gc.debt,
		GrayLen:   g.gc.gray.Len(),
		GrayAgain: g.gc.grayagain.Len(),
		WeakLen:   len(g.gc.weak),
		Ephemeron: len(g.gc.ephemeron),
		AllWeak:   len(g.gc.allweak),
	}
}

// Collect forces the collector through a full cycle, matching
// `collectgarbage("collect")`. An error raised by a __gc finalizer
// (spec §7's GC-metamethod kind) is returned rather than discarded.
func (g *GlobalState) Collect() error { return g.gc.fullCycle() }

// Step runs one incremental collector step, matching
// `collectgarbage("step")`.
func (g *GlobalState) Step() error { return g.gc.step() }

// SetPacing adjusts the collector's pause/step-multiplier tunables
// (spec §4.4, GC tunables), matching `collectgarbage("setpause", ...)`/
// `collectgarbage("setstepmul", ...)`.
func (g *GlobalState) SetPacing(pause, stepMul int) {
	if pause > 0 {
		g.gc.pause = pause
	}
	if stepMul > 0 {
		g.gc.stepMul = stepMul
	}
}

// SetFinalizerBudget sets the starting per-step finalizer budget the
// callfin phase doubles from each step until tobefnz empties (spec §4.4
// gcfinnum), matching `collectgarbage("setgcfinnum", ...)` and
// `cmd/luavm`'s `--gcfinnum` flag.
func (g *GlobalState) SetFinalizerBudget(n int) {
	if n > 0 {
		g.gc.finNum = n
	}
}

// metatableFor returns the shared per-type metatable for basic types, or
// the value's own metatable for tables and userdata.
func (g *GlobalState) metatableFor(v Value) *table {
	switch v := v.(type) {
	case *table:
		return v.meta
	case *userdataObj:
		return v.meta
	default:
		return g.metatables[basicTypeOf(v)]
	}
}

// userdataObj is a Lua userdata value: an opaque payload plus one inline
// tagged "user value" and an optional metatable (spec §3, Userdata).
type userdataObj struct {
	gcHeader
	data      any
	userValue Value
	meta      *table
}

func (u *userdataObj) typeName() string { return "userdata" }

// SetUserValue replaces u's inline tagged value, applying the forward
// write barrier (spec §4.3): userdata is a stable-structure container, so
// a black userdata acquiring a white child is re-marked immediately
// rather than demoted to gray.
func (u *userdataObj) SetUserValue(g *GlobalState, v Value) {
	u.userValue = v
	g.gc.barrierForward(&u.gcHeader, v)
}

// Thread is one Lua coroutine: a data stack, a call-info chain, an open
// upvalue list, and error-handling state. The state's main thread and any
// coroutines created with [Thread.NewCoroutine] are all Threads.
type Thread struct {
	gcHeader

	global *GlobalState

	stack []Value
	frames []callInfo

	openUpvalues []*upvalue

	status  threadStatus
	entry   Value // the closure a coroutine begins executing, via NewCoroutine
	started bool
	resumeChan chan []Value
	yieldChan  chan coroutineMsg

	// A Thread's link in the collector's object lists (rooted at
	// [gcState.allgc]) is its embedded gcHeader.next, as for every other
	// collectable object; there is no thread-specific link field.
}

type threadStatus uint8

const (
	threadSuspended threadStatus = iota
	threadRunning
	threadNormal // resumed another coroutine, itself suspended
	threadDead
)

func newThread(g *GlobalState) *Thread {
	return &Thread{
		global: g,
		stack:  make([]Value, 0, 64),
		frames: make([]callInfo, 0, 8),
	}
}

func (th *Thread) typeName() string { return "thread" }

// Global returns the state th belongs to.
func (th *Thread) Global() *GlobalState { return th.global }

// Top returns the number of values currently above the active frame's
// register window, i.e. the argument/result count convention used by
// [GoFunction].
func (th *Thread) Top() int {
	ci := th.current()
	if ci == nil {
		return len(th.stack)
	}
	return len(th.stack) - ci.base
}

// Arg returns the i'th argument (1-based) to the running Go function.
func (th *Thread) Arg(i int) Value {
	ci := th.current()
	idx := ci.base + i - 1
	if idx < 0 || idx >= len(th.stack) {
		return None{}
	}
	return th.stack[idx]
}

// Push appends a value above the active frame's register window, for a
// Go function to return a result.
func (th *Thread) Push(v Value) {
	th.stack = append(th.stack, v)
}
