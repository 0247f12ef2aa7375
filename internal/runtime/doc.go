// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

/*
Package runtime implements the execution engine that this module exists to
provide: the tagged value model, the heap object graph, the incremental
tri-color garbage collector, closure/upvalue lifecycle, call machinery, and
the bytecode dispatch loop.

A [Prototype] (see [witchlight.dev/luavm/internal/bytecode]) is produced by
a compiler outside this module. [GlobalState.LoadMainChunk] wraps one into
a Lua closure for a state made by [NewState], and [Thread.Call] on the
state's main thread pushes its frame and runs the interpreter until that
activation returns or yields.

Unlike the reference C implementation, this package cannot hand memory back
to an allocator: "freeing" an object means unlinking it from the collector's
own bookkeeping lists (allgc/finobj/tobefnz) so that it becomes unreachable
from any GC root. The Go runtime's own collector reclaims the backing memory
once nothing — including this package's lists — still points at it. The
mark-sweep state machine, write barriers, and weak-table/finalizer
semantics described in the spec are otherwise implemented faithfully; only
the final "reclaim bytes" step changes texture. See [GlobalState] and
[gcHeader] for the object lifecycle this implies.
*/
package runtime
