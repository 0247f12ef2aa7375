// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

// Coroutines are modeled with a dedicated goroutine per [Thread] rather
// than the reference implementation's stack-switching: each coroutine
// goroutine blocks on resumeChan between a yield and its next resume,
// and Resume blocks on yieldChan for the next yield, return, or error.
// This keeps the interpreter's own control flow (execOne, precall,
// postcall) free of yield-awareness outside of [Thread.Yield] itself.

type coroutineMsg struct {
	values []Value
	err    error
	done   bool // true once the coroutine has returned or errored
}

// NewCoroutine creates a suspended coroutine wrapping fn, sharing the
// calling thread's global state (spec §3 Global state). The coroutine's
// goroutine is not started until the first [Thread.Resume].
func (th *Thread) NewCoroutine(fn *luaClosure) *Thread {
	co := newThread(th.global)
	th.global.gc.newObject(co)
	co.entry = fn
	co.resumeChan = make(chan []Value)
	co.yieldChan = make(chan coroutineMsg)
	return co
}

// Resume transfers control to co, passing args as either its initial
// call arguments (first resume) or the results of its pending
// [Thread.Yield] call. It blocks until co yields, returns, or errors.
func (th *Thread) Resume(co *Thread, args []Value) (results []Value, dead bool, err error) {
	switch co.status {
	case threadDead:
		return nil, true, newRuntimeError("cannot resume dead coroutine")
	case threadRunning, threadNormal:
		return nil, false, newRuntimeError("cannot resume non-suspended coroutine")
	}

	co.status = threadRunning
	th.status = threadNormal
	if !co.started {
		co.started = true
		go co.goroutineMain(args)
	} else {
		co.resumeChan <- args
	}
	msg := <-co.yieldChan
	th.status = threadRunning

	if msg.err != nil {
		co.status = threadDead
		return nil, true, msg.err
	}
	if msg.done {
		co.status = threadDead
		return msg.values, true, nil
	}
	co.status = threadSuspended
	return msg.values, false, nil
}

// goroutineMain is the body of a coroutine's dedicated goroutine: it
// performs the initial call and reports the outcome, then returns (the
// goroutine exits once the coroutine is dead).
func (co *Thread) goroutineMain(args []Value) {
	results, err := co.Call(co.entry, args, -1)
	if err != nil {
		co.yieldChan <- coroutineMsg{err: err, done: true}
		return
	}
	co.yieldChan <- coroutineMsg{values: results, done: true}
}

// Yield suspends the running coroutine, handing values to whichever
// thread is resuming, and blocks until the next [Thread.Resume] call
// supplies its continuation arguments.
//
// Calling Yield on a thread with no pending Resume (the main thread, or
// a thread not currently being resumed) is a programming error in the
// host embedding and panics, matching the reference implementation's
// "attempt to yield from outside a coroutine".
func (th *Thread) Yield(values []Value) []Value {
	if th.yieldChan == nil {
		panic(newRuntimeError("attempt to yield from outside a coroutine"))
	}
	th.yieldChan <- coroutineMsg{values: values}
	return <-th.resumeChan
}
