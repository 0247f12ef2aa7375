// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

// callInfo is one activation record on a thread's call stack. Frames are
// reused across calls (see [Thread.pushFrame]) rather than freshly
// allocated, matching the reference implementation's CallInfo chain.
type callInfo struct {
	closure    *luaClosure // nil for a Go-function frame
	goClosure  *goClosure
	base       int // stack index of register 0 for this frame
	funcIndex  int // stack index of the function value itself
	pc         int
	numResults int // expected result count; -1 means "all"
	isTailCall bool
	varargs    []Value // extra arguments beyond the prototype's fixed parameters
}

func (ci *callInfo) registerBase() int { return ci.base }

// pushFrame grows the thread's callInfo chain by one, reusing a
// previously popped frame's storage when available.
func (th *Thread) pushFrame() *callInfo {
	if len(th.frames) < cap(th.frames) {
		th.frames = th.frames[:len(th.frames)+1]
		ci := &th.frames[len(th.frames)-1]
		*ci = callInfo{}
		return ci
	}
	th.frames = append(th.frames, callInfo{})
	return &th.frames[len(th.frames)-1]
}

func (th *Thread) popFrame() {
	th.frames = th.frames[:len(th.frames)-1]
}

// current returns the active call frame, or nil if the thread has no
// frames (it has returned from its entry point).
func (th *Thread) current() *callInfo {
	if len(th.frames) == 0 {
		return nil
	}
	return &th.frames[len(th.frames)-1]
}
