// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import (
	"fmt"

	"witchlight.dev/luavm/internal/bytecode"
)

// Frame describes one level of a thread's call stack for error reporting
// and `debug.traceback`-style introspection.
type Frame struct {
	Source     string
	Line       int
	FuncName   string
	IsGoFrame  bool
}

// sourceLocation formats "source:line" the way the reference
// implementation's error messages do, or "source" alone if proto carries
// no line-debug info at the given pc.
func sourceLocation(proto *bytecode.Prototype, pc int) string {
	src := proto.Source
	if src == "" {
		src = "?"
	}
	if proto.LineAt == nil {
		return src
	}
	line := proto.LineAt(pc)
	if line == 0 {
		return src
	}
	return fmt.Sprintf("%s:%d", src, line)
}

// Traceback returns a snapshot of th's current call stack, innermost
// frame first.
func (th *Thread) Traceback() []Frame {
	frames := make([]Frame, 0, len(th.frames))
	for i := len(th.frames) - 1; i >= 0; i-- {
		ci := th.frames[i]
		if ci.closure != nil {
			line := 0
			if ci.closure.proto.LineAt != nil {
				line = ci.closure.proto.LineAt(ci.pc)
			}
			frames = append(frames, Frame{
				Source: ci.closure.proto.Source,
				Line:   line,
			})
		} else if ci.goClosure != nil {
			frames = append(frames, Frame{
				FuncName:  ci.goClosure.name,
				IsGoFrame: true,
			})
		}
	}
	return frames
}
