// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a [RuntimeError] the way spec §7 Error Taxonomy
// does, so a host embedding this package can distinguish a script bug
// from a VM-internal failure.
type ErrorKind uint8

const (
	ErrMemory ErrorKind = iota
	ErrType
	ErrRuntime
	ErrGCMetamethod
	ErrHost
)

func (k ErrorKind) String() string {
	switch k {
	case ErrMemory:
		return "memory"
	case ErrType:
		return "type"
	case ErrRuntime:
		return "runtime"
	case ErrGCMetamethod:
		return "gc metamethod"
	case ErrHost:
		return "host"
	default:
		return "error"
	}
}

// RuntimeError is a Lua error propagating out of a protected call
// boundary. Value carries whatever the script raised via `error(...)`;
// most errors raised by the interpreter itself carry a *stringObj with a
// formatted message, matching the reference implementation's default
// message handler.
type RuntimeError struct {
	Kind  ErrorKind
	Value Value
}

func (e *RuntimeError) Error() string {
	return ToString(e.Value)
}

// errorToValue converts a Go error into the Value a pcall-style protected
// call should see as its second result.
func errorToValue(err error) Value {
	if err == nil {
		return None{}
	}
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return rerr.Value
	}
	return &stringObj{s: err.Error()}
}

func newRuntimeError(format string, args ...any) error {
	return &RuntimeError{Kind: ErrRuntime, Value: &stringObj{s: fmt.Sprintf(format, args...)}}
}

// newGCMetamethodError wraps an error raised inside a __gc finalizer
// (spec §7 Error Taxonomy: "GC-metamethod"). The VM wraps it and
// re-raises rather than letting the original error's kind escape.
func newGCMetamethodError(err error) error {
	return &RuntimeError{Kind: ErrGCMetamethod, Value: &stringObj{s: "error in __gc metamethod: " + ToString(errorToValue(err))}}
}

func newTypeError(v Value, action string) error {
	return &RuntimeError{
		Kind:  ErrType,
		Value: &stringObj{s: fmt.Sprintf("attempt to %s a %s value", action, TypeName(v))},
	}
}

var errIndexChainTooLong = &RuntimeError{
	Kind:  ErrRuntime,
	Value: &stringObj{s: "'__index' chain too long; possible loop"},
}

// protectedCall runs fn, recovering a *RuntimeError panic (raised by
// `error()`, see [Thread.Error]) into a returned error, mirroring `pcall`.
// Any other panic propagates, matching the reference implementation's
// refusal to catch host/internal faults as script errors.
func (th *Thread) protectedCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(*RuntimeError); ok {
				err = rerr
				return
			}
			panic(r)
		}
	}()
	return fn()
}

// Error raises a Lua error carrying v, to be recovered by the nearest
// enclosing [Thread.protectedCall] (pcall/xpcall boundary).
func (th *Thread) Error(v Value) {
	panic(&RuntimeError{Kind: ErrRuntime, Value: v})
}
