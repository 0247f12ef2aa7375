// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func globalsTable(t *testing.T, g *GlobalState) *table {
	t.Helper()
	env, ok := NewGlobals(g).(*table)
	if !ok {
		t.Fatal("NewGlobals did not return a table")
	}
	return env
}

func TestBaseLibTypeAndToString(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)
	th := g.MainThread()

	typeFn := env.Get(g.strings.intern("type"))
	results, err := th.Call(typeFn, []Value{Integer(1)}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(results), 1; got != want {
		t.Fatalf("len(results) = %d; want %d", got, want)
	}
	s, ok := results[0].(*stringObj)
	if !ok || s.s != "number" {
		t.Errorf("type(1) = %#v; want string \"number\"", results[0])
	}

	toStringFn := env.Get(g.strings.intern("tostring"))
	results, err = th.Call(toStringFn, []Value{Boolean(true)}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := results[0].(*stringObj); !ok || s.s != "true" {
		t.Errorf("tostring(true) = %#v; want string \"true\"", results[0])
	}
}

func TestBaseLibPCallCatchesError(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)
	th := g.MainThread()

	errorFn := env.Get(g.strings.intern("error"))
	pcallFn := env.Get(g.strings.intern("pcall"))

	results, err := th.Call(pcallFn, []Value{errorFn, &stringObj{s: "boom"}}, -1)
	if err != nil {
		t.Fatalf("pcall itself returned an error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("pcall(error, \"boom\") returned %d results; want 2", len(results))
	}
	if ok, isBool := results[0].(Boolean); !isBool || bool(ok) {
		t.Errorf("pcall(error, \"boom\")'s first result = %#v; want false", results[0])
	}
	msg, ok := results[1].(*stringObj)
	if !ok {
		t.Fatalf("pcall(error, \"boom\")'s second result = %#v; want a string", results[1])
	}
	if got, want := msg.s, "boom"; got != want {
		t.Errorf("error message = %q; want %q", got, want)
	}
}

func TestBaseLibRawSetAndPairs(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)
	th := g.MainThread()

	subject := newTable()
	g.gc.newObject(subject)

	rawsetFn := env.Get(g.strings.intern("rawset"))
	pairsFn := env.Get(g.strings.intern("pairs"))

	for i, k := range []string{"x", "y", "z"} {
		key := g.strings.intern(k)
		if _, err := th.Call(rawsetFn, []Value{subject, key, Integer(i)}, 0); err != nil {
			t.Fatal(err)
		}
	}

	triple, err := th.Call(pairsFn, []Value{subject}, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(triple) != 3 {
		t.Fatalf("pairs(t) returned %d values; want 3 (next, t, nil)", len(triple))
	}
	// pairs installs its own fresh next closure rather than reusing the
	// one registered in env; it must still behave like next.
	if _, ok := triple[0].(*goClosure); !ok {
		t.Errorf("pairs(t)'s first result = %#v; want a callable iterator", triple[0])
	}

	var seen []string
	key := Value(None{})
	for {
		results, err := th.Call(triple[0], []Value{subject, key}, -1)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) == 0 || IsNone(results[0]) {
			break
		}
		s, ok := results[0].(*stringObj)
		if !ok {
			t.Fatalf("next key %#v is not a string", results[0])
		}
		seen = append(seen, s.s)
		key = results[0]
	}

	want := []string{"x", "y", "z"}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("pairs(t) iteration order (-want +got):\n%s", diff)
	}
}

func TestBaseLibCollectGarbageStepAndCollect(t *testing.T) {
	g := NewState()
	env := globalsTable(t, g)
	th := g.MainThread()

	collectGarbageFn := env.Get(g.strings.intern("collectgarbage"))

	if _, err := th.Call(collectGarbageFn, []Value{&stringObj{s: "collect"}}, 1); err != nil {
		t.Fatal(err)
	}
	if got, want := g.GCStats().Phase, "pause"; got != want {
		t.Errorf("GCStats().Phase after collectgarbage(\"collect\") = %q; want %q", got, want)
	}

	if _, err := th.Call(collectGarbageFn, []Value{&stringObj{s: "setpause"}, Integer(150)}, 1); err != nil {
		t.Fatal(err)
	}
	if got, want := g.gc.pause, 150; got != want {
		t.Errorf("gc.pause after setpause(150) = %d; want %d", got, want)
	}
}
