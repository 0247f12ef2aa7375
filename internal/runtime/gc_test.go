// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import (
	"fmt"
	"testing"
)

func TestGCCollectsUnreachableObject(t *testing.T) {
	g := NewState()
	extra := newTable()
	g.gc.newObject(extra)

	if err := g.Collect(); err != nil {
		t.Fatal(err)
	}

	for o := g.gc.allgc; o != nil; o = o.header().next {
		if o == object(extra) {
			t.Fatal("table with no root reference survived a full collection")
		}
	}
}

func TestGCKeepsReachableObject(t *testing.T) {
	g := NewState()
	held := newTable()
	g.gc.newObject(held)
	if err := g.registry.Set(Integer(1), held); err != nil {
		t.Fatal(err)
	}

	if err := g.Collect(); err != nil {
		t.Fatal(err)
	}

	found := false
	for o := g.gc.allgc; o != nil; o = o.header().next {
		if o == object(held) {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("table reachable from the registry did not survive a full collection")
	}
}

// TestGrayWorklistIsLIFO exercises the gray/grayagain worklists now backed
// by internal/deque: spec §5 requires gray-object visit order be LIFO by
// construction, and swapping the backing store must not change that.
func TestGrayWorklistIsLIFO(t *testing.T) {
	g := NewState()
	gc := &g.gc
	gc.phase = phasePropagate

	a := newTable()
	a.mark = gc.currentWhite
	b := newTable()
	b.mark = gc.currentWhite

	gc.markObject(a)
	gc.markObject(b)
	if got, want := gc.gray.Len(), 2; got != want {
		t.Fatalf("gray.Len() = %d; want %d", got, want)
	}

	gc.propagateStep()
	if !b.mark.isBlack() {
		t.Error("last-pushed table was not the first propagated (LIFO violated)")
	}
	if a.mark.isBlack() {
		t.Error("first-pushed table was processed before the last-pushed one")
	}

	gc.propagateStep()
	if !a.mark.isBlack() {
		t.Error("first-pushed table was never propagated")
	}
	if gc.gray.Len() != 0 {
		t.Errorf("gray.Len() = %d after draining; want 0", gc.gray.Len())
	}
}

func TestGCStatsReportsPhase(t *testing.T) {
	g := NewState()
	if got, want := g.GCStats().Phase, "pause"; got != want {
		t.Errorf("GCStats().Phase = %q; want %q", got, want)
	}
	if err := g.Collect(); err != nil {
		t.Fatal(err)
	}
	if got, want := g.GCStats().Phase, "pause"; got != want {
		t.Errorf("GCStats().Phase after Collect = %q; want %q", got, want)
	}
}

// TestGCIncrementalStepShrinksHeapMonotonically exercises spec §8 scenario
// 2: allocate many short-lived strings into a table, drop the table, then
// step the collector in a loop and confirm allgc only ever shrinks and the
// cycle returns to pause within a bounded number of steps.
func TestGCIncrementalStepShrinksHeapMonotonically(t *testing.T) {
	g := NewState()
	root := newTable()
	g.gc.newObject(root)
	if err := g.registry.Set(Integer(1), root); err != nil {
		t.Fatal(err)
	}
	const n = 2000
	for i := 0; i < n; i++ {
		s := &stringObj{s: fmt.Sprintf("s%d", i)}
		g.gc.newObject(s)
		if err := root.Set(Integer(i+1), s); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.registry.Set(Integer(1), None{}); err != nil {
		t.Fatal(err)
	}

	countAllGC := func() int {
		count := 0
		for o := g.gc.allgc; o != nil; o = o.header().next {
			count++
		}
		return count
	}

	if err := g.Step(); err != nil { // kick startCycle
		t.Fatal(err)
	}
	prev := countAllGC()
	for i := 0; i < 400 && g.gc.phase != phasePause; i++ {
		if err := g.Step(); err != nil {
			t.Fatal(err)
		}
		cur := countAllGC()
		if cur > prev {
			t.Fatalf("allgc grew from %d to %d mid-sweep", prev, cur)
		}
		prev = cur
	}
	if g.gc.phase != phasePause {
		t.Fatal("collector did not return to pause within the step budget")
	}
	if prev > 2 { // the registry and the main thread always survive
		t.Errorf("allgc still has %d objects after the only root was dropped", prev)
	}
}

// TestGCClearsWeakValueArrayEntry exercises spec §8 scenario 3 with the
// key that lives in the array part, not the hash part: t[1] is stored in
// t.array, and a weak-value table's array slots must clear the same as
// its hash slots.
func TestGCClearsWeakValueArrayEntry(t *testing.T) {
	g := NewState()
	tbl := newTable()
	g.gc.newObject(tbl)
	if err := g.registry.Set(Integer(1), tbl); err != nil {
		t.Fatal(err)
	}

	mt := newTable()
	g.gc.newObject(mt)
	if err := mt.Set(&stringObj{s: "__mode"}, &stringObj{s: "v"}); err != nil {
		t.Fatal(err)
	}
	tbl.SetMetatable(g, mt)

	inner := newTable()
	g.gc.newObject(inner)
	if err := tbl.Set(Integer(1), inner); err != nil {
		t.Fatal(err)
	}

	if err := g.Collect(); err != nil {
		t.Fatal(err)
	}

	if got := tbl.Get(Integer(1)); !IsNone(got) {
		t.Errorf("t[1] = %#v after collection; want nil (weak value, array part)", got)
	}
	if got := tbl.Len(); got != 0 {
		t.Errorf("#t = %d after collection; want 0", got)
	}
}

// TestGCEphemeronConvergence exercises spec §8 scenario 4: a weak-key
// table whose only entry's key becomes unreachable must drop the entry
// (and the value it alone kept alive) after a full collection.
func TestGCEphemeronConvergence(t *testing.T) {
	g := NewState()
	tbl := newTable()
	g.gc.newObject(tbl)
	if err := g.registry.Set(Integer(1), tbl); err != nil {
		t.Fatal(err)
	}

	mt := newTable()
	g.gc.newObject(mt)
	if err := mt.Set(&stringObj{s: "__mode"}, &stringObj{s: "k"}); err != nil {
		t.Fatal(err)
	}
	tbl.SetMetatable(g, mt)

	key := newTable()
	g.gc.newObject(key)
	val := newTable()
	g.gc.newObject(val)
	if err := val.Set(&stringObj{s: "ref"}, key); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Set(key, val); err != nil {
		t.Fatal(err)
	}
	key = nil // the table entry was the only remaining VM-visible reference

	if err := g.Collect(); err != nil {
		t.Fatal(err)
	}

	for o := g.gc.allgc; o != nil; o = o.header().next {
		if o == object(val) {
			t.Fatal("ephemeron value survived after its key became unreachable")
		}
	}
}

// TestGCWeakKeyTablePreservesArrayValues exercises the array-keyed half
// of spec §8 scenario 4: a weak-key table's array-part values have keys
// that are always plain integers, never collectable, so they are never
// weak and must survive regardless of the table's __mode.
func TestGCWeakKeyTablePreservesArrayValues(t *testing.T) {
	g := NewState()
	tbl := newTable()
	g.gc.newObject(tbl)
	if err := g.registry.Set(Integer(1), tbl); err != nil {
		t.Fatal(err)
	}

	mt := newTable()
	g.gc.newObject(mt)
	if err := mt.Set(&stringObj{s: "__mode"}, &stringObj{s: "k"}); err != nil {
		t.Fatal(err)
	}
	tbl.SetMetatable(g, mt)

	arrayVal := newTable()
	g.gc.newObject(arrayVal)
	if err := tbl.Set(Integer(1), arrayVal); err != nil {
		t.Fatal(err)
	}

	if err := g.Collect(); err != nil {
		t.Fatal(err)
	}

	if got := tbl.Get(Integer(1)); got != Value(arrayVal) {
		t.Errorf("t[1] = %#v after collection; want the array value to survive (array keys are never weak)", got)
	}
}

// TestGCFinalizerRuns confirms a __gc-bearing table installed via
// SetMetatable actually gets migrated to finobj and its finalizer called
// once the table becomes unreachable and a full cycle runs.
func TestGCFinalizerRuns(t *testing.T) {
	g := NewState()
	called := 0
	fin := &goClosure{name: "fin", fn: func(th *Thread) (int, error) {
		called++
		return 0, nil
	}}
	g.gc.newObject(fin)

	mt := newTable()
	g.gc.newObject(mt)
	if err := mt.Set(&stringObj{s: "__gc"}, fin); err != nil {
		t.Fatal(err)
	}

	obj := newTable()
	g.gc.newObject(obj)
	obj.SetMetatable(g, mt)

	found := false
	for o := g.gc.finobj; o != nil; o = o.header().next {
		if o == object(obj) {
			found = true
		}
	}
	if !found {
		t.Fatal("SetMetatable with a __gc entry did not migrate the table to finobj")
	}

	if err := g.Collect(); err != nil {
		t.Fatal(err)
	}
	if called != 1 {
		t.Fatalf("__gc called %d times; want 1", called)
	}
}

// TestGCFinalizerRerootDelaysOneCycle exercises spec §8's re-root
// property: a finalizer that re-establishes a reference to its own
// object keeps that object alive for exactly one further cycle, and the
// finalizer is not invoked again unless the metatable is reinstalled.
func TestGCFinalizerRerootDelaysOneCycle(t *testing.T) {
	g := NewState()
	called := 0
	var obj *table
	fin := &goClosure{name: "fin", fn: func(th *Thread) (int, error) {
		called++
		if err := g.registry.Set(Integer(99), obj); err != nil {
			t.Fatal(err)
		}
		return 0, nil
	}}
	g.gc.newObject(fin)

	mt := newTable()
	g.gc.newObject(mt)
	if err := mt.Set(&stringObj{s: "__gc"}, fin); err != nil {
		t.Fatal(err)
	}

	obj = newTable()
	g.gc.newObject(obj)
	obj.SetMetatable(g, mt)

	if err := g.Collect(); err != nil {
		t.Fatal(err)
	}
	if called != 1 {
		t.Fatalf("__gc called %d times after first collection; want 1", called)
	}

	// The finalizer re-rooted obj via the registry: it must survive a
	// second full cycle without __gc running again.
	if err := g.Collect(); err != nil {
		t.Fatal(err)
	}
	survived := false
	for o := g.gc.allgc; o != nil; o = o.header().next {
		if o == object(obj) {
			survived = true
		}
	}
	if !survived {
		t.Fatal("object that re-rooted itself in __gc did not survive the following cycle")
	}
	if called != 1 {
		t.Fatalf("__gc ran again on an object whose metatable was never reinstalled; called = %d, want 1", called)
	}

	// Drop the only remaining reference and collect once more: obj is now
	// freed, and __gc still must not run a second time.
	if err := g.registry.Set(Integer(99), None{}); err != nil {
		t.Fatal(err)
	}
	if err := g.Collect(); err != nil {
		t.Fatal(err)
	}
	for o := g.gc.allgc; o != nil; o = o.header().next {
		if o == object(obj) {
			t.Fatal("object survived a cycle with no remaining reference")
		}
	}
	if called != 1 {
		t.Fatalf("__gc ran again after being collected with no metatable reinstall; called = %d, want 1", called)
	}
}
