// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTableGetSet(t *testing.T) {
	tbl := newTable()
	strs := newStringTable()
	keyK := strs.intern("k")

	if err := tbl.Set(Integer(1), &stringObj{s: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Set(keyK, Integer(42)); err != nil {
		t.Fatal(err)
	}

	if got, ok := tbl.Get(Integer(1)).(*stringObj); !ok || got.s != "a" {
		t.Errorf("tbl.Get(1) = %#v; want string %q", got, "a")
	}
	// Hash-part lookups key on the string object's identity, so a raw
	// table keyed by string content must be reached via the same interned
	// object used on Set, matching how the interpreter always indexes
	// through [stringTable.intern] rather than ad hoc *stringObj literals.
	if got := tbl.Get(keyK); got != Integer(42) {
		t.Errorf("tbl.Get(keyK) = %#v; want 42", got)
	}
	if got := tbl.Get(strs.intern("missing")); !IsNone(got) {
		t.Errorf("tbl.Get(\"missing\") = %#v; want none", got)
	}
}

func TestTableSetRejectsNilAndNaNKeys(t *testing.T) {
	tbl := newTable()
	if err := tbl.Set(None{}, Integer(1)); err == nil {
		t.Error("Set(nil key) = <nil>; want error")
	}
	if err := tbl.Set(Float(nan()), Integer(1)); err == nil {
		t.Error("Set(NaN key) = <nil>; want error")
	}
}

func nan() float64 {
	var z float64
	return z / z
}

func TestTableLenCountsArrayBorder(t *testing.T) {
	tbl := newTable()
	for i := 1; i <= 3; i++ {
		if err := tbl.Set(Integer(i), Integer(i*10)); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := tbl.Len(), Integer(3); got != want {
		t.Errorf("tbl.Len() = %d; want %d", got, want)
	}
}

// TestTableNextStableBetweenCalls guards against a regression where ranging
// over the hash part's map directly on every Next call could hand back a
// different successor for the same key across two calls with no
// intervening write, since Go's map iteration order is randomized per
// range statement rather than once per table.
func TestTableNextStableBetweenCalls(t *testing.T) {
	tbl := newTable()
	keys := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for i, k := range keys {
		if err := tbl.Set(&stringObj{s: k}, Integer(i)); err != nil {
			t.Fatal(err)
		}
	}

	first := collectHashOrder(t, tbl)
	second := collectHashOrder(t, tbl)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Next order changed between calls with no write (-first +second):\n%s", diff)
	}
	if len(first) != len(keys) {
		t.Errorf("collected %d keys; want %d", len(first), len(keys))
	}
}

func collectHashOrder(t *testing.T, tbl *table) []string {
	t.Helper()
	var order []string
	key := Value(None{})
	for {
		nk, _, ok := tbl.Next(key)
		if !ok {
			break
		}
		s, isString := nk.(*stringObj)
		if !isString {
			t.Fatalf("Next key %#v is not a string", nk)
		}
		order = append(order, s.s)
		key = nk
	}
	return order
}

func TestTableFastAbsent(t *testing.T) {
	g := NewState()
	tbl := newTable()
	if mm := tbl.fastAbsent("__index"); !IsNone(mm) {
		t.Errorf("fastAbsent(__index) on bare table = %#v; want none", mm)
	}

	mt := newTable()
	indexFn := &goClosure{name: "index"}
	if err := mt.Set(&stringObj{s: "__index"}, indexFn); err != nil {
		t.Fatal(err)
	}
	tbl.SetMetatable(g, mt)

	if mm := tbl.fastAbsent("__index"); mm != Value(indexFn) {
		t.Errorf("fastAbsent(__index) = %#v; want the registered closure", mm)
	}
	if mm := tbl.fastAbsent("__newindex"); !IsNone(mm) {
		t.Errorf("fastAbsent(__newindex) = %#v; want none", mm)
	}
	if tbl.absent&mmBitNewIndex == 0 {
		t.Error("fastAbsent(__newindex) did not populate the absent cache")
	}

	// A write must invalidate the cache so a later metatable mutation is
	// observed again.
	if err := tbl.Set(Integer(1), Integer(1)); err != nil {
		t.Fatal(err)
	}
	if tbl.absent != 0 {
		t.Error("table write did not clear the absent-metamethod cache")
	}
}
