// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

// shortStringLimit is the length (in bytes) at or under which a string is
// interned into the global string table. Longer strings are allocated
// fresh each time, matching the reference implementation's short/long
// string split (spec §3, Entities: String).
const shortStringLimit = 40

// stringObj is a heap-allocated Lua string. Short strings are interned so
// that equal content shares one object and compares equal by pointer;
// long strings are never interned and always compare by content in
// [RawEqual].
type stringObj struct {
	gcHeader
	s    string
	hash uint32
	long bool
}

func (s *stringObj) typeName() string { return "string" }

// stringTable is the global intern table for short strings, a closed hash
// table keyed by content. [stringTable.sweep], run from
// [gcState.finishSweep], removes the entries the collector reports dead.
// intern neither links its strings into allgc nor paints them white, so
// the collector never reports an interned string dead and every entry
// stays in the table.
type stringTable struct {
	buckets [][]*stringObj
	count   int
}

func newStringTable() *stringTable {
	return &stringTable{buckets: make([][]*stringObj, 32)}
}

func fnv1a(s string) uint32 {
	const offset, prime = 2166136261, 16777619
	h := uint32(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// intern returns the canonical *stringObj for s, allocating and inserting
// one if the table has no entry for this content yet. Strings longer than
// [shortStringLimit] bypass the table entirely.
func (st *stringTable) intern(s string) *stringObj {
	if len(s) > shortStringLimit {
		return &stringObj{s: s, hash: fnv1a(s), long: true}
	}
	h := fnv1a(s)
	idx := h % uint32(len(st.buckets))
	for _, o := range st.buckets[idx] {
		if o.s == s {
			return o
		}
	}
	if st.count >= len(st.buckets)*3 {
		st.grow()
		idx = h % uint32(len(st.buckets))
	}
	o := &stringObj{s: s, hash: h}
	st.buckets[idx] = append(st.buckets[idx], o)
	st.count++
	return o
}

func (st *stringTable) grow() {
	old := st.buckets
	st.buckets = make([][]*stringObj, len(old)*2)
	for _, bucket := range old {
		for _, o := range bucket {
			idx := o.hash % uint32(len(st.buckets))
			st.buckets[idx] = append(st.buckets[idx], o)
		}
	}
}

// sweep removes interned strings with no surviving references, and shrinks
// the table when occupancy falls well below capacity. Called once per GC
// cycle's sweep phase (spec §4.3, sweepstring).
func (st *stringTable) sweep(isDead func(*stringObj) bool) {
	remaining := 0
	for i, bucket := range st.buckets {
		kept := bucket[:0]
		for _, o := range bucket {
			if isDead(o) {
				continue
			}
			kept = append(kept, o)
		}
		st.buckets[i] = kept
		remaining += len(kept)
	}
	st.count = remaining
	if len(st.buckets) > 32 && remaining < len(st.buckets)/4 {
		st.shrinkTo(len(st.buckets) / 2)
	}
}

func (st *stringTable) shrinkTo(n int) {
	if n < 32 {
		n = 32
	}
	old := st.buckets
	st.buckets = make([][]*stringObj, n)
	for _, bucket := range old {
		for _, o := range bucket {
			idx := o.hash % uint32(len(st.buckets))
			st.buckets[idx] = append(st.buckets[idx], o)
		}
	}
}
