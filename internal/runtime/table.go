// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import "math"

// deadKey is the sentinel stored as the value of a hash-part entry whose
// value was set to nil, by assignment or by weak-value clearing: the entry
// is logically absent but its key stays physically retained in the map.
type deadKey struct{}

func (deadKey) typeName() string { return "nil" }

// weakMode selects which side of a table's entries the collector treats as
// weak, derived from the table's metatable's __mode field.
type weakMode uint8

const (
	weakNone weakMode = iota
	weakKeys
	weakValues
	weakBoth
)

// mmAbsent is a bitmask cache of which of the "fast six" tag methods
// (spec §4.7, Metamethod Hook) are known not to be present on a table's
// metatable, so repeated lookups (e.g. every index operation) can skip
// the metatable walk entirely. Invalidated whenever the metatable is
// replaced or the table is written to.
type mmAbsent uint8

const (
	mmBitIndex mmAbsent = 1 << iota
	mmBitNewIndex
	mmBitGC
	mmBitMode
	mmBitLen
	mmBitEq
)

var mmBitForEvent = map[string]mmAbsent{
	"__index":    mmBitIndex,
	"__newindex": mmBitNewIndex,
	"__gc":       mmBitGC,
	"__mode":     mmBitMode,
	"__len":      mmBitLen,
	"__eq":       mmBitEq,
}

// fastAbsent looks up event on t's metatable, short-circuiting via the
// absent-cache for the six events it tracks. Events outside that set
// always fall through to a direct lookup.
func (t *table) fastAbsent(event string) Value {
	bit, cached := mmBitForEvent[event]
	if t.meta == nil {
		return None{}
	}
	if cached && t.absent&bit != 0 {
		return None{}
	}
	v := t.meta.lookupByName(event)
	if cached && IsNone(v) {
		t.absent |= bit
	}
	return v
}

// table is a Lua table: a dense array part for small positive integer keys
// plus a hash part for everything else, per spec §3.
type table struct {
	gcHeader

	array []Value // array[i] holds key i+1; a None entry is a hole.
	hash  map[Value]Value

	// keyOrder records hash keys in first-insertion order. Next must
	// produce the same traversal on every call between writes, and Go's
	// map iteration order is randomized per range, not just once, so
	// ranging over hash directly (as nextHash once did) could hand out
	// a different successor for the same key from one call to the next.
	keyOrder []Value

	meta    *table
	absent  mmAbsent
	mode    weakMode
	touched bool // set on any write; not read by the collector
}

func newTable() *table {
	return &table{hash: make(map[Value]Value)}
}

func (t *table) typeName() string { return "table" }

func normalizeKey(key Value) Value {
	if f, ok := key.(Float); ok {
		if i := Integer(f); Float(i) == f && !math.IsInf(float64(f), 0) {
			return i
		}
	}
	return key
}

// Get implements raw table indexing (no metamethod dispatch).
func (t *table) Get(key Value) Value {
	key = normalizeKey(key)
	if i, ok := key.(Integer); ok && i >= 1 && int(i) <= len(t.array) {
		v := t.array[i-1]
		if v == nil {
			return None{}
		}
		return v
	}
	if v, ok := t.hash[key]; ok {
		if _, dead := v.(deadKey); dead {
			return None{}
		}
		return v
	}
	return None{}
}

// Set implements raw table assignment (no metamethod dispatch). Returns an
// error for a nil or NaN key, matching Lua's restriction.
func (t *table) Set(key, value Value) error {
	switch k := key.(type) {
	case None:
		return errInvalidKey("table index is nil")
	case Float:
		if math.IsNaN(float64(k)) {
			return errInvalidKey("table index is NaN")
		}
	}
	key = normalizeKey(key)
	t.touched = true
	t.absent = 0

	if i, ok := key.(Integer); ok && i >= 1 {
		idx := int(i)
		switch {
		case idx <= len(t.array):
			t.array[idx-1] = value
			return nil
		case idx == len(t.array)+1:
			if IsNone(value) {
				return nil
			}
			t.array = append(t.array, value)
			t.migrateFromHash()
			return nil
		}
	}
	if IsNone(value) {
		if _, ok := t.hash[key]; ok {
			t.hash[key] = deadKey{}
		}
		return nil
	}
	if _, exists := t.hash[key]; !exists {
		t.keyOrder = append(t.keyOrder, key)
	}
	t.hash[key] = value
	return nil
}

// migrateFromHash pulls any now-contiguous integer keys out of the hash
// part and into the array part after an append extends the array's range.
func (t *table) migrateFromHash() {
	for {
		next := Integer(len(t.array) + 1)
		v, ok := t.hash[next]
		if !ok {
			return
		}
		if _, dead := v.(deadKey); dead {
			delete(t.hash, next)
			return
		}
		delete(t.hash, next)
		t.array = append(t.array, v)
	}
}

// Len returns a border of the table, matching the `#` operator's contract:
// any n such that t[n] is non-nil and t[n+1] is nil.
func (t *table) Len() Integer {
	n := len(t.array)
	for n > 0 && IsNone(t.array[n-1]) {
		n--
	}
	if n == len(t.array) {
		for {
			v, ok := t.hash[Integer(n+1)]
			if !ok || IsNone(v) {
				break
			}
			n++
		}
	}
	return Integer(n)
}

// Next implements stateless iteration (the `next` builtin): given the
// previous key (None{} to start), returns the following key/value pair and
// true, or ok=false once iteration is exhausted.
func (t *table) Next(key Value) (nextKey, value Value, ok bool) {
	start := 0
	if !IsNone(key) {
		key = normalizeKey(key)
		if i, isInt := key.(Integer); isInt && i >= 1 && int(i) <= len(t.array) {
			start = int(i)
		} else {
			return t.nextHash(key)
		}
	}
	for i := start; i < len(t.array); i++ {
		if !IsNone(t.array[i]) {
			return Integer(i + 1), t.array[i], true
		}
	}
	return t.nextHash(None{})
}

func (t *table) nextHash(after Value) (Value, Value, bool) {
	keys := t.keyOrder
	start := 0
	if !IsNone(after) {
		found := false
		for i, k := range keys {
			if RawEqual(k, after) {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, nil, false
		}
	}
	for i := start; i < len(keys); i++ {
		v, ok := t.hash[keys[i]]
		if !ok {
			continue
		}
		if _, dead := v.(deadKey); dead {
			continue
		}
		return keys[i], v, true
	}
	return nil, nil, false
}

// Metatable returns the table's metatable, or nil.
func (t *table) Metatable() *table { return t.meta }

// SetMetatable replaces the table's metatable and recomputes its weak mode
// from __mode, clearing the absent-metamethod cache. A metatable carrying
// a __gc entry migrates t from allgc to finobj (spec §3 Lifecycles).
func (t *table) SetMetatable(g *GlobalState, mt *table) {
	t.meta = mt
	t.absent = 0
	t.mode = weakNone
	if mt == nil {
		return
	}
	if !IsNone(mt.lookupByName("__gc")) {
		g.gc.migrateToFinalize(t)
	}
	modeStr, ok := mt.lookupRaw("__mode")
	if !ok {
		return
	}
	hasK, hasV := false, false
	for i := 0; i < len(modeStr); i++ {
		switch modeStr[i] {
		case 'k':
			hasK = true
		case 'v':
			hasV = true
		}
	}
	switch {
	case hasK && hasV:
		t.mode = weakBoth
	case hasK:
		t.mode = weakKeys
	case hasV:
		t.mode = weakValues
	}
}

// lookupRaw finds a string-keyed entry by content, independent of whether
// the key is an interned short string or a fresh long string object.
func (t *table) lookupRaw(key string) (string, bool) {
	for k, v := range t.hash {
		so, ok := k.(*stringObj)
		if !ok || so.s != key {
			continue
		}
		vs, ok := v.(*stringObj)
		if !ok {
			return "", false
		}
		return vs.s, true
	}
	return "", false
}

type invalidKeyError string

func errInvalidKey(msg string) error { return invalidKeyError(msg) }
func (e invalidKeyError) Error() string { return string(e) }
