// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import "witchlight.dev/luavm/internal/deque"

// gcPhase is one state of the incremental collector's cycle (spec §4.2).
type gcPhase uint8

const (
	phasePause gcPhase = iota
	phasePropagate
	phaseAtomic
	phaseSweepAllGC
	phaseSweepFinObj
	phaseSweepToBeFnz
	phaseSweepEnd
	phaseCallFin
)

func (p gcPhase) String() string {
	switch p {
	case phasePause:
		return "pause"
	case phasePropagate:
		return "propagate"
	case phaseAtomic:
		return "atomic"
	case phaseSweepAllGC:
		return "sweep-allgc"
	case phaseSweepFinObj:
		return "sweep-finobj"
	case phaseSweepToBeFnz:
		return "sweep-tobefnz"
	case phaseSweepEnd:
		return "sweep-end"
	case phaseCallFin:
		return "callfin"
	default:
		return "gcPhase(?)"
	}
}

// sweepMax bounds how many objects a single sweep step examines, keeping
// each GC step's work bounded regardless of heap size (spec §4.2 step 4).
const sweepMax = 256

// gcState holds everything the collector needs across steps: the
// intrusive object lists, the gray worklists, the current white, pacing
// debt, and the list of weak/ephemeron tables discovered during the
// current cycle's propagate phase.
type gcState struct {
	owner *GlobalState

	allgc   object
	finobj  object
	tobefnz object
	fixedgc object

	// gray and grayagain are LIFO worklists (spec §5: gray-object visit
	// order is unspecified, LIFO by construction). A deque gives the
	// same push/pop-at-back stack discipline as a slice while doubling
	// as the queue the atomic phase's grayagain drain needs; see
	// [gcState.atomic], which drains grayagain back onto gray in
	// insertion order via PopFront.
	gray      deque.Deque[object]
	grayagain deque.Deque[object]

	weak      []*table // weak-value tables pending value clearing
	ephemeron []*table // weak-key tables pending convergence
	allweak   []*table // all-weak tables pending key+value clearing

	currentWhite markBits
	phase        gcPhase

	sweepCursor   object
	sweepPrevLink *object
	finCursor     object

	// finNum is the configured starting finalizer budget (spec §4.4
	// gcfinnum, default 1); finStepBudget is how many finalizers the
	// current callfin step runs, doubling every step until tobefnz
	// empties (spec §4.2 step 5).
	finNum        int
	finStepBudget int

	debt     int64
	stepSize int64 // bytes-equivalent granularity per incremental step
	pause    int   // percent: how much debt to accrue before starting a cycle
	stepMul  int   // percent: how aggressively debt is paid down per allocation

	// stringCacheGen increments each atomic phase; used to invalidate
	// the API's one-slot recent-string cache (there is none in this
	// port, so this exists only for parity with the phase's spec'd
	// side effect and is otherwise unread).
	stringCacheGen uint64
}

func newGCState(g *GlobalState) gcState {
	return gcState{
		owner:        g,
		currentWhite: bitWhite0,
		phase:        phasePause,
		stepSize:     1024,
		pause:        200,
		stepMul:      100,
		finNum:       1,
	}
}

func (gc *gcState) otherWhite() markBits {
	if gc.currentWhite == bitWhite0 {
		return bitWhite1
	}
	return bitWhite0
}

// isDead reports whether an object's mark identifies it as garbage from
// the collector's point of view: wearing the other-white color and not
// black (black objects are never dead even mid-cycle, since black means
// "already confirmed reachable this cycle").
func (gc *gcState) isDead(h *gcHeader) bool {
	return h.mark&(gc.otherWhite()|bitBlack) == gc.otherWhite()
}

// newObject links a freshly allocated object into allgc, painted the
// current white, per spec §3 Lifecycles.
func (gc *gcState) newObject(o object) {
	h := o.header()
	h.mark = gc.currentWhite
	h.next = gc.allgc
	gc.allgc = o
	gc.debt += objectCost(o)
}

func objectCost(o object) int64 {
	switch o.(type) {
	case *table:
		return 56
	case *stringObj:
		return 32
	case *luaClosure, *goClosure:
		return 48
	case *userdataObj:
		return 40
	case *upvalue:
		return 24
	case *Thread:
		return 256
	default:
		return 16
	}
}

// markObject marks a white object gray and adds it to the gray worklist, or
// black immediately if it has no children to traverse.
func (gc *gcState) markObject(o object) {
	if o == nil {
		return
	}
	h := o.header()
	if !h.mark.isWhite() {
		return
	}
	h.mark = h.mark.withoutColor()
	if leaf(o) {
		h.mark |= bitBlack
		return
	}
	gc.gray.PushBack(o)
}

func (gc *gcState) markValue(v Value) {
	if o, ok := v.(object); ok {
		gc.markObject(o)
	}
}

func leaf(o object) bool {
	_, isString := o.(*stringObj)
	return isString
}

// step advances the collector by one unit of incremental work, running
// the atomic phase to completion (it must not be interrupted) but
// otherwise doing bounded work per call. Called from the interpreter's
// allocation-debt check (spec §2 Data flow) and from an explicit
// `collectgarbage("step")` request.
func (gc *gcState) step() error {
	switch gc.phase {
	case phasePause:
		gc.startCycle()
	case phasePropagate:
		gc.propagateStep()
	case phaseAtomic:
		gc.atomic()
	case phaseSweepAllGC:
		gc.sweepStep(&gc.allgc, phaseSweepFinObj)
	case phaseSweepFinObj:
		gc.sweepStep(&gc.finobj, phaseSweepToBeFnz)
	case phaseSweepToBeFnz:
		gc.sweepStep(&gc.tobefnz, phaseSweepEnd)
	case phaseSweepEnd:
		gc.finishSweep()
	case phaseCallFin:
		return gc.callFinStep()
	}
	return nil
}

// fullCycle runs every phase to completion, for `collectgarbage("collect")`.
func (gc *gcState) fullCycle() error {
	var firstErr error
	// A cycle already past its atomic phase is finished first, so that
	// atomic never runs (and flips the current white) in mid-sweep.
	for gc.phase > phaseAtomic {
		if err := gc.step(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if gc.phase == phasePause {
		gc.startCycle()
	}
	for gc.phase == phasePropagate {
		gc.propagateStep()
	}
	gc.atomic()
	for gc.phase != phasePause {
		if err := gc.step(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (gc *gcState) startCycle() {
	gc.gray.PopBack(gc.gray.Len())
	gc.grayagain.PopBack(gc.grayagain.Len())
	gc.weak = gc.weak[:0]
	gc.ephemeron = gc.ephemeron[:0]
	gc.allweak = gc.allweak[:0]
	gc.phase = phasePropagate

	gc.markObject(gc.owner.main)
	gc.markObject(gc.owner.registry)
	for _, mt := range gc.owner.metatables {
		if mt != nil {
			gc.markObject(mt)
		}
	}
	for o := gc.tobefnz; o != nil; o = o.header().next {
		gc.markObject(o)
	}
}

// propagateStep marks one gray object's children, moving it to black (or
// back to gray-again for tables that mutate further).
func (gc *gcState) propagateStep() {
	o, ok := gc.gray.Back()
	if !ok {
		gc.phase = phaseAtomic
		return
	}
	gc.gray.PopBack(1)
	gc.traverse(o)
}

func (gc *gcState) traverse(o object) {
	h := o.header()
	switch v := o.(type) {
	case *table:
		gc.traverseTable(v)
	case *userdataObj:
		if v.meta != nil {
			gc.markObject(v.meta)
		}
		gc.markValue(v.userValue)
		h.mark |= bitBlack
	case *luaClosure:
		for _, uv := range v.upvalues {
			gc.markObject(uv)
		}
		h.mark |= bitBlack
	case *goClosure:
		for _, val := range v.upvalues {
			gc.markValue(val)
		}
		h.mark |= bitBlack
	case *upvalue:
		if v.isOpen() {
			gc.markValue(v.thread.stack[v.index])
		} else {
			gc.markValue(v.closed)
		}
		h.mark |= bitBlack
	case *Thread:
		for _, sv := range v.stack {
			gc.markValue(sv)
		}
		for _, ci := range v.frames {
			if ci.closure != nil {
				gc.markObject(ci.closure)
			}
			if ci.goClosure != nil {
				gc.markObject(ci.goClosure)
			}
		}
		for _, uv := range v.openUpvalues {
			gc.markObject(uv)
		}
		h.mark |= bitBlack
	default:
		h.mark |= bitBlack
	}
}

// traverseTable implements spec §4.2's per-table marking rule: weak tables
// are deferred to the appropriate cycle list instead of marked like an
// ordinary container.
func (gc *gcState) traverseTable(t *table) {
	h := &t.gcHeader
	switch t.mode {
	case weakNone:
		for _, v := range t.array {
			gc.markValue(v)
		}
		for k, v := range t.hash {
			if _, dead := v.(deadKey); dead {
				continue
			}
			gc.markValue(k)
			gc.markValue(v)
		}
		h.mark |= bitBlack
	case weakValues:
		// Array-part "keys" are just positions (plain Integers, never
		// collectable), so only hash-part keys need marking here; array
		// values are left white for clearWeakValues to consider.
		for k := range t.hash {
			gc.markValue(k)
		}
		gc.weak = append(gc.weak, t)
	case weakKeys:
		// Same reasoning in reverse: array values can never go weak on
		// their key (the key can't die), so they're ordinary strong
		// references and marked immediately instead of deferred to
		// ephemeron convergence, which only needs to reason about the
		// hash part's (possibly collectable) keys.
		for _, v := range t.array {
			gc.markValue(v)
		}
		gc.ephemeron = append(gc.ephemeron, t)
	case weakBoth:
		gc.allweak = append(gc.allweak, t)
	}
}

// barrierForward implements the forward write barrier used by strings,
// prototypes, closed upvalues, and userdata user-values: a black
// container that acquires a white child immediately marks the child,
// keeping the container black (spec §4.3).
func (gc *gcState) barrierForward(container *gcHeader, child Value) {
	if gc.phase != phasePropagate && gc.phase != phaseAtomic {
		return
	}
	if !container.mark.isBlack() {
		return
	}
	o, ok := child.(object)
	if !ok || !o.header().mark.isWhite() {
		return
	}
	gc.markObject(o)
}

// barrierBack implements the backward write barrier for tables: a black
// table that acquires a white child is demoted to gray and queued on
// grayagain for reprocessing during the atomic phase, rather than
// re-marking children one at a time (spec §4.3).
func (gc *gcState) barrierBack(t *table) {
	if gc.phase != phasePropagate && gc.phase != phaseAtomic {
		return
	}
	h := &t.gcHeader
	if !h.mark.isBlack() {
		return
	}
	h.mark = h.mark.withoutColor()
	gc.grayagain.PushBack(t)
}

// atomic runs the non-interruptible remark-and-clear pass: spec §4.2
// step 3.
func (gc *gcState) atomic() {
	gc.markObject(gc.owner.main)
	gc.markObject(gc.owner.registry)

	for t, ok := gc.grayagain.Front(); ok; t, ok = gc.grayagain.Front() {
		gc.grayagain.PopFront(1)
		gc.gray.PushBack(t)
	}
	gc.drainGray()

	gc.convergeEphemerons()

	gc.clearWeakValues()

	gc.separateFinalizable()
	gc.drainGray()

	gc.convergeEphemerons()
	// Weak-key tables still holding white keys get those entries cleared.
	gc.allweak = append(gc.allweak, gc.ephemeron...)
	gc.clearAllWeak()

	gc.currentWhite = gc.otherWhite()
	gc.stringCacheGen++

	gc.phase = phaseSweepAllGC
	gc.sweepCursor = gc.allgc
	gc.sweepPrevLink = &gc.allgc
}

func (gc *gcState) drainGray() {
	for gc.gray.Len() > 0 {
		gc.propagateStep()
	}
}

// convergeEphemerons repeatedly scans weak-key tables, marking a value
// only once its key is independently reachable, until a full pass makes
// no further progress (spec §4.2, §4.4 Weak tables).
func (gc *gcState) convergeEphemerons() {
	for {
		progress := false
		remaining := gc.ephemeron[:0]
		for _, t := range gc.ephemeron {
			anyWhiteKey := false
			for k, v := range t.hash {
				if _, dead := v.(deadKey); dead {
					continue
				}
				ko, isObj := k.(object)
				keyReachable := !isObj || !ko.header().mark.isWhite()
				if !keyReachable {
					anyWhiteKey = true
					continue
				}
				if vo, isObj := v.(object); isObj && vo.header().mark.isWhite() {
					gc.markObject(vo)
					progress = true
				}
			}
			if anyWhiteKey {
				remaining = append(remaining, t)
			} else {
				gc.allweak = append(gc.allweak, t)
			}
		}
		gc.ephemeron = remaining
		gc.drainGray()
		if !progress {
			return
		}
	}
}

func (gc *gcState) clearWeakValues() {
	for _, t := range gc.weak {
		for i, v := range t.array {
			vo, isObj := v.(object)
			if isObj && vo.header().mark.isWhite() {
				t.array[i] = None{}
			}
		}
		for k, v := range t.hash {
			vo, isObj := v.(object)
			if isObj && vo.header().mark.isWhite() {
				t.hash[k] = deadKey{}
			}
		}
	}
}

func (gc *gcState) clearAllWeak() {
	for _, t := range gc.allweak {
		// Array positions are plain Integers, never collectable, so only
		// the value at each slot can ever be the dead half of the pair.
		for i, v := range t.array {
			vo, isObj := v.(object)
			if isObj && vo.header().mark.isWhite() {
				t.array[i] = None{}
			}
		}
		for k, v := range t.hash {
			ko, kIsObj := k.(object)
			vo, vIsObj := v.(object)
			if (kIsObj && ko.header().mark.isWhite()) || (vIsObj && vo.header().mark.isWhite()) {
				delete(t.hash, k)
			}
		}
	}
}

// separateFinalizable moves unreachable objects with a pending finalizer
// from finobj to tobefnz, resurrecting them and everything they
// transitively reference (spec §3 Lifecycles, §4.2 step 3).
func (gc *gcState) separateFinalizable() {
	var keep object
	keepTail := &keep
	var move object
	moveTail := &move

	for o := gc.finobj; o != nil; {
		next := o.header().next
		if o.header().mark.isWhite() {
			o.header().next = nil
			*moveTail = o
			moveTail = &o.header().next
		} else {
			o.header().next = nil
			*keepTail = o
			keepTail = &o.header().next
		}
		o = next
	}
	gc.finobj = keep

	for o := move; o != nil; o = o.header().next {
		gc.markObject(o)
	}
	*moveTail = gc.tobefnz
	gc.tobefnz = move
}

// sweepStep walks up to sweepMax entries of the list rooted at *listHead,
// unlinking (this port's analogue of "freeing") objects still wearing the
// other white and repainting survivors current white, per spec §4.2
// step 4. Advances to nextPhase once the list is exhausted.
func (gc *gcState) sweepStep(listHead *object, nextPhase gcPhase) {
	if gc.sweepCursor == nil {
		gc.sweepCursor = *listHead
		gc.sweepPrevLink = listHead
	}
	n := 0
	for gc.sweepCursor != nil && n < sweepMax {
		o := gc.sweepCursor
		h := o.header()
		next := h.next
		if gc.isDead(h) {
			*gc.sweepPrevLink = next
		} else {
			h.mark = h.mark.withoutColor() | gc.currentWhite
			gc.sweepPrevLink = &h.next
		}
		gc.sweepCursor = next
		n++
	}
	if gc.sweepCursor == nil {
		gc.phase = nextPhase
		switch nextPhase {
		case phaseSweepFinObj:
			gc.sweepCursor = gc.finobj
			gc.sweepPrevLink = &gc.finobj
		case phaseSweepToBeFnz:
			gc.sweepCursor = gc.tobefnz
			gc.sweepPrevLink = &gc.tobefnz
		}
	}
}

// finishSweep closes out sweep-end (spec §4.2 step 4's shrink-string-table
// side effect) and decides where the cycle goes next: straight to pause if
// nothing is waiting to be finalized, otherwise into callfin with a fresh
// per-cycle finalizer budget (spec §4.2 step 5, §4.4 gcfinnum).
func (gc *gcState) finishSweep() {
	gc.owner.strings.sweep(func(s *stringObj) bool {
		return gc.isDead(&s.gcHeader)
	})
	if gc.tobefnz != nil {
		gc.phase = phaseCallFin
		gc.finStepBudget = gc.finNum
		if gc.finStepBudget < 1 {
			gc.finStepBudget = 1
		}
	} else {
		gc.phase = phasePause
	}
}

// callFinStep runs up to the current step's finalizer budget, doubling
// the budget for the next step, until tobefnz empties (spec §4.2 step 5).
// Returns the first finalizer error encountered, wrapped as a
// GC-metamethod error, so the caller (an interpreter step or an explicit
// collectgarbage call) can surface it the way any other runtime error
// propagates.
func (gc *gcState) callFinStep() error {
	budget := gc.finStepBudget
	if budget < 1 {
		budget = 1
	}
	var firstErr error
	for i := 0; i < budget && gc.tobefnz != nil; i++ {
		if err := gc.runOneFinalizer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if gc.tobefnz == nil {
		gc.phase = phasePause
	} else {
		gc.finStepBudget = budget * 2
	}
	return firstErr
}

// runOneFinalizer pops the head of tobefnz, relinks it onto allgc as an
// ordinary object with its finalized bit cleared, and invokes its __gc
// metamethod on the owning state's main thread. Clearing the bit here
// (not at resurrection) is what lets spec §8's re-root property hold: a
// finalizer that re-establishes a reference to its own object keeps that
// object alive for one further cycle, but the finalizer itself is not
// called again unless the metatable is re-installed with a fresh __gc.
func (gc *gcState) runOneFinalizer() error {
	o := gc.tobefnz
	if o == nil {
		return nil
	}
	h := o.header()
	gc.tobefnz = h.next
	h.next = gc.allgc
	gc.allgc = o
	h.mark &^= bitFinalized

	mt := finalizableMetatable(o)
	if mt == nil {
		return nil
	}
	mm := mt.lookupByName("__gc")
	if IsNone(mm) || !isCallable(mm) {
		return nil
	}
	v, ok := o.(Value)
	if !ok {
		return nil
	}
	if _, err := gc.owner.main.Call(mm, []Value{v}, 0); err != nil {
		return newGCMetamethodError(err)
	}
	return nil
}

// finalizableMetatable returns the metatable consulted for o's __gc
// event, or nil if o is not a kind that carries one.
func finalizableMetatable(o object) *table {
	switch v := o.(type) {
	case *table:
		return v.meta
	case *userdataObj:
		return v.meta
	default:
		return nil
	}
}

// migrateToFinalize splices o out of allgc and onto the head of finobj,
// marking its finalized bit, the first time a __gc entry becomes visible
// through its metatable (spec §3 Lifecycles). An object already carrying
// the finalized bit is left alone: per spec §8, a finalizer already run
// is not rearmed except by installing a fresh metatable, and an object
// already migrated (finalizer not yet run) must not be migrated twice.
func (gc *gcState) migrateToFinalize(o object) {
	h := o.header()
	if h.mark.isFinalized() {
		return
	}
	if gc.phase == phaseSweepAllGC && gc.sweepCursor == o {
		gc.sweepCursor = h.next
	}
	p := &gc.allgc
	for *p != nil && *p != o {
		p = &(*p).header().next
	}
	if *p != o {
		// Not presently linked into allgc (already in finobj/tobefnz from
		// an earlier migration, or not yet linked at all); nothing to do.
		return
	}
	if gc.phase == phaseSweepAllGC && gc.sweepPrevLink == &h.next {
		// o was the last node this sweep pass kept; once it splices out,
		// p (the slot that now holds its old next pointer) becomes the
		// link the paused cursor resumes writing through.
		gc.sweepPrevLink = p
	}
	*p = h.next
	h.next = gc.finobj
	gc.finobj = o
	h.mark |= bitFinalized
}
