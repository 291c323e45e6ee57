// Package intern implements the runtime's string intern table.
//
// The table guarantees that strings with equal content are represented by a
// single canonical heap object, so identity comparison can stand in for
// content comparison. There are two tables: a strong one whose entries are
// permanent roots (string literals, explicit strong interns) and a weak one
// whose entries live only as long as something else references them. The
// collector drives root visiting, weak sweeping and weak root state changes
// through the methods in roots.go.
//
// Each table is a list of generations. Only the newest generation is
// written; AddNewTable freezes the current contents before the process is
// duplicated so shared pages stay clean, and snapshot images contribute
// generations that are used directly from the mapped image.
package intern

import (
	"fmt"
	"sync"

	"github.com/RowanDark/strintern/gc"
	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/internal/hashset"
	"github.com/RowanDark/strintern/internal/mutf8"
	"github.com/RowanDark/strintern/logging"
	"github.com/RowanDark/strintern/stats"
)

// Heap is the allocator and object reader the table works against.
// AllocString may block while a collection runs and returns a pinned
// reference; Pin and Release manage such pins.
type Heap interface {
	ObjectReader
	AllocString(utf16Len int, data []byte) (heap.Ref, error)
	Pin(ref heap.Ref)
	Release(ref heap.Ref)
}

type Options struct {
	Heap Heap

	MinLoadFactor   float64
	MaxLoadFactor   float64
	InitialCapacity int

	// DebugChecks turns protocol violations and image duplicates into
	// panics instead of leaving them unchecked.
	DebugChecks bool
	// LogNewRoots starts with new strong roots being logged for
	// VisitRootFlagNewRoots visits.
	LogNewRoots bool

	Logger *logging.Logger
	Stats  *stats.Tracker
}

type InternTable struct {
	mu   sync.Mutex
	cond *sync.Cond

	heap    Heap
	policy  policy
	strong  *table
	weak    *table
	debug   bool
	logger  *logging.Logger
	tracker *stats.Tracker

	newStrongRoots []gc.Root
	logNewRoots    bool
	weakRootState  gc.WeakRootState
	tx             *Transaction
}

// outcome says how an insert request was resolved.
type outcome int

const (
	foundStrong outcome = iota
	foundWeak
	promoted
	inserted
)

// New creates an intern table with one empty generation per table. It is
// meant to be created once at startup and shared by every consumer.
func New(opts Options) *InternTable {
	if opts.Heap == nil {
		panic("intern: Options.Heap is required")
	}
	p := policy{objects: opts.Heap}
	setOpts := hashset.Options{
		MinLoadFactor:   opts.MinLoadFactor,
		MaxLoadFactor:   opts.MaxLoadFactor,
		InitialCapacity: opts.InitialCapacity,
	}
	t := &InternTable{
		heap:        opts.Heap,
		policy:      p,
		strong:      newTable(p, setOpts),
		weak:        newTable(p, setOpts),
		debug:       opts.DebugChecks,
		logger:      opts.Logger.With("intern"),
		tracker:     opts.Stats,
		logNewRoots: opts.LogNewRoots,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// InternStrong returns the canonical strong string for utf16Len code units of
// modified UTF-8 data, allocating it if no equal string is interned. A weak
// entry with equal content is promoted to the strong table. On allocation
// failure it returns heap.Null and the allocator's error.
func (t *InternTable) InternStrong(utf16Len int, data []byte) (heap.Ref, error) {
	return t.internKey(NewUtf8Key(utf16Len, data), true)
}

// InternStrongUTF8 is InternStrong with the UTF-16 length computed from data.
func (t *InternTable) InternStrongUTF8(data []byte) (heap.Ref, error) {
	return t.InternStrong(mutf8.CountUTF16(data), data)
}

// InternStrongString interns the content of a Go string.
func (t *InternTable) InternStrongString(s string) (heap.Ref, error) {
	data, n := mutf8.FromString(s)
	return t.InternStrong(n, data)
}

// InternStrongObject interns an existing string object. It returns s itself
// if s becomes the canonical entry.
func (t *InternTable) InternStrongObject(s heap.Ref) heap.Ref {
	return t.internObject(s, true)
}

// InternWeak returns the canonical string for the content, preferring an
// existing strong entry. New content goes into the weak table.
func (t *InternTable) InternWeak(utf16Len int, data []byte) (heap.Ref, error) {
	return t.internKey(NewUtf8Key(utf16Len, data), false)
}

func (t *InternTable) InternWeakUTF8(data []byte) (heap.Ref, error) {
	return t.InternWeak(mutf8.CountUTF16(data), data)
}

func (t *InternTable) InternWeakString(s string) (heap.Ref, error) {
	data, n := mutf8.FromString(s)
	return t.InternWeak(n, data)
}

func (t *InternTable) InternWeakObject(s heap.Ref) heap.Ref {
	return t.internObject(s, false)
}

func (t *InternTable) internObject(s heap.Ref, strong bool) heap.Ref {
	if s == heap.Null {
		return heap.Null
	}
	hash := t.policy.object(s).Hash()
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, how := t.insert(s, hash, strong, 0)
	t.record(how, strong)
	return ref
}

func (t *InternTable) internKey(key Utf8Key, strong bool) (heap.Ref, error) {
	hash := key.Hash()

	t.mu.Lock()
	searched := len(t.strong.generations) - 1
	epoch := t.strong.epoch
	if ref := t.strong.findKey(key, hash); ref != heap.Null {
		t.mu.Unlock()
		t.tracker.RecordHit(true)
		return ref, nil
	}
	t.waitUntilAccessible()
	if ref := t.weak.findKey(key, hash); ref != heap.Null {
		how := foundWeak
		if strong {
			t.promote(ref, hash)
			how = promoted
		}
		t.mu.Unlock()
		t.record(how, strong)
		return ref, nil
	}
	t.mu.Unlock()

	// Allocation may run a collection, which needs this table's lock.
	candidate, err := t.heap.AllocString(key.utf16Len, key.data)
	if err != nil {
		t.tracker.RecordAllocationFailure()
		t.logger.Warnf("allocating %d code units failed: %v", key.utf16Len, err)
		return heap.Null, fmt.Errorf("interning string of length %d: %w", key.utf16Len, err)
	}
	defer t.heap.Release(candidate)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.strong.epoch != epoch {
		searched = 0
	}
	ref, how := t.insert(candidate, hash, strong, searched)
	if ref != candidate {
		t.tracker.RecordRaceLost()
	}
	t.record(how, strong)
	return ref, nil
}

// insert resolves s against both tables and inserts it if no equal entry
// exists. The strong generations before skipFrozen are not searched again.
// Requires t.mu.
func (t *InternTable) insert(s heap.Ref, hash uint32, strong bool, skipFrozen int) (heap.Ref, outcome) {
	for {
		if ref := t.strong.find(s, hash, skipFrozen); ref != heap.Null {
			return ref, foundStrong
		}
		if t.weakRootState.Accessible() {
			break
		}
		// Waiting releases the lock, so the strong table may change.
		skipFrozen = 0
		t.waitUntilAccessible()
	}
	if ref := t.weak.find(s, hash, 0); ref != heap.Null {
		if strong {
			t.promote(ref, hash)
			return ref, promoted
		}
		return ref, foundWeak
	}
	if strong {
		t.insertStrong(s, hash)
	} else {
		t.insertWeak(s, hash)
	}
	return s, inserted
}

func (t *InternTable) record(how outcome, strong bool) {
	switch how {
	case foundStrong:
		t.tracker.RecordHit(true)
	case foundWeak:
		t.tracker.RecordHit(false)
	case promoted:
		t.tracker.RecordPromotion()
	case inserted:
		t.tracker.RecordInsert(strong)
	}
}

// promote moves a weak entry into the strong table. Requires t.mu.
func (t *InternTable) promote(ref heap.Ref, hash uint32) {
	t.removeWeak(ref, hash)
	t.insertStrong(ref, hash)
}

func (t *InternTable) insertStrong(s heap.Ref, hash uint32) {
	if t.tx != nil {
		t.tx.record(s, hash, true, true)
	}
	if t.logNewRoots {
		t.newStrongRoots = append(t.newStrongRoots, gc.NewRoot(s))
	}
	t.strong.insert(s, hash)
}

func (t *InternTable) insertWeak(s heap.Ref, hash uint32) {
	if t.tx != nil {
		t.tx.record(s, hash, false, true)
	}
	t.weak.insert(s, hash)
}

func (t *InternTable) removeStrong(s heap.Ref, hash uint32) {
	if t.tx != nil {
		t.tx.record(s, hash, true, false)
	}
	if !t.strong.remove(s, hash) {
		t.assertf("removing %q: not in the strong table", t.policy.object(s))
	}
}

func (t *InternTable) removeWeak(s heap.Ref, hash uint32) {
	if t.tx != nil {
		t.tx.record(s, hash, false, false)
	}
	if !t.weak.remove(s, hash) {
		t.assertf("removing %q: not in the weak table", t.policy.object(s))
	}
}

// LookupStrong returns the strong entry equal to s, or heap.Null.
func (t *InternTable) LookupStrong(s heap.Ref) heap.Ref {
	if s == heap.Null {
		return heap.Null
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strong.find(s, t.policy.object(s).Hash(), 0)
}

// LookupStrongUTF8 looks up modified UTF-8 content without allocating.
func (t *InternTable) LookupStrongUTF8(utf16Len int, data []byte) heap.Ref {
	key := NewUtf8Key(utf16Len, data)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strong.findKey(key, key.Hash())
}

// LookupWeak returns the weak entry equal to s, or heap.Null. It blocks
// while weak roots are inaccessible.
func (t *InternTable) LookupWeak(s heap.Ref) heap.Ref {
	if s == heap.Null {
		return heap.Null
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waitUntilAccessible()
	return t.weak.find(s, t.policy.object(s).Hash(), 0)
}

func (t *InternTable) LookupWeakUTF8(utf16Len int, data []byte) heap.Ref {
	key := NewUtf8Key(utf16Len, data)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waitUntilAccessible()
	return t.weak.findKey(key, key.Hash())
}

// AddNewTable freezes the current generations of both tables. Later inserts
// only touch the new generations. It is called once before the process is
// duplicated.
func (t *InternTable) AddNewTable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strong.addNewTable()
	t.weak.addNewTable()
	t.tracker.RecordFreeze()
	t.logger.Debugf("froze generations: strong=%d weak=%d", len(t.strong.generations)-1, len(t.weak.generations)-1)
}

func (t *InternTable) assertf(format string, args ...interface{}) {
	if t.debug {
		panic(fmt.Sprintf("intern: "+format, args...))
	}
}
