package intern

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RowanDark/strintern/gc"
	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/internal/mutf8"
	"github.com/RowanDark/strintern/stats"
)

func newTestTable(t *testing.T, opts Options) (*InternTable, *heap.Heap) {
	t.Helper()
	h, ok := opts.Heap.(*heap.Heap)
	if !ok || h == nil {
		h = heap.New(heap.Options{})
		opts.Heap = h
	}
	opts.DebugChecks = true
	return New(opts), h
}

func mustIntern(t *testing.T) func(heap.Ref, error) heap.Ref {
	t.Helper()
	return func(ref heap.Ref, err error) heap.Ref {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected intern error: %v", err)
		}
		if ref == heap.Null {
			t.Fatalf("intern returned null")
		}
		return ref
	}
}

func TestInternStrongIdempotent(t *testing.T) {
	table, h := newTestTable(t, Options{})
	first := mustIntern(t)(table.InternStrong(5, []byte("hello")))
	other := []byte("xhellox")[1:6]
	second := mustIntern(t)(table.InternStrong(5, other))
	if first != second {
		t.Fatalf("expected identical references, got %d and %d", first, second)
	}
	if table.StrongSize() != 1 || table.WeakSize() != 0 {
		t.Fatalf("unexpected sizes: strong=%d weak=%d", table.StrongSize(), table.WeakSize())
	}
	if got := h.Deref(first).String(); got != "hello" {
		t.Fatalf("unexpected content %q", got)
	}
	if utf8 := mustIntern(t)(table.InternStrongUTF8([]byte("hello"))); utf8 != first {
		t.Fatalf("byte-only overload returned a different object")
	}
}

func TestInternStrongObject(t *testing.T) {
	table, h := newTestTable(t, Options{})
	data, n := mutf8.FromString("object")
	a, err := h.AllocString(n, data)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	b, err := h.AllocString(n, data)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if got := table.InternStrongObject(a); got != a {
		t.Fatalf("expected the first object to become canonical")
	}
	if got := table.InternStrongObject(b); got != a {
		t.Fatalf("expected equal content to resolve to the canonical object")
	}
	if got := table.LookupStrong(b); got != a {
		t.Fatalf("lookup by equal content returned %d", got)
	}
	if table.InternStrongObject(heap.Null) != heap.Null {
		t.Fatalf("null must intern to null")
	}
}

func TestInternCutOffSurrogatePair(t *testing.T) {
	table, h := newTestTable(t, Options{})
	data := []byte("\U0001F600")
	a := mustIntern(t)(table.InternStrong(1, data))
	if got := table.LookupStrongUTF8(1, data); got != a {
		t.Fatalf("lookup of interned content returned %d, want %d", got, a)
	}
	live := h.Live()
	if b := mustIntern(t)(table.InternStrong(1, data)); b != a {
		t.Fatalf("expected %d, got %d", a, b)
	}
	if h.Live() != live {
		t.Fatalf("repeated intern allocated a candidate: %d objects live, want %d", h.Live(), live)
	}
}

func TestPromotion(t *testing.T) {
	table, _ := newTestTable(t, Options{})
	weak := mustIntern(t)(table.InternWeakString("x"))
	if table.WeakSize() != 1 {
		t.Fatalf("expected one weak entry")
	}
	strong := mustIntern(t)(table.InternStrongString("x"))
	if weak != strong {
		t.Fatalf("promotion must keep the same object")
	}
	data, n := mutf8.FromString("x")
	if table.LookupWeakUTF8(n, data) != heap.Null {
		t.Fatalf("promoted entry still present in the weak table")
	}
	if table.LookupStrongUTF8(n, data) != strong {
		t.Fatalf("promoted entry missing from the strong table")
	}
	if table.Size() != 1 {
		t.Fatalf("expected a single entry overall, got %d", table.Size())
	}
}

func TestWeakPrefersStrong(t *testing.T) {
	table, _ := newTestTable(t, Options{})
	strong := mustIntern(t)(table.InternStrongString("literal"))
	weak := mustIntern(t)(table.InternWeakString("literal"))
	if strong != weak {
		t.Fatalf("weak intern of strong content must return the strong entry")
	}
	if table.WeakSize() != 0 {
		t.Fatalf("no weak entry may be created for strong content")
	}
	if table.LookupWeak(strong) != heap.Null {
		t.Fatalf("strong content found in the weak table")
	}

	data, _ := mutf8.FromString("café")
	w := mustIntern(t)(table.InternWeakUTF8(data))
	if again := mustIntern(t)(table.InternWeakString("café")); again != w {
		t.Fatalf("weak overloads disagree: %d and %d", w, again)
	}
	if table.WeakSize() != 1 {
		t.Fatalf("expected one weak entry, got %d", table.WeakSize())
	}
}

func TestRaceResolution(t *testing.T) {
	h := heap.New(heap.Options{})
	collector := gc.NewCollector(h, gc.Options{})
	tracker := stats.NewTracker(stats.Options{})
	table, _ := newTestTable(t, Options{Heap: h, Stats: tracker})
	collector.AddRootSource(table)
	collector.AddSystemWeakHolder(table)

	const workers = 32
	results := make([]heap.Ref, workers)
	start := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			<-start
			ref, err := table.InternStrongString("race")
			results[i] = ref
			return err
		})
	}
	close(start)
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, ref := range results {
		if ref != results[0] {
			t.Fatalf("worker %d got %d, worker 0 got %d", i, ref, results[0])
		}
	}
	if table.StrongSize() != 1 {
		t.Fatalf("expected one strong entry, got %d", table.StrongSize())
	}
	snapshot := tracker.Snapshot()
	if snapshot.StrongInserts != 1 {
		t.Fatalf("expected exactly one insert, got %d", snapshot.StrongInserts)
	}
	collector.Collect()
	if h.Live() != 1 {
		t.Fatalf("expected losing candidates to be reclaimed, %d objects live", h.Live())
	}
}

func TestSweepClearsDeadWeaks(t *testing.T) {
	table, _ := newTestTable(t, Options{})
	keep := mustIntern(t)(table.InternWeakString("keep"))
	temp := mustIntern(t)(table.InternWeakString("temp"))
	before := table.WeakSize()

	table.SweepInternTableWeaks(gc.IsMarkedFunc(func(ref heap.Ref) heap.Ref {
		if ref == temp {
			return heap.Null
		}
		return ref
	}))

	data, n := mutf8.FromString("temp")
	if table.LookupWeakUTF8(n, data) != heap.Null {
		t.Fatalf("dead weak entry survived the sweep")
	}
	if table.WeakSize() != before-1 {
		t.Fatalf("expected weak size %d, got %d", before-1, table.WeakSize())
	}
	if table.LookupWeak(keep) != keep {
		t.Fatalf("live weak entry lost")
	}
}

func TestSweepRelocatesMovedWeaks(t *testing.T) {
	table, h := newTestTable(t, Options{})
	old := mustIntern(t)(table.InternWeakString("moving"))
	data, n := mutf8.FromString("moving")
	moved, err := h.AllocString(n, data)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	table.SweepInternTableWeaks(gc.IsMarkedFunc(func(ref heap.Ref) heap.Ref {
		if ref == old {
			return moved
		}
		return ref
	}))
	if got := table.LookupWeakUTF8(n, data); got != moved {
		t.Fatalf("expected relocated reference %d, got %d", moved, got)
	}
}

func TestGenerationIsolation(t *testing.T) {
	table, _ := newTestTable(t, Options{})
	old := mustIntern(t)(table.InternStrongString("old"))
	table.AddNewTable()
	fresh := mustIntern(t)(table.InternStrongString("new"))
	again := mustIntern(t)(table.InternStrongString("old"))
	if again != old {
		t.Fatalf("content in a frozen generation must still be found")
	}

	strongGens, weakGens := table.Generations()
	if strongGens != 2 || weakGens != 2 {
		t.Fatalf("expected two generations per table, got %d/%d", strongGens, weakGens)
	}
	where := map[heap.Ref]int{}
	table.WithLock(func(l *Locked) {
		l.VisitInterns(true, true, func(e Entry) {
			where[e.Ref] = e.Generation
		})
	})
	if where[old] != 0 || where[fresh] != 1 || len(where) != 2 {
		t.Fatalf("unexpected generation placement: %v", where)
	}
}

func TestFindSkipsSearchedGenerations(t *testing.T) {
	table, _ := newTestTable(t, Options{})
	old := mustIntern(t)(table.InternStrongString("frozen"))
	table.AddNewTable()
	hash := table.policy.object(old).Hash()
	table.WithLock(func(*Locked) {
		if table.strong.find(old, hash, 0) != old {
			t.Errorf("full scan should find the frozen entry")
		}
		if table.strong.find(old, hash, 1) != heap.Null {
			t.Errorf("bounded scan should skip the frozen generation")
		}
	})
}

func TestWeakStateGating(t *testing.T) {
	table, _ := newTestTable(t, Options{})
	weak := mustIntern(t)(table.InternWeakString("gated"))
	strong := mustIntern(t)(table.InternStrongString("open"))

	table.ChangeWeakRootState(gc.WeakRootStateNoReadsOrWrites)
	if table.LookupStrong(strong) != strong {
		t.Fatalf("strong lookups must not wait on the weak root state")
	}

	done := make(chan heap.Ref, 1)
	go func() { done <- table.LookupWeak(weak) }()
	select {
	case <-done:
		t.Fatalf("weak lookup completed while weak roots were inaccessible")
	case <-time.After(20 * time.Millisecond):
	}

	// A broadcast without a state change must not release the reader.
	table.BroadcastForNewInterns()
	select {
	case <-done:
		t.Fatalf("weak lookup completed after a spurious broadcast")
	case <-time.After(10 * time.Millisecond):
	}

	table.ChangeWeakRootState(gc.WeakRootStateNormal)
	select {
	case got := <-done:
		if got != weak {
			t.Fatalf("unexpected lookup result %d", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("weak lookup still blocked after the state change")
	}
}

func TestRollbackWaitsForWeakAccess(t *testing.T) {
	table, _ := newTestTable(t, Options{})
	tx, err := table.BeginTransaction()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustIntern(t)(table.InternWeakString("undo-me"))

	table.ChangeWeakRootState(gc.WeakRootStateNoReadsOrWrites)
	done := make(chan struct{})
	go func() {
		tx.Rollback()
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("rollback touched the weak table while weak roots were inaccessible")
	case <-time.After(20 * time.Millisecond):
	}
	if table.WeakSize() != 1 {
		t.Fatalf("weak table changed while inaccessible")
	}

	table.ChangeWeakRootState(gc.WeakRootStateNormal)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("rollback still blocked after the state change")
	}
	if table.WeakSize() != 0 {
		t.Fatalf("expected the weak insert to be undone, weak size %d", table.WeakSize())
	}
}

func TestMarkNewRootsStateIsAccessible(t *testing.T) {
	table, _ := newTestTable(t, Options{})
	table.ChangeWeakRootState(gc.WeakRootStateMarkNewRoots)
	mustIntern(t)(table.InternWeakString("during-marking"))
	if table.WeakRootState() != gc.WeakRootStateMarkNewRoots {
		t.Fatalf("unexpected state %s", table.WeakRootState())
	}
}

func TestVisitRootsFlags(t *testing.T) {
	table, h := newTestTable(t, Options{LogNewRoots: true})
	a := mustIntern(t)(table.InternStrongString("a"))
	mustIntern(t)(table.InternStrongString("b"))
	weak := mustIntern(t)(table.InternWeakString("w"))

	var visited []heap.Ref
	collect := gc.RootVisitorFunc(func(root *gc.Root, info gc.RootInfo) {
		if info.Type != gc.RootInternedString {
			t.Errorf("unexpected root type %s", info.Type)
		}
		visited = append(visited, root.Read())
	})

	table.VisitRoots(collect, gc.VisitRootFlagNewRoots)
	if len(visited) != 2 || table.NewRootCount() != 2 {
		t.Fatalf("expected two logged roots, visited %v", visited)
	}

	visited = nil
	table.VisitRoots(collect, gc.VisitRootFlagAllRoots|gc.VisitRootFlagWeakRoots)
	if len(visited) != 3 {
		t.Fatalf("expected strong and weak roots, visited %v", visited)
	}
	if !containsRef(visited, weak) {
		t.Fatalf("weak root not visited: %v", visited)
	}
	if table.NewRootCount() != 0 {
		t.Fatalf("a full visit must clear the new-root log")
	}

	table.VisitRoots(collect, gc.VisitRootFlagStopLoggingNewRoots)
	mustIntern(t)(table.InternStrongString("c"))
	if table.NewRootCount() != 0 {
		t.Fatalf("roots logged after logging stopped")
	}
	table.VisitRoots(collect, gc.VisitRootFlagStartLoggingNewRoots)
	mustIntern(t)(table.InternStrongString("d"))

	// A visitor that moves a logged root re-points the table entry.
	data, n := mutf8.FromString("d")
	moved, err := h.AllocString(n, data)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	table.VisitRoots(gc.RootVisitorFunc(func(root *gc.Root, _ gc.RootInfo) {
		root.Assign(moved)
	}), gc.VisitRootFlagNewRoots|gc.VisitRootFlagClearRootLog)
	if got := table.LookupStrongUTF8(n, data); got != moved {
		t.Fatalf("expected moved root %d, got %d", moved, got)
	}
	if table.NewRootCount() != 0 {
		t.Fatalf("ClearRootLog must empty the log")
	}
	if table.LookupStrong(a) != a {
		t.Fatalf("unrelated entry disturbed")
	}
}

func TestAllocationFailure(t *testing.T) {
	h := heap.New(heap.Options{Limit: 1})
	tracker := stats.NewTracker(stats.Options{})
	table, _ := newTestTable(t, Options{Heap: h, Stats: tracker})
	mustIntern(t)(table.InternStrongString("first"))
	ref, err := table.InternStrongString("second")
	if !errors.Is(err, heap.ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	if ref != heap.Null {
		t.Fatalf("failed intern must return null")
	}
	if tracker.Snapshot().AllocFailures != 1 {
		t.Fatalf("allocation failure not recorded")
	}
	if table.StrongSize() != 1 {
		t.Fatalf("failed intern must not change the table")
	}
}

func TestAllocationCollectsWithoutDeadlock(t *testing.T) {
	h := heap.New(heap.Options{Limit: 2})
	collector := gc.NewCollector(h, gc.Options{})
	table, _ := newTestTable(t, Options{Heap: h})
	collector.AddRootSource(table)
	collector.AddSystemWeakHolder(table)

	mustIntern(t)(table.InternWeakString("a"))
	mustIntern(t)(table.InternWeakString("b"))

	done := make(chan error, 1)
	go func() {
		_, err := table.InternStrongString("c")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("intern deadlocked while allocation triggered a collection")
	}
	if collector.Cycles() != 1 {
		t.Fatalf("expected one collection, got %d", collector.Cycles())
	}
	if table.WeakSize() != 0 || table.StrongSize() != 1 {
		t.Fatalf("unexpected sizes after collection: strong=%d weak=%d", table.StrongSize(), table.WeakSize())
	}
}

func TestEndToEnd(t *testing.T) {
	h := heap.New(heap.Options{})
	collector := gc.NewCollector(h, gc.Options{})
	table, _ := newTestTable(t, Options{Heap: h})
	collector.AddRootSource(table)
	collector.AddSystemWeakHolder(table)

	abc := mustIntern(t)(table.InternStrong(3, []byte("abc")))
	again := mustIntern(t)(table.InternStrong(3, append([]byte(nil), "abc"...)))
	if abc != again || table.StrongSize() != 1 {
		t.Fatalf("expected one strong entry, got %d", table.StrongSize())
	}

	mustIntern(t)(table.InternWeak(3, []byte("xyz")))
	collector.Collect()

	if table.WeakSize() != 0 {
		t.Fatalf("expected the unreachable weak entry to be swept, weak size %d", table.WeakSize())
	}
	if table.LookupWeakUTF8(3, []byte("xyz")) != heap.Null {
		t.Fatalf("swept entry still found")
	}
	if h.Deref(abc) == nil {
		t.Fatalf("strong entry reclaimed")
	}
}

func TestPinnedWeakSurvivesCollection(t *testing.T) {
	h := heap.New(heap.Options{})
	collector := gc.NewCollector(h, gc.Options{})
	table, _ := newTestTable(t, Options{Heap: h})
	collector.AddRootSource(table)
	collector.AddSystemWeakHolder(table)

	ref := mustIntern(t)(table.InternWeakString("held"))
	h.Pin(ref)
	collector.Collect()
	if table.LookupWeak(ref) != ref {
		t.Fatalf("externally reachable weak entry was swept")
	}
	h.Release(ref)
	collector.Collect()
	if table.WeakSize() != 0 {
		t.Fatalf("released weak entry was not swept")
	}
}

func TestTransactionRollback(t *testing.T) {
	table, _ := newTestTable(t, Options{})
	existing := mustIntern(t)(table.InternWeakString("existing"))
	kept := mustIntern(t)(table.InternStrongString("kept"))

	tx, err := table.BeginTransaction()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := table.BeginTransaction(); !errors.Is(err, ErrTransactionActive) {
		t.Fatalf("expected ErrTransactionActive, got %v", err)
	}
	mustIntern(t)(table.InternStrongString("existing"))
	mustIntern(t)(table.InternStrongString("added"))
	mustIntern(t)(table.InternWeakString("added-weak"))
	if tx.Len() != 4 {
		t.Fatalf("expected 4 journaled changes, got %d", tx.Len())
	}
	tx.Rollback()

	if table.LookupStrong(existing) != heap.Null || table.LookupWeak(existing) != existing {
		t.Fatalf("promotion was not undone")
	}
	data, n := mutf8.FromString("added")
	if table.LookupStrongUTF8(n, data) != heap.Null {
		t.Fatalf("insert was not undone")
	}
	if table.WeakSize() != 1 || table.StrongSize() != 1 || table.LookupStrong(kept) != kept {
		t.Fatalf("unexpected sizes after rollback: strong=%d weak=%d", table.StrongSize(), table.WeakSize())
	}

	tx, err = table.BeginTransaction()
	if err != nil {
		t.Fatalf("a new transaction should start after rollback: %v", err)
	}
	mustIntern(t)(table.InternStrongString("committed"))
	tx.Commit()
	tx.Rollback()
	if table.StrongSize() != 2 {
		t.Fatalf("rollback after commit must be a no-op")
	}
}

func TestLockedView(t *testing.T) {
	table, h := newTestTable(t, Options{})
	data, n := mutf8.FromString("locked")
	ref, err := h.AllocString(n, data)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	var leaked *Locked
	table.WithLock(func(l *Locked) {
		l.InsertWeak(ref)
		if l.LookupWeak(ref) != ref {
			t.Errorf("inserted weak entry not found")
		}
		l.RemoveWeak(ref)
		l.InsertStrong(ref)
		if l.CountInterns(true, true) != 1 || l.CountInterns(true, false) != 0 {
			t.Errorf("unexpected counts")
		}
		leaked = l
	})
	if table.LookupStrong(ref) != ref {
		t.Fatalf("locked insert not visible")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for a view used outside WithLock")
		}
	}()
	leaked.LookupStrong(ref)
}

func TestLockedDuplicateInsertPanics(t *testing.T) {
	table, _ := newTestTable(t, Options{})
	ref := mustIntern(t)(table.InternStrongString("dup"))
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for a duplicate insert")
		}
	}()
	table.WithLock(func(l *Locked) { l.InsertStrong(ref) })
}

func TestDump(t *testing.T) {
	tracker := stats.NewTracker(stats.Options{})
	table, _ := newTestTable(t, Options{Stats: tracker})
	mustIntern(t)(table.InternStrongString("s"))
	mustIntern(t)(table.InternWeakString("w"))
	var buf bytes.Buffer
	if err := table.Dump(&buf); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	for _, want := range []string{"Intern table: 1 strong; 1 weak", "Generations: 1 strong; 1 weak", "calls=2"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("expected %q in dump:\n%s", want, buf.String())
		}
	}
}

func TestConcurrentMixedInterning(t *testing.T) {
	table, _ := newTestTable(t, Options{})
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	var mu sync.Mutex
	canonical := map[string]heap.Ref{}
	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				word := words[(i+w)%len(words)]
				var ref heap.Ref
				var err error
				if (i+w)%3 == 0 {
					ref, err = table.InternWeakString(word)
				} else {
					ref, err = table.InternStrongString(word)
				}
				if err != nil {
					return err
				}
				mu.Lock()
				if prev, ok := canonical[word]; ok && prev != ref {
					mu.Unlock()
					return errors.New("two canonical objects for " + word)
				}
				canonical[word] = ref
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Size() != len(words) {
		t.Fatalf("expected %d entries, got %d", len(words), table.Size())
	}
}

func containsRef(refs []heap.Ref, want heap.Ref) bool {
	for _, ref := range refs {
		if ref == want {
			return true
		}
	}
	return false
}
