package intern

import (
	"github.com/RowanDark/strintern/gc"
	"github.com/RowanDark/strintern/heap"
)

// VisitRoots reports strong roots to v. With VisitRootFlagAllRoots every
// strong entry is visited and the new-root log is cleared afterwards; with
// VisitRootFlagNewRoots only logged roots are visited, and entries the
// visitor moved are re-pointed in the table. VisitRootFlagWeakRoots also
// visits every weak entry.
func (t *InternTable) VisitRoots(v gc.RootVisitor, flags gc.VisitRootFlags) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := gc.RootInfo{Type: gc.RootInternedString}
	switch {
	case flags.Has(gc.VisitRootFlagAllRoots):
		t.strong.visitRoots(v, info)
	case flags.Has(gc.VisitRootFlagNewRoots):
		for i := range t.newStrongRoots {
			root := &t.newStrongRoots[i]
			old := root.Read()
			root.VisitRoot(v, info)
			if moved := root.Read(); moved != old {
				t.strong.replace(old, moved, t.policy.object(moved).Hash())
			}
		}
	}
	if flags.Has(gc.VisitRootFlagWeakRoots) {
		t.weak.visitRoots(v, info)
	}
	full := flags.Has(gc.VisitRootFlagAllRoots) && !flags.Has(gc.VisitRootFlagNewRoots)
	if full || flags.Has(gc.VisitRootFlagClearRootLog) {
		t.newStrongRoots = t.newStrongRoots[:0]
	}
	if flags.Has(gc.VisitRootFlagStartLoggingNewRoots) {
		t.logNewRoots = true
	} else if flags.Has(gc.VisitRootFlagStopLoggingNewRoots) {
		t.logNewRoots = false
	}
}

// NewRootCount returns the number of strong roots logged since the log was
// last cleared.
func (t *InternTable) NewRootCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.newStrongRoots)
}

// SweepInternTableWeaks clears weak entries whose objects v reports dead and
// re-points entries whose objects moved. It runs once per collection while
// weak roots are inaccessible to mutators.
func (t *InternTable) SweepInternTableWeaks(v gc.IsMarkedVisitor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cleared, moved := t.weak.sweepWeaks(v)
	t.tracker.RecordSweep(cleared, moved)
	t.logger.Debugf("swept weak interns: cleared=%d moved=%d remaining=%d", cleared, moved, t.weak.size())
}

// SweepSystemWeaks lets the table be registered as a gc.SystemWeakHolder.
func (t *InternTable) SweepSystemWeaks(v gc.IsMarkedVisitor) {
	t.SweepInternTableWeaks(v)
}

// ChangeWeakRootState updates the weak root state and wakes waiters when weak
// roots become accessible again.
func (t *InternTable) ChangeWeakRootState(state gc.WeakRootState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	previous := t.weakRootState
	t.weakRootState = state
	if state.Accessible() {
		t.cond.Broadcast()
	}
	if previous != state {
		t.logger.Debugf("weak root state %s -> %s", previous, state)
	}
}

func (t *InternTable) WeakRootState() gc.WeakRootState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.weakRootState
}

// BroadcastForNewInterns wakes every caller waiting for weak root access so
// it can re-check the state.
func (t *InternTable) BroadcastForNewInterns() {
	t.mu.Lock()
	t.cond.Broadcast()
	t.mu.Unlock()
}

// waitUntilAccessible blocks until weak roots may be read. Requires t.mu,
// which is released while waiting.
func (t *InternTable) waitUntilAccessible() {
	if t.weakRootState.Accessible() {
		return
	}
	t.tracker.RecordWeakWait()
	for !t.weakRootState.Accessible() {
		t.cond.Wait()
	}
}

// Size returns the total number of interned strings.
func (t *InternTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strong.size() + t.weak.size()
}

func (t *InternTable) StrongSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strong.size()
}

func (t *InternTable) WeakSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.weak.size()
}

// Generations returns the number of generations in the strong and weak
// tables.
func (t *InternTable) Generations() (strong, weak int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.strong.generations), len(t.weak.generations)
}

var _ gc.RootSource = (*InternTable)(nil)
var _ gc.SystemWeakHolder = (*InternTable)(nil)
var _ Heap = (*heap.Heap)(nil)
