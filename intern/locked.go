package intern

import (
	"github.com/RowanDark/strintern/gc"
	"github.com/RowanDark/strintern/heap"
)

// Locked is a view of the table for callers that already hold its lock, such
// as collector visitors and transaction rollback. It is only valid inside the
// WithLock callback that produced it.
type Locked struct {
	t     *InternTable
	valid bool
}

// WithLock runs fn with the table lock held.
func (t *InternTable) WithLock(fn func(l *Locked)) {
	t.mu.Lock()
	l := &Locked{t: t, valid: true}
	defer func() {
		l.valid = false
		t.mu.Unlock()
	}()
	fn(l)
}

func (l *Locked) check() {
	if !l.valid {
		l.t.assertf("locked view used after WithLock returned")
	}
}

// LookupStrong is InternTable.LookupStrong under a held lock.
func (l *Locked) LookupStrong(s heap.Ref) heap.Ref {
	l.check()
	if s == heap.Null {
		return heap.Null
	}
	return l.t.strong.find(s, l.t.policy.object(s).Hash(), 0)
}

// LookupWeak is InternTable.LookupWeak under a held lock. It cannot wait, so
// weak roots must already be accessible.
func (l *Locked) LookupWeak(s heap.Ref) heap.Ref {
	l.check()
	if !l.t.weakRootState.Accessible() {
		l.t.assertf("weak lookup while weak roots are %s", l.t.weakRootState)
	}
	if s == heap.Null {
		return heap.Null
	}
	return l.t.weak.find(s, l.t.policy.object(s).Hash(), 0)
}

// InsertStrong adds s to the strong table. s must not be interned already.
func (l *Locked) InsertStrong(s heap.Ref) heap.Ref {
	l.check()
	hash := l.t.policy.object(s).Hash()
	if l.t.debug && l.t.strong.find(s, hash, 0) != heap.Null {
		l.t.assertf("inserting duplicate strong intern %q", l.t.policy.object(s))
	}
	l.t.insertStrong(s, hash)
	return s
}

// InsertWeak adds s to the weak table. s must not be interned already.
func (l *Locked) InsertWeak(s heap.Ref) heap.Ref {
	l.check()
	hash := l.t.policy.object(s).Hash()
	if l.t.debug && l.t.weak.find(s, hash, 0) != heap.Null {
		l.t.assertf("inserting duplicate weak intern %q", l.t.policy.object(s))
	}
	l.t.insertWeak(s, hash)
	return s
}

func (l *Locked) RemoveStrong(s heap.Ref) {
	l.check()
	l.t.removeStrong(s, l.t.policy.object(s).Hash())
}

func (l *Locked) RemoveWeak(s heap.Ref) {
	l.check()
	l.t.removeWeak(s, l.t.policy.object(s).Hash())
}

// Entry describes one interned string for VisitInterns.
type Entry struct {
	Ref        heap.Ref
	Strong     bool
	Generation int
	BootImage  bool
}

// VisitInterns calls fn for the strong and then the weak entries of every
// generation selected by the two flags.
func (l *Locked) VisitInterns(visitBootImages, visitNonBootImages bool, fn func(e Entry)) {
	l.check()
	for _, tbl := range []*table{l.t.strong, l.t.weak} {
		strong := tbl == l.t.strong
		for i, g := range tbl.generations {
			if !(g.bootImage && visitBootImages || !g.bootImage && visitNonBootImages) {
				continue
			}
			g.set.Range(func(root *gc.Root) bool {
				fn(Entry{Ref: root.Read(), Strong: strong, Generation: i, BootImage: g.bootImage})
				return true
			})
		}
	}
}

// CountInterns counts the entries VisitInterns would report.
func (l *Locked) CountInterns(visitBootImages, visitNonBootImages bool) int {
	l.check()
	n := 0
	for _, tbl := range []*table{l.t.strong, l.t.weak} {
		for _, g := range tbl.generations {
			if g.bootImage && visitBootImages || !g.bootImage && visitNonBootImages {
				n += g.set.Len()
			}
		}
	}
	return n
}
