package intern

import (
	"fmt"

	"github.com/RowanDark/strintern/gc"
	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/internal/hashset"
)

// generation is one storage segment of a table.
type generation struct {
	set       *hashset.Set[gc.Root]
	bootImage bool
}

// table is an ordered list of generations. Only the last generation receives
// inserts; earlier ones stay untouched so that pages shared with a parent
// process or mapped from an image are not dirtied. All methods require the
// owning InternTable's lock.
type table struct {
	policy      policy
	opts        hashset.Options
	generations []generation
	// epoch changes whenever a generation is added anywhere but the back,
	// which invalidates generation counts captured by callers.
	epoch uint64
}

func newTable(p policy, opts hashset.Options) *table {
	t := &table{policy: p, opts: opts}
	t.addNewTable()
	return t
}

func (t *table) newSet() *hashset.Set[gc.Root] {
	return hashset.New[gc.Root](rootEmpty{}, t.policy.hash, t.opts)
}

// find searches generations[skipFrozen:] newest first and returns the entry
// whose content equals ref's, or heap.Null. skipFrozen may only be non-zero
// when the caller already searched those generations under the same epoch.
func (t *table) find(ref heap.Ref, hash uint32, skipFrozen int) heap.Ref {
	match := t.policy.matchObject(t.policy.object(ref))
	for i := len(t.generations) - 1; i >= skipFrozen; i-- {
		set := t.generations[i].set
		if idx := set.Find(hash, match); idx >= 0 {
			return set.At(idx).Read()
		}
	}
	return heap.Null
}

func (t *table) findKey(key Utf8Key, hash uint32) heap.Ref {
	match := t.policy.matchKey(key)
	for i := len(t.generations) - 1; i >= 0; i-- {
		set := t.generations[i].set
		if idx := set.Find(hash, match); idx >= 0 {
			return set.At(idx).Read()
		}
	}
	return heap.Null
}

// insert adds ref to the newest generation. The caller must have checked
// with find that no equal entry exists.
func (t *table) insert(ref heap.Ref, hash uint32) {
	t.generations[len(t.generations)-1].set.Insert(gc.NewRoot(ref), hash)
}

// remove erases the entry whose content equals ref's from whichever
// generation holds it.
func (t *table) remove(ref heap.Ref, hash uint32) bool {
	match := t.policy.matchObject(t.policy.object(ref))
	for i := len(t.generations) - 1; i >= 0; i-- {
		set := t.generations[i].set
		if idx := set.Find(hash, match); idx >= 0 {
			set.EraseAt(idx)
			return true
		}
	}
	return false
}

// replace points the slot holding exactly old at moved instead.
func (t *table) replace(old, moved heap.Ref, hash uint32) bool {
	match := matchIdentity(old)
	for i := len(t.generations) - 1; i >= 0; i-- {
		set := t.generations[i].set
		if idx := set.Find(hash, match); idx >= 0 {
			set.At(idx).Assign(moved)
			return true
		}
	}
	return false
}

// addNewTable freezes the current generations; later inserts go to a new,
// empty one.
func (t *table) addNewTable() {
	t.generations = append(t.generations, generation{set: t.newSet()})
}

// insertAt places a loaded generation at index pos, ahead of the
// generations that follow it.
func (t *table) insertAt(pos int, set *hashset.Set[gc.Root], bootImage bool) {
	t.generations = append(t.generations, generation{})
	copy(t.generations[pos+1:], t.generations[pos:])
	t.generations[pos] = generation{set: set, bootImage: bootImage}
	t.epoch++
}

// sweepWeaks asks v about every entry, erasing dead ones and re-pointing
// moved ones.
func (t *table) sweepWeaks(v gc.IsMarkedVisitor) (cleared, moved int) {
	for _, g := range t.generations {
		cleared += g.set.Retain(func(root *gc.Root) bool {
			old := root.Read()
			current := v.IsMarked(old)
			if current == heap.Null {
				return false
			}
			if current != old {
				root.Assign(current)
				moved++
			}
			return true
		})
	}
	return cleared, moved
}

func (t *table) visitRoots(v gc.RootVisitor, info gc.RootInfo) {
	for _, g := range t.generations {
		g.set.Range(func(root *gc.Root) bool {
			root.VisitRoot(v, info)
			return true
		})
	}
}

func (t *table) size() int {
	n := 0
	for _, g := range t.generations {
		n += g.set.Len()
	}
	return n
}

// checkLoaded verifies stored hashes and the absence of duplicates for a
// generation about to be added.
func (t *table) checkLoaded(set *hashset.Set[gc.Root]) error {
	var err error
	set.Range(func(root *gc.Root) bool {
		ref := root.Read()
		s := t.policy.object(ref)
		if s.Hash() != s.ComputeHash() {
			err = fmt.Errorf("intern: loaded string %q has stored hash %#x, computed %#x", s, s.Hash(), s.ComputeHash())
			return false
		}
		if dup := t.find(ref, s.Hash(), 0); dup != heap.Null {
			err = fmt.Errorf("intern: loaded string %q already interned as %d", s, dup)
			return false
		}
		return true
	})
	return err
}
