package intern

import (
	"errors"
	"fmt"

	"github.com/RowanDark/strintern/gc"
	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/internal/hashset"
)

// ImageSpace is a mapped snapshot image that may carry a pre-built intern
// table section: one or more generations packed back to back in the layout
// produced by AppendGeneration.
type ImageSpace interface {
	InternedStrings() []byte
	IsAppImage() bool
}

// RootFixup maps a reference stored in an image to the live reference, for
// example by adding the image's relocation base. It must not return
// heap.Null.
type RootFixup func(ref heap.Ref) heap.Ref

var errNullFixup = errors.New("intern: fixup produced a null reference")

// AddImageStringsToTable adds every generation in the image's intern section
// to the front of the strong table, keeping their packed order. Generations
// from a boot image are marked as such. Duplicates against existing content
// are only checked with DebugChecks.
//
// The load is all or nothing: every generation is decoded and every fixup
// computed before the section or the table is modified.
func (t *InternTable) AddImageStringsToTable(space ImageSpace, fixup RootFixup) error {
	section := space.InternedStrings()
	var sets []*hashset.Set[gc.Root]
	for off := 0; off < len(section); {
		set, n, err := hashset.ReadFrom[gc.Root](section[off:], rootEmpty{}, t.policy.hash, false)
		if err != nil {
			return fmt.Errorf("loading intern generation at offset %d: %w", off, err)
		}
		sets = append(sets, set)
		off += n
	}
	return t.commitGenerations(sets, fixup, !space.IsAppImage(), len(section))
}

// AddTableFromMemory reads one generation from the start of buf and adds it
// in front of the strong table's generations. The bucket array is used in
// place when buf is suitably aligned, so buf must stay mapped for the life of
// the table. fixup, when non-nil, is applied to every stored reference.
// AddTableFromMemory returns the number of bytes consumed. On error neither
// buf nor the table is modified.
func (t *InternTable) AddTableFromMemory(buf []byte, fixup RootFixup, isBootImage bool) (int, error) {
	set, n, err := hashset.ReadFrom[gc.Root](buf, rootEmpty{}, t.policy.hash, false)
	if err != nil {
		return 0, err
	}
	if err := t.commitGenerations([]*hashset.Set[gc.Root]{set}, fixup, isBootImage, n); err != nil {
		return 0, err
	}
	return n, nil
}

// commitGenerations relocates sets and inserts the non-empty ones, in order,
// at the front of the strong table.
func (t *InternTable) commitGenerations(sets []*hashset.Set[gc.Root], fixup RootFixup, isBootImage bool, size int) error {
	// Fixups run under the lock so concurrent interns never see a partially
	// relocated generation.
	t.mu.Lock()
	defer t.mu.Unlock()
	if fixup != nil {
		relocated := make([][]heap.Ref, len(sets))
		for i, set := range sets {
			refs := make([]heap.Ref, 0, set.Len())
			set.Range(func(root *gc.Root) bool {
				ref := fixup(root.Read())
				if ref == heap.Null {
					return false
				}
				refs = append(refs, ref)
				return true
			})
			if len(refs) != set.Len() {
				return fmt.Errorf("relocating generation %d: %w", i, errNullFixup)
			}
			relocated[i] = refs
		}
		for i, set := range sets {
			j := 0
			set.Range(func(root *gc.Root) bool {
				root.Assign(relocated[i][j])
				j++
				return true
			})
		}
	}

	pos, entries := 0, 0
	for _, set := range sets {
		if t.debug {
			if err := t.strong.checkLoaded(set); err != nil {
				panic(err.Error())
			}
		}
		if set.Empty() {
			continue
		}
		t.strong.insertAt(pos, set, isBootImage)
		pos++
		entries += set.Len()
		t.tracker.RecordImageLoad(set.Len())
		t.logger.Debugf("loaded generation: entries=%d boot_image=%v zero_copy=%v", set.Len(), isBootImage, !set.Owned())
	}
	if pos > 0 {
		t.logger.Debugf("loaded %d generations: entries=%d bytes=%d", pos, entries, size)
	}
	return nil
}

// AppendGeneration encodes objects as one generation in the image layout and
// appends it to dst. Object i is stored as reference first+i, so generations
// sharing one object list can be loaded with a single RootFixup. objects
// must not hold equal content twice.
func AppendGeneration(dst []byte, objects []*heap.String, first heap.Ref, opts hashset.Options) []byte {
	if first == heap.Null {
		first = 1
	}
	p := policy{objects: sliceReader{objects: objects, first: first}}
	if opts.InitialCapacity < len(objects) {
		opts.InitialCapacity = len(objects)
	}
	set := hashset.New[gc.Root](rootEmpty{}, p.hash, opts)
	for i, s := range objects {
		set.Insert(gc.NewRoot(first+heap.Ref(i)), s.Hash())
	}
	return set.AppendBinary(dst)
}

// sliceReader resolves reference first+i to objects[i].
type sliceReader struct {
	objects []*heap.String
	first   heap.Ref
}

func (r sliceReader) Deref(ref heap.Ref) *heap.String {
	if ref < r.first || int(ref-r.first) >= len(r.objects) {
		return nil
	}
	return r.objects[ref-r.first]
}
