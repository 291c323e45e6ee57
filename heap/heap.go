// Package heap provides a small managed object heap holding boxed strings.
//
// Objects are addressed through compressed references (Ref) rather than Go
// pointers so that tables of references can live in plain memory such as a
// mapped snapshot image. The heap keeps mark bits for an external collector
// and reclaims unmarked objects on Sweep. Objects registered from a snapshot
// image are immune from collection.
package heap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RowanDark/strintern/logging"
)

// ErrOutOfMemory is returned when an allocation cannot be satisfied even
// after a collection.
var ErrOutOfMemory = errors.New("heap: out of memory")

type Options struct {
	// Limit caps the number of live non-image objects. Zero means unlimited.
	Limit  int
	Logger *logging.Logger
}

type slot struct {
	obj    *String
	marked bool
	immune bool
	pins   int
}

type Heap struct {
	mu      sync.Mutex
	slots   []slot
	free    []Ref
	live    int
	limit   int
	marking bool
	logger  *logging.Logger
	collect func()
}

func New(opts Options) *Heap {
	return &Heap{
		limit:  opts.Limit,
		logger: opts.Logger.With("heap"),
	}
}

// SetCollectHook installs the function run when an allocation finds the heap
// full. It is expected to perform a full collection and may block.
func (h *Heap) SetCollectHook(fn func()) {
	h.mu.Lock()
	h.collect = fn
	h.mu.Unlock()
}

// AllocString allocates a string holding utf16Len code units decoded from
// modified UTF-8 data. The returned reference is pinned so that a collection
// running before the caller publishes it cannot reclaim it; the caller must
// Release it once it is reachable some other way.
//
// AllocString may block while a collection runs. Callers must not hold locks
// that the collector needs.
func (h *Heap) AllocString(utf16Len int, data []byte) (Ref, error) {
	return h.alloc(func() *String { return NewStringFromModifiedUTF8(utf16Len, data) })
}

// AllocUTF16 is AllocString for content that is already decoded.
func (h *Heap) AllocUTF16(units []uint16) (Ref, error) {
	return h.alloc(func() *String { return NewString(units) })
}

func (h *Heap) alloc(build func() *String) (Ref, error) {
	h.mu.Lock()
	if h.full() {
		hook := h.collect
		h.mu.Unlock()
		if hook == nil {
			return Null, fmt.Errorf("allocating string (%d live objects): %w", h.Live(), ErrOutOfMemory)
		}
		h.logger.Debugf("exhausted at %d objects, requesting collection", h.Live())
		hook()
		h.mu.Lock()
		if h.full() {
			live := h.live
			h.mu.Unlock()
			return Null, fmt.Errorf("allocating string (%d live objects): %w", live, ErrOutOfMemory)
		}
	}
	defer h.mu.Unlock()

	obj := build()
	var ref Ref
	if n := len(h.free); n > 0 {
		ref = h.free[n-1]
		h.free = h.free[:n-1]
		h.slots[ref-1] = slot{obj: obj}
	} else {
		h.slots = append(h.slots, slot{obj: obj})
		ref = Ref(len(h.slots))
	}
	h.slots[ref-1].pins = 1
	// Objects allocated while marking is in progress survive the cycle.
	h.slots[ref-1].marked = h.marking
	h.live++
	return ref, nil
}

func (h *Heap) full() bool {
	return h.limit > 0 && h.live >= h.limit
}

// Pin keeps ref alive across collections until a matching Release.
func (h *Heap) Pin(ref Ref) {
	h.mu.Lock()
	if s := h.lookup(ref); s != nil {
		s.pins++
	}
	h.mu.Unlock()
}

// Release drops one pin on ref.
func (h *Heap) Release(ref Ref) {
	h.mu.Lock()
	if s := h.lookup(ref); s != nil && s.pins > 0 {
		s.pins--
	}
	h.mu.Unlock()
}

// Deref returns the object for ref, or nil for null and reclaimed references.
func (h *Heap) Deref(ref Ref) *String {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s := h.lookup(ref); s != nil {
		return s.obj
	}
	return nil
}

func (h *Heap) lookup(ref Ref) *slot {
	if ref == Null || int(ref) > len(h.slots) {
		return nil
	}
	s := &h.slots[ref-1]
	if s.obj == nil {
		return nil
	}
	return s
}

// MapImage registers objects loaded from a snapshot image. They occupy
// consecutive references starting at the returned base and are never
// reclaimed.
func (h *Heap) MapImage(objects []*String) Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	base := Ref(len(h.slots) + 1)
	for _, obj := range objects {
		h.slots = append(h.slots, slot{obj: obj, immune: true})
	}
	return base
}

// UnmapImage releases n image objects registered at base by MapImage, for a
// load that failed before anything could reference them.
func (h *Heap) UnmapImage(base Ref, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < n; i++ {
		ref := base + Ref(i)
		s := h.lookup(ref)
		if s == nil || !s.immune {
			continue
		}
		*s = slot{}
		h.free = append(h.free, ref)
	}
}

// Live returns the number of live non-image objects.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// ClearMarks resets every mark bit and starts a marking phase, which lasts
// until the next Sweep.
func (h *Heap) ClearMarks() {
	h.mu.Lock()
	h.marking = true
	for i := range h.slots {
		h.slots[i].marked = false
	}
	h.mu.Unlock()
}

// Mark sets the mark bit of ref and reports whether it was previously unset.
func (h *Heap) Mark(ref Ref) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.lookup(ref)
	if s == nil || s.marked {
		return false
	}
	s.marked = true
	return true
}

// MarkPinned marks every pinned object and returns how many there were.
func (h *Heap) MarkPinned() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for i := range h.slots {
		if h.slots[i].obj != nil && h.slots[i].pins > 0 {
			h.slots[i].marked = true
			n++
		}
	}
	return n
}

// IsMarked returns ref when the object survived marking (image and pinned
// objects always do) and Null when it is garbage. Objects on this heap never move.
func (h *Heap) IsMarked(ref Ref) Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.lookup(ref)
	if s == nil || !(s.marked || s.immune || s.pins > 0) {
		return Null
	}
	return ref
}

// Sweep reclaims every unmarked, unpinned, non-image object and returns the
// number reclaimed.
func (h *Heap) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.marking = false
	freed := 0
	for i := range h.slots {
		s := &h.slots[i]
		if s.obj == nil || s.immune || s.marked || s.pins > 0 {
			continue
		}
		*s = slot{}
		h.free = append(h.free, Ref(i+1))
		h.live--
		freed++
	}
	return freed
}
