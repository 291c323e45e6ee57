// Package hashset implements an open-addressed, linearly probed hash set
// whose empty slots are defined by a policy instead of a separate occupancy
// bitmap. The bucket array can be written to and read back from a flat byte
// buffer; when reading, the set can use the buffer in place instead of
// copying it.
package hashset

import (
	"math"
)

const (
	DefaultMinLoadFactor = 0.4
	DefaultMaxLoadFactor = 0.9

	minBuckets = 16
)

// EmptyFn defines which slot values count as empty.
type EmptyFn[T any] interface {
	MakeEmpty(item *T)
	IsEmpty(item T) bool
}

// HashFn returns the hash of a stored element. It must agree with the hash
// callers pass to Find and Insert for equal content.
type HashFn[T any] func(item T) uint32

type Options struct {
	MinLoadFactor float64
	MaxLoadFactor float64
	// InitialCapacity pre-sizes the set for this many elements.
	InitialCapacity int
}

func (o Options) normalised() Options {
	if o.MinLoadFactor <= 0 || o.MinLoadFactor >= 1 {
		o.MinLoadFactor = DefaultMinLoadFactor
	}
	if o.MaxLoadFactor <= o.MinLoadFactor || o.MaxLoadFactor >= 1 {
		o.MaxLoadFactor = DefaultMaxLoadFactor
	}
	if o.InitialCapacity < 0 {
		o.InitialCapacity = 0
	}
	return o
}

// Set is not safe for concurrent use.
type Set[T any] struct {
	buckets             []T
	owned               bool
	size                int
	elementsUntilExpand int
	minLoad             float64
	maxLoad             float64
	empty               EmptyFn[T]
	hash                HashFn[T]
}

func New[T any](empty EmptyFn[T], hash HashFn[T], opts Options) *Set[T] {
	opts = opts.normalised()
	s := &Set[T]{
		owned:   true,
		minLoad: opts.MinLoadFactor,
		maxLoad: opts.MaxLoadFactor,
		empty:   empty,
		hash:    hash,
	}
	if opts.InitialCapacity > 0 {
		s.resize(int(math.Ceil(float64(opts.InitialCapacity) / s.minLoad)))
	}
	return s
}

func (s *Set[T]) Len() int {
	return s.size
}

func (s *Set[T]) Empty() bool {
	return s.size == 0
}

func (s *Set[T]) NumBuckets() int {
	return len(s.buckets)
}

// Owned reports whether the bucket array was allocated by the set rather
// than borrowed from a buffer passed to ReadFrom.
func (s *Set[T]) Owned() bool {
	return s.owned
}

func (s *Set[T]) indexFor(hash uint32) int {
	return int(hash % uint32(len(s.buckets)))
}

func (s *Set[T]) next(i int) int {
	i++
	if i == len(s.buckets) {
		return 0
	}
	return i
}

// Find returns the slot index of the element with the given hash for which
// match returns true, or -1.
func (s *Set[T]) Find(hash uint32, match func(item T) bool) int {
	if len(s.buckets) == 0 {
		return -1
	}
	i := s.indexFor(hash)
	for probes := 0; probes < len(s.buckets); probes++ {
		item := s.buckets[i]
		if s.empty.IsEmpty(item) {
			return -1
		}
		if match(item) {
			return i
		}
		i = s.next(i)
	}
	return -1
}

// At returns a pointer to the slot at index i.
func (s *Set[T]) At(i int) *T {
	return &s.buckets[i]
}

// Insert adds item without checking for an equal element; callers establish
// absence with Find first. It may rehash into a larger bucket array.
func (s *Set[T]) Insert(item T, hash uint32) {
	if s.size >= s.elementsUntilExpand {
		s.expand()
	}
	i := s.indexFor(hash)
	for !s.empty.IsEmpty(s.buckets[i]) {
		i = s.next(i)
	}
	s.buckets[i] = item
	s.size++
}

// EraseAt removes the element in slot index and shifts later members of its
// probe run back so that no lookup chain is broken.
func (s *Set[T]) EraseAt(index int) {
	hole := index
	for i := s.next(index); i != index && !s.empty.IsEmpty(s.buckets[i]); i = s.next(i) {
		ideal := s.indexFor(s.hash(s.buckets[i]))
		if inCyclicRange(hole, ideal, i) {
			continue
		}
		s.buckets[hole] = s.buckets[i]
		hole = i
	}
	s.empty.MakeEmpty(&s.buckets[hole])
	s.size--
}

// inCyclicRange reports whether x lies in the cyclic interval (lo, hi].
func inCyclicRange(lo, x, hi int) bool {
	if lo <= hi {
		return lo < x && x <= hi
	}
	return lo < x || x <= hi
}

// Range calls fn for each occupied slot until fn returns false.
func (s *Set[T]) Range(fn func(item *T) bool) {
	for i := range s.buckets {
		if s.empty.IsEmpty(s.buckets[i]) {
			continue
		}
		if !fn(&s.buckets[i]) {
			return
		}
	}
}

// Retain calls keep for each occupied slot and erases the elements for which
// it returns false. keep may update the element in place as long as its hash
// does not change. An element shifted by an erase may be offered to keep a
// second time. Retain returns the number of erased elements.
func (s *Set[T]) Retain(keep func(item *T) bool) int {
	removed := 0
	for i := 0; i < len(s.buckets); {
		if s.empty.IsEmpty(s.buckets[i]) || keep(&s.buckets[i]) {
			i++
			continue
		}
		s.EraseAt(i)
		removed++
	}
	return removed
}

func (s *Set[T]) expand() {
	n := int(math.Ceil(float64(s.size+1) / s.minLoad))
	if n < minBuckets {
		n = minBuckets
	}
	s.resize(n)
}

func (s *Set[T]) resize(n int) {
	if n < minBuckets {
		n = minBuckets
	}
	old := s.buckets
	s.buckets = make([]T, n)
	for i := range s.buckets {
		s.empty.MakeEmpty(&s.buckets[i])
	}
	for _, item := range old {
		if s.empty.IsEmpty(item) {
			continue
		}
		i := s.indexFor(s.hash(item))
		for !s.empty.IsEmpty(s.buckets[i]) {
			i = s.next(i)
		}
		s.buckets[i] = item
	}
	s.owned = true
	s.elementsUntilExpand = int(float64(n) * s.maxLoad)
}
