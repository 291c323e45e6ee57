package hashset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"
)

// HeaderSize is the size of the fixed header preceding the bucket array.
//
// Layout, header fields little endian:
//
//	off  0  uint64   element count
//	off  8  uint64   bucket count
//	off 16  uint64   elements until expand
//	off 24  float64  min load factor
//	off 32  float64  max load factor
//	off 40  [bucket count]T in host byte order, empty slots included
const HeaderSize = 40

var (
	ErrTruncated = errors.New("hashset: truncated buffer")
	ErrCorrupt   = errors.New("hashset: corrupt header")
)

// EncodedSize returns the number of bytes AppendBinary writes.
func (s *Set[T]) EncodedSize() int {
	var zero T
	return HeaderSize + len(s.buckets)*int(unsafe.Sizeof(zero))
}

// AppendBinary appends the set's binary form to dst. T must not contain Go
// pointers.
func (s *Set[T]) AppendBinary(dst []byte) []byte {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:], uint64(s.size))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(len(s.buckets)))
	binary.LittleEndian.PutUint64(hdr[16:], uint64(s.elementsUntilExpand))
	binary.LittleEndian.PutUint64(hdr[24:], math.Float64bits(s.minLoad))
	binary.LittleEndian.PutUint64(hdr[32:], math.Float64bits(s.maxLoad))
	dst = append(dst, hdr[:]...)
	return append(dst, bucketBytes(s.buckets)...)
}

func bucketBytes[T any](buckets []T) []byte {
	if len(buckets) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(buckets))), len(buckets)*int(unsafe.Sizeof(zero)))
}

// ReadFrom decodes a set from the start of buf and returns it with the number
// of bytes consumed, so consecutive sets can be read back to back.
//
// Unless makeCopy is set, the bucket array aliases buf when buf is suitably
// aligned: no per-element work is done and buf must outlive the set and stay
// writable if the set is mutated. T must not contain Go pointers.
func ReadFrom[T any](buf []byte, empty EmptyFn[T], hash HashFn[T], makeCopy bool) (*Set[T], int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, fmt.Errorf("reading header (%d bytes): %w", len(buf), ErrTruncated)
	}
	size := binary.LittleEndian.Uint64(buf[0:])
	numBuckets := binary.LittleEndian.Uint64(buf[8:])
	untilExpand := binary.LittleEndian.Uint64(buf[16:])
	minLoad := math.Float64frombits(binary.LittleEndian.Uint64(buf[24:]))
	maxLoad := math.Float64frombits(binary.LittleEndian.Uint64(buf[32:]))

	if size > numBuckets || (numBuckets > 0 && size == numBuckets) {
		return nil, 0, fmt.Errorf("%d elements in %d buckets: %w", size, numBuckets, ErrCorrupt)
	}
	// An expand threshold at the bucket count would let every slot fill,
	// leaving probe chains without a terminating empty slot.
	if numBuckets > 0 && (untilExpand >= numBuckets || size > untilExpand) {
		return nil, 0, fmt.Errorf("expand threshold %d for %d elements in %d buckets: %w", untilExpand, size, numBuckets, ErrCorrupt)
	}
	if !(minLoad > 0 && minLoad < maxLoad && maxLoad < 1) {
		return nil, 0, fmt.Errorf("load factors %v/%v: %w", minLoad, maxLoad, ErrCorrupt)
	}

	var zero T
	elemSize := uint64(unsafe.Sizeof(zero))
	if numBuckets > uint64(len(buf)-HeaderSize)/elemSize {
		return nil, 0, fmt.Errorf("reading %d buckets: %w", numBuckets, ErrTruncated)
	}
	consumed := HeaderSize + int(numBuckets*elemSize)
	data := buf[HeaderSize:consumed]

	s := &Set[T]{
		size:                int(size),
		elementsUntilExpand: int(untilExpand),
		minLoad:             minLoad,
		maxLoad:             maxLoad,
		empty:               empty,
		hash:                hash,
	}
	switch {
	case numBuckets == 0:
		s.owned = true
	case !makeCopy && uintptr(unsafe.Pointer(unsafe.SliceData(data)))%unsafe.Alignof(zero) == 0:
		s.buckets = unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), int(numBuckets))
	default:
		s.buckets = make([]T, int(numBuckets))
		copy(bucketBytes(s.buckets), data)
		s.owned = true
	}
	return s, consumed, nil
}
