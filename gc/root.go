// Package gc defines the contract between the collector and the runtime
// structures that hold references on its behalf: root slots, root and
// liveness visitors, weak root states, and root visiting flags. It also
// provides a stop-the-world mark/sweep Collector that drives those hooks.
package gc

import (
	"github.com/RowanDark/strintern/heap"
)

// Root is a slot holding a reference the collector treats as a root. Code
// outside the collector reads and writes roots only through these methods so
// that barrier or relocation concerns stay in one place.
//
// Root has the layout of a single heap.Ref and holds no Go pointers, so
// arrays of roots may live in mapped memory.
type Root struct {
	ref heap.Ref
}

func NewRoot(ref heap.Ref) Root {
	return Root{ref: ref}
}

// Read returns the referenced object.
func (r Root) Read() heap.Ref {
	return r.ref
}

func (r Root) IsNull() bool {
	return r.ref == heap.Null
}

// Assign stores ref into the slot.
func (r *Root) Assign(ref heap.Ref) {
	r.ref = ref
}

// VisitRoot hands the slot to v, which may update it in place if the object
// moved.
func (r *Root) VisitRoot(v RootVisitor, info RootInfo) {
	v.VisitRoot(r, info)
}

// RootType says why a root is held.
type RootType int

const (
	RootUnknown RootType = iota
	RootInternedString
	RootStickyClass
	RootImage
)

func (t RootType) String() string {
	switch t {
	case RootInternedString:
		return "interned-string"
	case RootStickyClass:
		return "sticky-class"
	case RootImage:
		return "image"
	default:
		return "unknown"
	}
}

type RootInfo struct {
	Type RootType
}

// RootVisitor records roots during marking. Implementations may relocate an
// object by assigning the new reference to the slot.
type RootVisitor interface {
	VisitRoot(root *Root, info RootInfo)
}

// RootVisitorFunc adapts a function to RootVisitor.
type RootVisitorFunc func(root *Root, info RootInfo)

func (f RootVisitorFunc) VisitRoot(root *Root, info RootInfo) {
	f(root, info)
}

// IsMarkedVisitor is the liveness oracle used when sweeping weak references.
// IsMarked returns heap.Null if ref is garbage, or the object's current
// reference, which differs from ref when the object moved.
type IsMarkedVisitor interface {
	IsMarked(ref heap.Ref) heap.Ref
}

// IsMarkedFunc adapts a function to IsMarkedVisitor.
type IsMarkedFunc func(ref heap.Ref) heap.Ref

func (f IsMarkedFunc) IsMarked(ref heap.Ref) heap.Ref {
	return f(ref)
}
