package intern

import (
	"fmt"

	"github.com/RowanDark/strintern/gc"
	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/internal/mutf8"
)

// Utf8Key is a non-owning view of modified UTF-8 content used to probe the
// tables without allocating a string. It is only valid for the duration of
// the call it is passed to.
type Utf8Key struct {
	utf16Len int
	data     []byte
}

func NewUtf8Key(utf16Len int, data []byte) Utf8Key {
	return Utf8Key{utf16Len: utf16Len, data: data}
}

// Hash returns the content hash, equal to heap.String.Hash for a string with
// the same code units.
func (k Utf8Key) Hash() uint32 {
	return mutf8.Hash(k.data, k.utf16Len)
}

func (k Utf8Key) UTF16Len() int {
	return k.utf16Len
}

func (k Utf8Key) Data() []byte {
	return k.data
}

// rootEmpty treats a null root as an empty slot.
type rootEmpty struct{}

func (rootEmpty) MakeEmpty(item *gc.Root) {
	item.Assign(heap.Null)
}

func (rootEmpty) IsEmpty(item gc.Root) bool {
	return item.IsNull()
}

// ObjectReader resolves references held in table slots.
type ObjectReader interface {
	Deref(ref heap.Ref) *heap.String
}

// policy supplies hashing and content equality for table slots.
type policy struct {
	objects ObjectReader
}

func (p policy) object(ref heap.Ref) *heap.String {
	s := p.objects.Deref(ref)
	if s == nil {
		panic(fmt.Sprintf("intern: dangling reference %d", ref))
	}
	return s
}

func (p policy) hash(root gc.Root) uint32 {
	return p.object(root.Read()).Hash()
}

// matchObject compares content, not identity.
func (p policy) matchObject(s *heap.String) func(gc.Root) bool {
	return func(root gc.Root) bool {
		ref := root.Read()
		return p.object(ref).Equals(s)
	}
}

func (p policy) matchKey(key Utf8Key) func(gc.Root) bool {
	return func(root gc.Root) bool {
		obj := p.object(root.Read())
		return obj.Length() == key.utf16Len && obj.EqualsModifiedUTF8(key.utf16Len, key.data)
	}
}

func matchIdentity(ref heap.Ref) func(gc.Root) bool {
	return func(root gc.Root) bool {
		return root.Read() == ref
	}
}
