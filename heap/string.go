package heap

import (
	"github.com/RowanDark/strintern/internal/mutf8"
)

// Ref is a compressed reference to an object on the Heap. The zero Ref is
// null.
type Ref uint32

// Null is the null reference.
const Null Ref = 0

// IsNull reports whether r refers to no object.
func (r Ref) IsNull() bool {
	return r == Null
}

// String is an immutable boxed character sequence stored as UTF-16 code
// units. Its content hash is computed once at construction.
type String struct {
	units []uint16
	hash  uint32
}

// NewString boxes a copy of units.
func NewString(units []uint16) *String {
	dup := make([]uint16, len(units))
	copy(dup, units)
	return &String{units: dup, hash: mutf8.HashUTF16(dup)}
}

// NewStringFromModifiedUTF8 decodes utf16Len code units from data.
func NewStringFromModifiedUTF8(utf16Len int, data []byte) *String {
	units := mutf8.ToUTF16(data, utf16Len)
	return &String{units: units, hash: mutf8.HashUTF16(units)}
}

// Length returns the number of UTF-16 code units.
func (s *String) Length() int {
	return len(s.units)
}

// Units exposes the backing code units. Callers must not modify them.
func (s *String) Units() []uint16 {
	return s.units
}

// Hash returns the stored content hash.
func (s *String) Hash() uint32 {
	return s.hash
}

// ComputeHash recomputes the content hash from the code units.
func (s *String) ComputeHash() uint32 {
	return mutf8.HashUTF16(s.units)
}

// Equals compares content, not identity.
func (s *String) Equals(other *String) bool {
	if s == other {
		return true
	}
	if other == nil || len(s.units) != len(other.units) || s.hash != other.hash {
		return false
	}
	for i, u := range s.units {
		if other.units[i] != u {
			return false
		}
	}
	return true
}

// EqualsModifiedUTF8 compares s with utf16Len code units encoded in data
// without allocating.
func (s *String) EqualsModifiedUTF8(utf16Len int, data []byte) bool {
	return mutf8.EqualUTF16(data, utf16Len, s.units)
}

// ModifiedUTF8 encodes the content as modified UTF-8.
func (s *String) ModifiedUTF8() []byte {
	return mutf8.FromUTF16(s.units)
}

func (s *String) String() string {
	return mutf8.ToString(s.units)
}
