// Package mutf8 implements the modified UTF-8 encoding used for string data
// in snapshot images and raw intern keys.
//
// Modified UTF-8 differs from standard UTF-8 in two ways: U+0000 is encoded
// as the two byte sequence 0xC0 0x80, and supplementary characters are
// encoded as a surrogate pair with each half written as its own three byte
// sequence. Decoders in this package also accept four byte standard UTF-8
// sequences and expand them into a surrogate pair.
package mutf8

import (
	"unicode/utf16"
)

// decode reads one code point starting at data[i] and returns it as one or
// two UTF-16 code units. trail is zero when the code point fits in a single
// unit. Truncated sequences read missing continuation bytes as zero.
func decode(data []byte, i int) (lead, trail uint16, next int) {
	one := at(data, i)
	if one&0x80 == 0 {
		return uint16(one), 0, i + 1
	}
	two := at(data, i+1)
	if one&0x20 == 0 {
		return uint16(one&0x1f)<<6 | uint16(two&0x3f), 0, i + 2
	}
	three := at(data, i+2)
	if one&0x10 == 0 {
		return uint16(one&0x0f)<<12 | uint16(two&0x3f)<<6 | uint16(three&0x3f), 0, i + 3
	}
	four := at(data, i+3)
	cp := rune(one&0x07)<<18 | rune(two&0x3f)<<12 | rune(three&0x3f)<<6 | rune(four&0x3f)
	hi, lo := utf16.EncodeRune(cp)
	return uint16(hi), uint16(lo), i + 4
}

func at(data []byte, i int) byte {
	if i < len(data) {
		return data[i]
	}
	return 0
}

// CountUTF16 returns the number of UTF-16 code units encoded by data.
func CountUTF16(data []byte) int {
	count := 0
	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c&0x80 == 0:
			i++
		case c&0x20 == 0:
			i += 2
		case c&0x10 == 0:
			i += 3
		default:
			i += 4
			count++
		}
		count++
	}
	return count
}

// Hash returns the UTF-16 content hash (s[0]*31^(n-1) + ... + s[n-1]) of the
// first utf16Len code units encoded by data. It matches HashUTF16 for the
// decoded units.
func Hash(data []byte, utf16Len int) uint32 {
	var h uint32
	i := 0
	for n := 0; n < utf16Len; {
		lead, trail, next := decode(data, i)
		i = next
		h = h*31 + uint32(lead)
		n++
		if trail != 0 && n < utf16Len {
			h = h*31 + uint32(trail)
			n++
		}
	}
	return h
}

// HashUTF16 returns the content hash of units.
func HashUTF16(units []uint16) uint32 {
	var h uint32
	for _, u := range units {
		h = h*31 + uint32(u)
	}
	return h
}

// EqualUTF16 reports whether the first utf16Len code units encoded by data
// are exactly units. Like Hash and ToUTF16, it drops the trail unit of a
// 4-byte sequence cut off by utf16Len. It does not allocate.
func EqualUTF16(data []byte, utf16Len int, units []uint16) bool {
	if utf16Len != len(units) {
		return false
	}
	i := 0
	for n := 0; n < utf16Len; {
		lead, trail, next := decode(data, i)
		i = next
		if units[n] != lead {
			return false
		}
		n++
		if trail != 0 && n < utf16Len {
			if units[n] != trail {
				return false
			}
			n++
		}
	}
	return true
}

// ToUTF16 decodes utf16Len code units from data.
func ToUTF16(data []byte, utf16Len int) []uint16 {
	units := make([]uint16, 0, utf16Len)
	i := 0
	for len(units) < utf16Len {
		lead, trail, next := decode(data, i)
		i = next
		units = append(units, lead)
		if trail != 0 && len(units) < utf16Len {
			units = append(units, trail)
		}
	}
	return units
}

// FromUTF16 encodes units as modified UTF-8.
func FromUTF16(units []uint16) []byte {
	out := make([]byte, 0, len(units))
	for _, u := range units {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, 0xc0|byte(u>>6), 0x80|byte(u&0x3f))
		default:
			out = append(out, 0xe0|byte(u>>12), 0x80|byte((u>>6)&0x3f), 0x80|byte(u&0x3f))
		}
	}
	return out
}

// FromString encodes a Go string as modified UTF-8 and returns the encoded
// bytes together with their UTF-16 length.
func FromString(s string) ([]byte, int) {
	units := utf16.Encode([]rune(s))
	return FromUTF16(units), len(units)
}

// ToString converts UTF-16 code units to a Go string. Unpaired surrogates are
// replaced with U+FFFD.
func ToString(units []uint16) string {
	return string(utf16.Decode(units))
}
