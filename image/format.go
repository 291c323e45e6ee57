// Package image reads and writes snapshot images carrying pre-interned
// strings.
//
// An image is a header followed by two sections. The objects section holds
// every string object, in reference order, as a little-endian UTF-16 length
// and code units padded to four bytes. The intern section holds one or more
// intern table generations packed back to back, each referencing objects by
// position (the first object is reference 1). The intern section starts on
// an eight-byte boundary so a mapped file can be used in place.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic identifies an image file.
	Magic = "SIMG"
	// Version is the only layout version this package reads and writes.
	Version uint32 = 1

	headerSize = 48

	flagAppImage uint32 = 1 << 0

	sectionAlign = 8
)

var (
	ErrBadMagic           = errors.New("image: bad magic")
	ErrUnsupportedVersion = errors.New("image: unsupported version")
	ErrCorrupt            = errors.New("image: corrupt section")
	ErrAlreadyLoaded      = errors.New("image: already loaded")
)

type header struct {
	version     uint32
	flags       uint32
	objectCount uint32
	objectsOff  uint64
	objectsLen  uint64
	internOff   uint64
	internLen   uint64
}

func (h header) appendTo(dst []byte) []byte {
	dst = append(dst, Magic...)
	dst = binary.LittleEndian.AppendUint32(dst, h.version)
	dst = binary.LittleEndian.AppendUint32(dst, h.flags)
	dst = binary.LittleEndian.AppendUint32(dst, h.objectCount)
	dst = binary.LittleEndian.AppendUint64(dst, h.objectsOff)
	dst = binary.LittleEndian.AppendUint64(dst, h.objectsLen)
	dst = binary.LittleEndian.AppendUint64(dst, h.internOff)
	dst = binary.LittleEndian.AppendUint64(dst, h.internLen)
	return dst
}

func parseHeader(data []byte) (header, error) {
	if len(data) < headerSize {
		return header{}, fmt.Errorf("reading header (%d bytes): %w", len(data), ErrCorrupt)
	}
	if string(data[:4]) != Magic {
		return header{}, fmt.Errorf("found %q: %w", data[:4], ErrBadMagic)
	}
	h := header{
		version:     binary.LittleEndian.Uint32(data[4:]),
		flags:       binary.LittleEndian.Uint32(data[8:]),
		objectCount: binary.LittleEndian.Uint32(data[12:]),
		objectsOff:  binary.LittleEndian.Uint64(data[16:]),
		objectsLen:  binary.LittleEndian.Uint64(data[24:]),
		internOff:   binary.LittleEndian.Uint64(data[32:]),
		internLen:   binary.LittleEndian.Uint64(data[40:]),
	}
	if h.version != Version {
		return header{}, fmt.Errorf("version %d: %w", h.version, ErrUnsupportedVersion)
	}
	size := uint64(len(data))
	if h.objectsOff > size || h.objectsLen > size-h.objectsOff {
		return header{}, fmt.Errorf("objects section [%d,+%d) outside %d bytes: %w", h.objectsOff, h.objectsLen, size, ErrCorrupt)
	}
	if h.internOff > size || h.internLen > size-h.internOff {
		return header{}, fmt.Errorf("intern section [%d,+%d) outside %d bytes: %w", h.internOff, h.internLen, size, ErrCorrupt)
	}
	if h.internOff%sectionAlign != 0 {
		return header{}, fmt.Errorf("intern section offset %d not aligned: %w", h.internOff, ErrCorrupt)
	}
	return h, nil
}

func padTo(dst []byte, align int) []byte {
	for len(dst)%align != 0 {
		dst = append(dst, 0)
	}
	return dst
}
