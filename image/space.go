package image

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/intern"
)

// Space is an opened image. It implements intern.ImageSpace; loaded intern
// generations are used in place, so the Space must stay open for as long as
// the table that loaded it.
type Space struct {
	data   []byte
	mapped bool
	header header
	loaded bool
}

var _ intern.ImageSpace = (*Space)(nil)

// FromBytes opens an image held in memory. data is retained and will be
// modified when the image is loaded.
func FromBytes(data []byte) (*Space, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	return &Space{data: data, header: h}, nil
}

// Open maps the image file at path. The mapping is private, so relocating
// references during Load never writes back to the file.
func Open(path string) (*Space, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < headerSize {
		return nil, fmt.Errorf("%s: %d bytes: %w", path, info.Size(), ErrCorrupt)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	h, err := parseHeader(data)
	if err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Space{data: data, mapped: true, header: h}, nil
}

// Close unmaps a file-backed image. Tables that loaded it must not be used
// afterwards.
func (s *Space) Close() error {
	if !s.mapped || s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

func (s *Space) InternedStrings() []byte {
	return s.data[s.header.internOff : s.header.internOff+s.header.internLen]
}

func (s *Space) IsAppImage() bool {
	return s.header.flags&flagAppImage != 0
}

// ObjectCount returns the number of string objects in the image.
func (s *Space) ObjectCount() int {
	return int(s.header.objectCount)
}

// Objects decodes the objects section.
func (s *Space) Objects() ([]*heap.String, error) {
	section := s.data[s.header.objectsOff : s.header.objectsOff+s.header.objectsLen]
	objects := make([]*heap.String, 0, s.header.objectCount)
	off := 0
	for i := 0; i < int(s.header.objectCount); i++ {
		if len(section)-off < 4 {
			return nil, fmt.Errorf("object %d at offset %d: %w", i, off, ErrCorrupt)
		}
		n := int(binary.LittleEndian.Uint32(section[off:]))
		off += 4
		if n > (len(section)-off)/2 {
			return nil, fmt.Errorf("object %d: %d code units past section end: %w", i, n, ErrCorrupt)
		}
		units := make([]uint16, n)
		for j := range units {
			units[j] = binary.LittleEndian.Uint16(section[off+2*j:])
		}
		off += 2 * n
		off = (off + 3) &^ 3
		objects = append(objects, heap.NewString(units))
	}
	return objects, nil
}

// Load registers the image's objects with h and adds its intern generations
// to table, relocating image references to heap references. A Space can be
// loaded once; a failed load leaves h and table unchanged and may be retried.
func (s *Space) Load(h *heap.Heap, table *intern.InternTable) (int, error) {
	if s.loaded {
		return 0, ErrAlreadyLoaded
	}
	objects, err := s.Objects()
	if err != nil {
		return 0, err
	}
	base := h.MapImage(objects)
	count := heap.Ref(len(objects))
	fixup := func(ref heap.Ref) heap.Ref {
		if ref == heap.Null || ref > count {
			return heap.Null
		}
		return base + ref - 1
	}
	if err := table.AddImageStringsToTable(s, fixup); err != nil {
		h.UnmapImage(base, len(objects))
		return 0, err
	}
	s.loaded = true
	return len(objects), nil
}
