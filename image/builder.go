package image

import (
	"encoding/binary"
	"io"

	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/intern"
	"github.com/RowanDark/strintern/internal/hashset"
)

// Builder assembles an image from generations of strings. Content already
// present in an earlier generation is dropped so generations never
// duplicate each other.
type Builder struct {
	app         bool
	opts        hashset.Options
	objects     []*heap.String
	generations [][]*heap.String
	seen        map[string]struct{}
}

// NewBuilder returns a builder for a boot image, or an app image when app is
// set. opts sizes the generation hash sets.
func NewBuilder(app bool, opts hashset.Options) *Builder {
	return &Builder{app: app, opts: opts, seen: make(map[string]struct{})}
}

// AddGeneration appends a generation holding strings and returns how many
// were new to the image.
func (b *Builder) AddGeneration(strings []*heap.String) int {
	gen := make([]*heap.String, 0, len(strings))
	for _, s := range strings {
		key := string(s.ModifiedUTF8())
		if _, ok := b.seen[key]; ok {
			continue
		}
		b.seen[key] = struct{}{}
		gen = append(gen, s)
	}
	b.generations = append(b.generations, gen)
	b.objects = append(b.objects, gen...)
	return len(gen)
}

// Len returns the number of distinct strings added.
func (b *Builder) Len() int {
	return len(b.objects)
}

// Bytes encodes the image.
func (b *Builder) Bytes() []byte {
	buf := make([]byte, headerSize)

	objectsOff := len(buf)
	for _, s := range b.objects {
		units := s.Units()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(units)))
		for _, u := range units {
			buf = binary.LittleEndian.AppendUint16(buf, u)
		}
		buf = padTo(buf, 4)
	}
	objectsLen := len(buf) - objectsOff

	buf = padTo(buf, sectionAlign)
	internOff := len(buf)
	first := heap.Ref(1)
	for _, gen := range b.generations {
		if len(gen) == 0 {
			continue
		}
		buf = intern.AppendGeneration(buf, gen, first, b.opts)
		first += heap.Ref(len(gen))
	}

	h := header{
		version:     Version,
		objectCount: uint32(len(b.objects)),
		objectsOff:  uint64(objectsOff),
		objectsLen:  uint64(objectsLen),
		internOff:   uint64(internOff),
		internLen:   uint64(len(buf) - internOff),
	}
	if b.app {
		h.flags |= flagAppImage
	}
	// The header goes over the reserved prefix now that offsets are known.
	h.appendTo(buf[:0])
	return buf
}

// WriteTo writes the encoded image to w.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.Bytes())
	return int64(n), err
}
