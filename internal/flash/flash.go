// Package flash lays out regions on block-structured flash devices.
//
// A Layout places regions contiguously from block 0, each starting on a
// block boundary and occupying a whole number of blocks. Everything that is
// not covered by a region keeps the erased value. Chip-family packages
// (nand, onenand) derive their out-of-band spare table from the resulting
// extents.
package flash

import (
	"bytes"
	"fmt"

	"github.com/fwemu/tools/internal/fault"
)

// Erased is the value of an erased flash byte.
const Erased = 0xff

// Geometry describes the page and block structure of a flash chip.
type Geometry struct {
	PageSize      int
	PagesPerBlock int
	// SpareSize is the number of out-of-band bytes per page, zero for
	// devices without a spare area.
	SpareSize int
}

func (g Geometry) BlockSize() int { return g.PageSize * g.PagesPerBlock }

// Blocks returns the number of blocks needed to hold n bytes.
func (g Geometry) Blocks(n int) int {
	return ceilDiv(n, g.BlockSize())
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}

// Image is an assembled flash image: BlockCount*PagesPerBlock pages of main
// data, followed by the spare table (one SpareSize record per page).
type Image struct {
	Geometry   Geometry
	BlockCount int
	Data       []byte
}

func (img *Image) PageCount() int { return img.BlockCount * img.Geometry.PagesPerBlock }

func (img *Image) MainSize() int { return img.PageCount() * img.Geometry.PageSize }

// Page returns the main data of page i.
func (img *Image) Page(i int) []byte {
	off := i * img.Geometry.PageSize
	return img.Data[off : off+img.Geometry.PageSize]
}

// Spare returns the spare record of page i.
func (img *Image) Spare(i int) []byte {
	off := img.MainSize() + i*img.Geometry.SpareSize
	return img.Data[off : off+img.Geometry.SpareSize]
}

// Extent is the block range a region occupies.
type Extent struct {
	Name   string
	Start  int
	Blocks int
}

func (e Extent) Contains(block int) bool {
	return block >= e.Start && block < e.Start+e.Blocks
}

func (e Extent) String() string {
	return fmt.Sprintf("%s [blocks %d-%d)", e.Name, e.Start, e.Start+e.Blocks)
}

// Layout accumulates the main data area of an image.
type Layout struct {
	geo    Geometry
	blocks int
	main   []byte
	next   int
}

// NewLayout returns an erased layout for a device of size bytes, rounded up
// to whole blocks.
func NewLayout(geo Geometry, size int) (*Layout, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid device size %d", size)
	}
	blocks := geo.Blocks(size)
	return &Layout{
		geo:    geo,
		blocks: blocks,
		main:   bytes.Repeat([]byte{Erased}, blocks*geo.BlockSize()),
	}, nil
}

func (l *Layout) BlockCount() int { return l.blocks }

func (l *Layout) reserve(name string, size, blocks int) (Extent, error) {
	if l.next+blocks > l.blocks {
		return Extent{}, &fault.CapacityExceeded{
			Region: name,
			Size:   size,
			Limit:  (l.blocks - l.next) * l.geo.BlockSize(),
		}
	}
	ext := Extent{Name: name, Start: l.next, Blocks: blocks}
	l.next += blocks
	return ext, nil
}

// Place writes data verbatim at the next free block boundary.
func (l *Layout) Place(name string, data []byte) (Extent, error) {
	ext, err := l.reserve(name, len(data), l.geo.Blocks(len(data)))
	if err != nil {
		return Extent{}, err
	}
	copy(l.main[ext.Start*l.geo.BlockSize():], data)
	return ext, nil
}

// PlaceChunked writes data in chunks of chunk bytes, each chunk at the start
// of its own page. chunk must not exceed the page size.
func (l *Layout) PlaceChunked(name string, data []byte, chunk int) (Extent, error) {
	if chunk <= 0 || chunk > l.geo.PageSize {
		return Extent{}, fmt.Errorf("BUG: chunk size %#x invalid for page size %#x", chunk, l.geo.PageSize)
	}
	pages := ceilDiv(len(data), chunk)
	ext, err := l.reserve(name, len(data), ceilDiv(pages, l.geo.PagesPerBlock))
	if err != nil {
		return Extent{}, err
	}
	base := ext.Start * l.geo.BlockSize()
	for p := 0; p < pages; p++ {
		end := min((p+1)*chunk, len(data))
		copy(l.main[base+p*l.geo.PageSize:], data[p*chunk:end])
	}
	return ext, nil
}

// SpareFunc fills the spare record dst of page within block. dst arrives
// pre-filled with Erased.
type SpareFunc func(block, page int, dst []byte)

// Image finishes the layout. When the geometry has a spare area, spare is
// called once per page in page order to build the spare table.
func (l *Layout) Image(spare SpareFunc) *Image {
	img := &Image{Geometry: l.geo, BlockCount: l.blocks}
	pages := l.blocks * l.geo.PagesPerBlock
	img.Data = make([]byte, len(l.main), len(l.main)+pages*l.geo.SpareSize)
	copy(img.Data, l.main)
	if l.geo.SpareSize == 0 {
		return img
	}
	table := bytes.Repeat([]byte{Erased}, pages*l.geo.SpareSize)
	for b := 0; b < l.blocks; b++ {
		for p := 0; p < l.geo.PagesPerBlock; p++ {
			off := (b*l.geo.PagesPerBlock + p) * l.geo.SpareSize
			if spare != nil {
				spare(b, p, table[off:off+l.geo.SpareSize])
			}
		}
	}
	img.Data = append(img.Data, table...)
	return img
}
