// Package onenand builds flash images for OneNAND chips.
//
// Every sector carries a 16 byte spare record laid out as
//
//	ff ff | marker (u16 le) | ff × 10 | boot marker (u16 le)
//
// The controller's block mapping reads the marker of the first three sectors
// of each block: sectors 0 and 1 are marked 0x0000 and sector 2 holds the
// logical block number.
package onenand

import (
	"encoding/binary"

	"github.com/fwemu/tools/internal/flash"
)

const (
	SectorSize      = 0x200
	SectorsPerBlock = 0x100
	SpareSize       = 0x10

	noMarker   = 0xffff
	bootMarker = 0x5555

	markerOffset     = 2
	bootMarkerOffset = SpareSize - 2
)

var Geometry = flash.Geometry{
	PageSize:      SectorSize,
	PagesPerBlock: SectorsPerBlock,
	SpareSize:     SpareSize,
}

// blockMarker returns the mapping marker of sector in the logical block
// index.
func blockMarker(index, sector int) uint16 {
	switch sector {
	case 0, 1:
		return 0
	case 2:
		return uint16(index)
	}
	return noMarker
}

// Write assembles a device image of size bytes with a boot region followed by
// the data region. The first sector of the boot region carries the boot area
// marker, data blocks carry mapping markers.
func Write(boot, data []byte, size int) (*flash.Image, error) {
	l, err := flash.NewLayout(Geometry, size)
	if err != nil {
		return nil, err
	}
	bootExt, err := l.Place("boot", boot)
	if err != nil {
		return nil, err
	}
	dataExt, err := l.Place("data", data)
	if err != nil {
		return nil, err
	}
	return l.Image(func(block, sector int, dst []byte) {
		marker, boot := uint16(noMarker), uint16(noMarker)
		switch {
		case bootExt.Contains(block):
			if block == 0 && sector == 0 {
				boot = bootMarker
			}
		case dataExt.Contains(block):
			marker = blockMarker(block-dataExt.Start, sector)
		}
		binary.LittleEndian.PutUint16(dst[markerOffset:], marker)
		binary.LittleEndian.PutUint16(dst[bootMarkerOffset:], boot)
	}), nil
}

// WriteFlat assembles a device image of size bytes from a single payload with
// no dedicated boot region. Blocks covered by the payload carry mapping
// markers relative to its start.
func WriteFlat(payload []byte, size int) (*flash.Image, error) {
	l, err := flash.NewLayout(Geometry, size)
	if err != nil {
		return nil, err
	}
	ext, err := l.Place("payload", payload)
	if err != nil {
		return nil, err
	}
	return l.Image(func(block, sector int, dst []byte) {
		marker := uint16(noMarker)
		if ext.Contains(block) {
			marker = blockMarker(block-ext.Start, sector)
		}
		binary.LittleEndian.PutUint16(dst[markerOffset:], marker)
	}), nil
}
