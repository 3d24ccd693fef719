// Package nand builds flash images for the NAND generation whose boot ROM
// reads a block 0 parameter page and expects the spare table to be appended
// after the main data area.
package nand

import (
	"encoding/binary"

	"github.com/fwemu/tools/internal/flash"
)

const (
	PageSize      = 0x1000
	PagesPerBlock = 0x40
	SpareSize     = 8

	// SafePageSize is the amount of data the boot ROM reads from each page
	// of the safe boot region.
	SafePageSize = 0x600

	dataMarker = 0x46
)

var Geometry = flash.Geometry{
	PageSize:      PageSize,
	PagesPerBlock: PagesPerBlock,
	SpareSize:     SpareSize,
}

// Write assembles a device image of size bytes: the safe boot region in
// SafePageSize chunks, the normal boot region, then data. Pages of data
// blocks carry a logical mapping record in their spare area, all other
// pages are left erased.
func Write(safeBoot, normalBoot, data []byte, size int) (*flash.Image, error) {
	l, err := flash.NewLayout(Geometry, size)
	if err != nil {
		return nil, err
	}
	if _, err := l.PlaceChunked("safe boot", safeBoot, SafePageSize); err != nil {
		return nil, err
	}
	if _, err := l.Place("normal boot", normalBoot); err != nil {
		return nil, err
	}
	dataExt, err := l.Place("data", data)
	if err != nil {
		return nil, err
	}
	return l.Image(func(block, page int, dst []byte) {
		if !dataExt.Contains(block) {
			return
		}
		clear(dst)
		dst[0] = dataMarker
		binary.BigEndian.PutUint16(dst[1:], uint16(block-dataExt.Start))
		binary.BigEndian.PutUint16(dst[3:], uint16(page))
	}), nil
}
