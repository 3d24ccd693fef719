package nand

import (
	"bytes"
	"encoding/binary"
	"math/bits"

	"github.com/fwemu/tools/internal/fault"
)

const (
	bootROMParamsOffset = 0xc00
	initParamsOffset    = 0xf00

	numBootROMParams = 4
	numInitParams    = 55

	// block0Base is the address the boot ROM maps block 0 to, past the
	// first safe page.
	block0Base = 0xc0000600
	// block0TableOffset locates the controller's internal table relative to
	// block0Base.
	block0TableOffset = 0xf14

	unset = 0xffffffff
)

// Block0Params are the values encoded into the block 0 parameter page.
type Block0Params struct {
	StartBlock   uint32
	Loader2Block uint32
	Planes       uint32
	Dies         uint32
	Blocks       uint32
	MaxBadBlocks uint32
}

// DefaultBlock0Params returns the parameters of the reference profile for a
// device of size bytes.
func DefaultBlock0Params(size int) Block0Params {
	return Block0Params{
		StartBlock:   0,
		Loader2Block: 1,
		Planes:       1,
		Dies:         1,
		Blocks:       uint32(Geometry.Blocks(size)),
		MaxBadBlocks: 0x2e,
	}
}

func (p Block0Params) bootROMParams() []uint32 {
	params := filled(numBootROMParams)
	params[2] = uint32(bits.TrailingZeros32(PagesPerBlock))
	params[3] = p.Loader2Block
	return params
}

func (p Block0Params) initParams() []uint32 {
	params := filled(numInitParams)
	params[0] = p.StartBlock
	params[4] = block0Base + block0TableOffset
	params[23] = p.Planes - 1
	params[24] = PagesPerBlock
	params[26] = PageSize
	params[50] = p.Dies
	params[51] = p.Blocks
	params[52] = p.MaxBadBlocks
	return params
}

func filled(n int) []uint32 {
	params := make([]uint32, n)
	for i := range params {
		params[i] = unset
	}
	return params
}

// Encode returns the block 0 image: one block of safe pages, erased except
// for the boot ROM and controller parameter tables.
func (p Block0Params) Encode() ([]byte, error) {
	block := bytes.Repeat([]byte{0xff}, PagesPerBlock*SafePageSize)
	for _, tbl := range []struct {
		off    int
		params []uint32
	}{
		{bootROMParamsOffset, p.bootROMParams()},
		{initParamsOffset, p.initParams()},
	} {
		if end := tbl.off + 4*len(tbl.params); end > len(block) {
			return nil, &fault.CapacityExceeded{Region: "block 0 parameters", Size: end, Limit: len(block)}
		}
		for i, v := range tbl.params {
			binary.LittleEndian.PutUint32(block[tbl.off+4*i:], v)
		}
	}
	return block, nil
}

// WriteBlock0 encodes DefaultBlock0Params for a device of size bytes.
func WriteBlock0(size int) ([]byte, error) {
	return DefaultBlock0Params(size).Encode()
}
