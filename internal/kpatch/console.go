package kpatch

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fwemu/tools/internal/armdis"
	"github.com/fwemu/tools/internal/fault"
	"github.com/fwemu/tools/internal/recscan"
)

// consoleName is the name field of struct console amba_console.
var consoleName = []byte("ttyAM\x00")

// ConsoleDescriptor holds the function pointers of struct console
// amba_console.
type ConsoleDescriptor struct {
	Write   uint32
	Device  uint32
	Unblank uint32
	Setup   uint32
	// Offset of the write pointer in the image.
	Offset int
}

func consoleSpec(base uint32) recscan.Spec[ConsoleDescriptor] {
	codePtr := func(p uint32) bool { return p > base && p%4 == 0 }
	return recscan.Spec[ConsoleDescriptor]{
		Marker: consoleName,
		// name[16] is zero padded up to the write pointer
		Skip: 8,
		Pad:  4,
		Size: 20,
		Decode: func(buf []byte, off int) ConsoleDescriptor {
			return ConsoleDescriptor{
				Write:   binary.LittleEndian.Uint32(buf[off:]),
				Device:  binary.LittleEndian.Uint32(buf[off+8:]),
				Unblank: binary.LittleEndian.Uint32(buf[off+12:]),
				Setup:   binary.LittleEndian.Uint32(buf[off+16:]),
				Offset:  off,
			}
		},
		Valid: func(c ConsoleDescriptor, off int) bool {
			return off%4 == 0 &&
				codePtr(c.Write) &&
				codePtr(c.Device) &&
				codePtr(c.Setup) &&
				c.Unblank == 0
		},
	}
}

// FindConsole locates struct console amba_console in a kernel linked at
// base.
func FindConsole(kernel []byte, base uint32) (ConsoleDescriptor, error) {
	m, ok := recscan.Find(kernel, consoleSpec(base))
	if !ok {
		return ConsoleDescriptor{}, &fault.StructuralMismatch{
			What:   "struct console amba_console",
			Offset: -1,
			Want:   fmt.Sprintf("%q followed by code pointers above %#08x", consoleName, base),
			Got:    fmt.Sprintf("%d candidates, none valid", len(recscan.Candidates(kernel, consoleSpec(base)))),
		}
	}
	log.Debugf("amba_console at %#x (name at %#x), setup %#08x", m.Offset, m.MarkerOffset, m.Record.Setup)
	return m.Record, nil
}

// setupStores returns the store instructions in the basic block that follows
// the first branch of the function at addr. Only unconditional B and any BL
// end the block: a conditional B skips part of the block but falls through
// into it, so stores after it still belong to the enable sequence.
func setupStores(dec armdis.Decoder, kernel []byte, base, addr uint32) ([]armdis.Inst, error) {
	off := int64(addr) - int64(base)
	if off < 0 || off >= int64(len(kernel)) {
		return nil, &fault.StructuralMismatch{What: "pl011_console_setup", Offset: -1, Want: "address inside image", Got: fmt.Sprintf("%#08x", addr)}
	}
	var (
		branches int
		stores   []armdis.Inst
	)
	armdis.Walk(dec, kernel[off:], addr, func(i armdis.Inst) bool {
		switch {
		case i.Op == armdis.OpBL || (i.Op == armdis.OpB && !i.Cond):
			branches++
			return branches < 2
		case branches == 1 && i.Op == armdis.OpStr:
			stores = append(stores, i)
		}
		return true
	})
	return stores, nil
}

// PatchConsoleEnable disables the store in pl011_console_setup that enables
// the UART transmitter and receiver. Kernels whose setup routine has a
// single store are returned unchanged. The input is not modified.
func PatchConsoleEnable(dec armdis.Decoder, kernel []byte) ([]byte, error) {
	base, err := KernelBase(dec, kernel)
	if err != nil {
		return nil, err
	}
	console, err := FindConsole(kernel, base)
	if err != nil {
		return nil, err
	}
	stores, err := setupStores(dec, kernel, base, console.Setup)
	if err != nil {
		return nil, err
	}

	out := bytes.Clone(kernel)
	switch len(stores) {
	case 1:
		log.Infof("pl011_console_setup has a single store, leaving kernel unchanged")
		return out, nil
	case 2:
	default:
		return nil, &fault.StructuralMismatch{
			What:   "pl011_console_setup",
			Offset: int(console.Setup - base),
			Want:   "1 or 2 stores",
			Got:    fmt.Sprintf("%d stores", len(stores)),
		}
	}
	txrx := stores[1]
	off := int(txrx.Addr - base)
	if off+txrx.Size > len(out) {
		return nil, fault.Mismatch("pl011_console_setup store", off)
	}
	clear(out[off : off+txrx.Size])
	log.Infof("patched txrx enable store at %#x (%d bytes)", off, txrx.Size)
	return out, nil
}
