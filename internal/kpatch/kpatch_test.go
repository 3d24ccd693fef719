package kpatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fwemu/tools/internal/armdis"
	"github.com/fwemu/tools/internal/fault"
)

// fakeDecoder returns the instruction registered for an address and treats
// everything else as a 4 byte instruction of no interest.
type fakeDecoder map[uint32]armdis.Inst

func (f fakeDecoder) Decode(code []byte, addr uint32) (armdis.Inst, error) {
	if len(code) < 4 {
		return armdis.Inst{}, errors.New("truncated")
	}
	i, ok := f[addr]
	if !ok {
		i = armdis.Inst{Op: armdis.OpOther}
	}
	i.Addr = addr
	i.Size = 4
	return i, nil
}

const (
	testBase    = 0xc0008000
	lookupOff   = 0x100
	tableOff    = lookupOff + 0x20 + 8
	consoleOff  = 0x400
	setupOff    = 0x1000
	kernelSize  = 0x2000
	setupFiller = 0xab
)

func bl(target int64) armdis.Inst {
	return armdis.Inst{Op: armdis.OpBL, Args: []armdis.Arg{armdis.ImmArg(target)}}
}

var (
	movR10R5 = armdis.Inst{Op: armdis.OpMov, Args: []armdis.Arg{armdis.RegArg(10), armdis.RegArg(5)}}
	addPC    = armdis.Inst{Op: armdis.OpAdd, Args: []armdis.Arg{armdis.RegArg(3), armdis.RegArg(armdis.PC), armdis.ImmArg(0x20)}}
	str      = armdis.Inst{Op: armdis.OpStr, Args: []armdis.Arg{armdis.RegArg(1), {Kind: armdis.ArgMem}}}
	b        = armdis.Inst{Op: armdis.OpB, Args: []armdis.Arg{armdis.ImmArg(0)}}
	bne      = armdis.Inst{Op: armdis.OpB, Cond: true, Args: []armdis.Arg{armdis.ImmArg(0)}}
)

func put32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }

// startup returns a kernel image with startup code calling
// __lookup_processor_type, and a decoder for it.
func startup() ([]byte, fakeDecoder) {
	kernel := make([]byte, kernelSize)
	put32(kernel, tableOff, testBase+tableOff)
	dec := fakeDecoder{
		0x4:       bl(lookupOff),
		0x8:       movR10R5,
		lookupOff: addPC,
	}
	return kernel, dec
}

func TestKernelBase(t *testing.T) {
	kernel, dec := startup()
	base, err := KernelBase(dec, kernel)
	if err != nil {
		t.Fatal(err)
	}
	if base != testBase {
		t.Errorf("KernelBase = %#x, want %#x", base, testBase)
	}
}

func TestKernelBaseMismatch(t *testing.T) {
	for _, tt := range []struct {
		name   string
		modify func(kernel []byte, dec fakeDecoder)
	}{
		{"low bits corrupted", func(k []byte, _ fakeDecoder) { put32(k, tableOff, testBase+tableOff+1) }},
		{"no branch before mov", func(_ []byte, d fakeDecoder) { delete(d, 0x4) }},
		{"mov at start", func(_ []byte, d fakeDecoder) { d[0] = movR10R5 }},
		{"no mov", func(_ []byte, d fakeDecoder) { delete(d, 0x8) }},
		{"no add", func(_ []byte, d fakeDecoder) { delete(d, lookupOff) }},
		{"add without pc", func(_ []byte, d fakeDecoder) {
			d[lookupOff] = armdis.Inst{Op: armdis.OpAdd, Args: []armdis.Arg{armdis.RegArg(3), armdis.RegArg(4), armdis.ImmArg(0x20)}}
		}},
		{"branch outside image", func(_ []byte, d fakeDecoder) { d[0x4] = bl(kernelSize) }},
		{"table outside image", func(_ []byte, d fakeDecoder) {
			d[lookupOff] = armdis.Inst{Op: armdis.OpAdd, Args: []armdis.Arg{armdis.RegArg(3), armdis.RegArg(armdis.PC), armdis.ImmArg(kernelSize)}}
		}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			kernel, dec := startup()
			tt.modify(kernel, dec)
			_, err := KernelBase(dec, kernel)
			if !errors.Is(err, fault.ErrStructuralMismatch) {
				t.Fatalf("KernelBase: got %v, want StructuralMismatch", err)
			}
		})
	}
}

// consoleKernel extends startup with an amba_console descriptor (preceded by
// a decoy) and a pl011_console_setup routine containing the given
// instructions, starting at setupOff.
func consoleKernel(setup ...armdis.Inst) ([]byte, fakeDecoder) {
	kernel, dec := startup()

	// decoy: pointers below the kernel base
	copy(kernel[0x300:], "ttyAM\x00")
	put32(kernel, 0x310, 0x1000)
	put32(kernel, 0x318, 0x2000)
	put32(kernel, 0x320, 0x3000)

	copy(kernel[consoleOff:], "ttyAM\x00")
	put32(kernel, consoleOff+0x10, testBase+0x800) // write
	put32(kernel, consoleOff+0x18, testBase+0x900) // device
	put32(kernel, consoleOff+0x1c, 0)              // unblank
	put32(kernel, consoleOff+0x20, testBase+setupOff)

	for i := range setup {
		off := setupOff + 4*i
		for j := 0; j < 4; j++ {
			kernel[off+j] = setupFiller
		}
		dec[testBase+uint32(off)] = setup[i]
	}
	return kernel, dec
}

func TestFindConsole(t *testing.T) {
	kernel, _ := consoleKernel()
	got, err := FindConsole(kernel, testBase)
	if err != nil {
		t.Fatal(err)
	}
	want := ConsoleDescriptor{
		Write:   testBase + 0x800,
		Device:  testBase + 0x900,
		Unblank: 0,
		Setup:   testBase + setupOff,
		Offset:  consoleOff + 0x10,
	}
	if got != want {
		t.Errorf("FindConsole = %+v, want %+v", got, want)
	}
}

func TestFindConsoleRejects(t *testing.T) {
	for _, tt := range []struct {
		name   string
		modify func(kernel []byte)
	}{
		{"unblank set", func(k []byte) { put32(k, consoleOff+0x1c, testBase+0xa00) }},
		{"write unaligned", func(k []byte) { put32(k, consoleOff+0x10, testBase+0x802) }},
		{"device below base", func(k []byte) { put32(k, consoleOff+0x18, 0x100) }},
		{"setup equal to base", func(k []byte) { put32(k, consoleOff+0x20, testBase) }},
		{"no marker", func(k []byte) { copy(k[consoleOff:], "ttyXX") }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			kernel, _ := consoleKernel()
			tt.modify(kernel)
			_, err := FindConsole(kernel, testBase)
			if !errors.Is(err, fault.ErrStructuralMismatch) {
				t.Fatalf("FindConsole: got %v, want StructuralMismatch", err)
			}
		})
	}
}

func TestPatchConsoleEnable(t *testing.T) {
	other := armdis.Inst{Op: armdis.OpOther}

	t.Run("two stores", func(t *testing.T) {
		// The store before the first branch is part of the prologue and
		// does not count.
		kernel, dec := consoleKernel(str, bl(0), str, other, str, b, str)
		orig := bytes.Clone(kernel)
		got, err := PatchConsoleEnable(dec, kernel)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(kernel, orig) {
			t.Errorf("input buffer modified")
		}
		second := setupOff + 4*4
		if !bytes.Equal(got[second:second+4], make([]byte, 4)) {
			t.Errorf("second store not zeroed: %x", got[second:second+4])
		}
		want := bytes.Clone(orig)
		clear(want[second : second+4])
		if !bytes.Equal(got, want) {
			t.Errorf("bytes other than the second store changed")
		}
	})

	t.Run("conditional branch inside block", func(t *testing.T) {
		kernel, dec := consoleKernel(bl(0), str, bne, str, b, str)
		got, err := PatchConsoleEnable(dec, kernel)
		if err != nil {
			t.Fatal(err)
		}
		second := setupOff + 3*4
		want := bytes.Clone(kernel)
		clear(want[second : second+4])
		if !bytes.Equal(got, want) {
			t.Errorf("store after conditional branch not zeroed")
		}
	})

	t.Run("conditional bl ends block", func(t *testing.T) {
		blne := bl(0)
		blne.Cond = true
		kernel, dec := consoleKernel(bl(0), str, blne, str, b, str)
		got, err := PatchConsoleEnable(dec, kernel)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, kernel) {
			t.Errorf("kernel modified, want single store block left alone")
		}
	})

	t.Run("one store", func(t *testing.T) {
		kernel, dec := consoleKernel(other, bl(0), str, b, str)
		got, err := PatchConsoleEnable(dec, kernel)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, kernel) {
			t.Errorf("kernel modified")
		}
	})

	for _, tt := range []struct {
		name  string
		setup []armdis.Inst
	}{
		{"three stores", []armdis.Inst{bl(0), str, str, str, b}},
		{"no stores", []armdis.Inst{bl(0), other, b}},
		{"stores only before branch", []armdis.Inst{str, str, bl(0), b}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			kernel, dec := consoleKernel(tt.setup...)
			_, err := PatchConsoleEnable(dec, kernel)
			if !errors.Is(err, fault.ErrStructuralMismatch) {
				t.Fatalf("PatchConsoleEnable: got %v, want StructuralMismatch", err)
			}
		})
	}
}
