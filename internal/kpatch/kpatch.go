// Package kpatch locates and patches code sites in ARM Linux kernel images
// that have no symbol information.
//
// Offsets into the image and runtime addresses differ by the kernel base
// (the address the image is linked to run at). KernelBase recovers it from
// the startup code, and every pointer read from kernel data is translated
// back to an image offset by subtracting it.
package kpatch

import (
	"encoding/binary"
	"fmt"

	"github.com/fwemu/tools/internal/armdis"
	"github.com/fwemu/tools/internal/fault"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "kpatch")

const (
	regR5  armdis.Reg = 5
	regR10 armdis.Reg = 10

	// pcBias is the distance between an ARM instruction and the PC value it
	// observes.
	pcBias = 8
)

func read32(kernel []byte, off int64) (uint32, bool) {
	if off < 0 || off+4 > int64(len(kernel)) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(kernel[off:]), true
}

// KernelBase returns the address the kernel is linked at.
//
// The startup code calls __lookup_processor_type right before moving the
// result into r10 (mov r10, r5). That function starts by taking the address
// of its data table (add rX, pc, #imm), whose first word is the table's own
// linked address.
func KernelBase(dec armdis.Decoder, kernel []byte) (uint32, error) {
	var (
		prev   *armdis.Inst
		call   *armdis.Inst
		errMov error
	)
	armdis.Walk(dec, kernel, 0, func(i armdis.Inst) bool {
		if i.Op == armdis.OpMov && i.IsReg(0, regR10) && i.IsReg(1, regR5) {
			if prev == nil || prev.Op != armdis.OpBL {
				got := "start of image"
				if prev != nil {
					got = prev.String()
				}
				errMov = &fault.StructuralMismatch{
					What:   "branch to __lookup_processor_type",
					Offset: int(i.Addr),
					Want:   "BL before MOV R10, R5",
					Got:    got,
				}
			}
			call = prev
			return false
		}
		p := i
		prev = &p
		return true
	})
	if errMov != nil {
		return 0, errMov
	}
	if call == nil {
		return 0, &fault.StructuralMismatch{What: "kernel startup code", Offset: -1, Want: "MOV R10, R5", Got: "no match"}
	}
	target, ok := call.Imm(0)
	if !ok || target < 0 || target >= int64(len(kernel)) {
		return 0, &fault.StructuralMismatch{What: "__lookup_processor_type", Offset: int(call.Addr), Want: "branch target inside image", Got: call.String()}
	}

	add, err := dec.Decode(kernel[target:], uint32(target))
	if err != nil {
		return 0, &fault.StructuralMismatch{What: "__lookup_processor_type", Offset: int(target), Want: "ADD Rd, PC, #imm", Got: err.Error()}
	}
	imm, ok := add.Imm(2)
	if add.Op != armdis.OpAdd || !add.IsReg(1, armdis.PC) || !ok {
		return 0, &fault.StructuralMismatch{What: "__lookup_processor_type", Offset: int(target), Want: "ADD Rd, PC, #imm", Got: add.String()}
	}

	table := target + imm + pcBias
	word, ok := read32(kernel, table)
	if !ok {
		return 0, &fault.StructuralMismatch{What: "__lookup_processor_type_data", Offset: int(table), Want: "word inside image", Got: fmt.Sprintf("image of %#x bytes", len(kernel))}
	}
	if int64(word&0xfff) != table&0xfff {
		return 0, &fault.StructuralMismatch{
			What:   "__lookup_processor_type_data",
			Offset: int(table),
			Want:   fmt.Sprintf("address with low bits %#03x", table&0xfff),
			Got:    fmt.Sprintf("%#08x", word),
		}
	}
	base := word - uint32(table)
	log.Debugf("__lookup_processor_type at %#x, data at %#x, kernel base %#08x", target, table, base)
	return base, nil
}
