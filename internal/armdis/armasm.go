package armdis

import (
	"strings"

	"golang.org/x/arch/arm/armasm"
)

// ARM decodes 32-bit ARM (not Thumb) instructions with armasm.
var ARM Decoder = DecodeFunc(decodeARM)

// armasm folds condition and flag suffixes into the op name, e.g. "STR.EQ"
// or "ADD.S". PC relative ADD is not turned into ADR.
var armasmOps = map[string]Op{
	"MOV": OpMov,
	"ADD": OpAdd,
	"B":   OpB,
	"BL":  OpBL,
	"STR": OpStr,
}

var conditions = map[string]bool{
	"EQ": true, "NE": true, "CS": true, "CC": true,
	"MI": true, "PL": true, "VS": true, "VC": true,
	"HI": true, "LS": true, "GE": true, "LT": true,
	"GT": true, "LE": true,
}

func decodeARM(code []byte, addr uint32) (Inst, error) {
	ai, err := armasm.Decode(code, armasm.ModeARM)
	if err != nil {
		return Inst{}, err
	}
	suffixes := strings.Split(ai.Op.String(), ".")
	name := suffixes[0]
	inst := Inst{
		Addr: addr,
		Op:   armasmOps[name],
		Size: ai.Len,
	}
	for _, s := range suffixes[1:] {
		if conditions[s] {
			inst.Cond = true
		}
	}
	for _, a := range ai.Args {
		if a == nil {
			break
		}
		inst.Args = append(inst.Args, convertArg(a, addr))
	}
	return inst, nil
}

func convertArg(a armasm.Arg, addr uint32) Arg {
	switch a := a.(type) {
	case armasm.Reg:
		if a >= armasm.R0 && a <= armasm.R15 {
			return RegArg(Reg(a - armasm.R0))
		}
	case armasm.Imm:
		return ImmArg(int64(a))
	case armasm.ImmAlt:
		return ImmArg(int64(a.Imm()))
	case armasm.PCRel:
		// relative to the instruction address plus the pipeline offset
		return ImmArg(int64(addr) + 8 + int64(a))
	case armasm.Mem:
		return Arg{Kind: ArgMem, Reg: Reg(a.Base - armasm.R0)}
	}
	return Arg{}
}
