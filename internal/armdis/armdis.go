// Package armdis decodes single ARM32 instructions into the small vocabulary
// the kernel patches need.
package armdis

import (
	"fmt"
	"strings"
)

// Op identifies an instruction regardless of condition code or flag-setting
// suffix.
type Op int

const (
	OpOther Op = iota
	OpMov
	OpAdd
	OpB
	OpBL
	OpStr
)

var opNames = map[Op]string{
	OpOther: "other",
	OpMov:   "MOV",
	OpAdd:   "ADD",
	OpB:     "B",
	OpBL:    "BL",
	OpStr:   "STR",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// Reg is a core register number, 0-15.
type Reg uint8

const (
	SP Reg = 13
	LR Reg = 14
	PC Reg = 15
)

func (r Reg) String() string {
	switch r {
	case SP:
		return "SP"
	case LR:
		return "LR"
	case PC:
		return "PC"
	}
	return fmt.Sprintf("R%d", uint8(r))
}

type ArgKind int

const (
	ArgReg ArgKind = iota + 1
	ArgImm
	// ArgMem is a memory operand; only its presence is recorded.
	ArgMem
)

// Arg is one operand. Branch targets are ArgImm holding the absolute target
// address.
type Arg struct {
	Kind ArgKind
	Reg  Reg
	Imm  int64
}

func RegArg(r Reg) Arg   { return Arg{Kind: ArgReg, Reg: r} }
func ImmArg(v int64) Arg { return Arg{Kind: ArgImm, Imm: v} }

func (a Arg) String() string {
	switch a.Kind {
	case ArgReg:
		return a.Reg.String()
	case ArgImm:
		return fmt.Sprintf("#%#x", a.Imm)
	case ArgMem:
		return "[mem]"
	}
	return "?"
}

// Inst is one decoded instruction.
type Inst struct {
	Addr uint32
	Op   Op
	// Cond is set for instructions that only execute under a condition
	// other than AL.
	Cond bool
	Size int
	Args []Arg
}

// IsReg reports whether argument i is register r.
func (i Inst) IsReg(n int, r Reg) bool {
	return n < len(i.Args) && i.Args[n].Kind == ArgReg && i.Args[n].Reg == r
}

// Imm returns argument n if it is an immediate.
func (i Inst) Imm(n int) (int64, bool) {
	if n < len(i.Args) && i.Args[n].Kind == ArgImm {
		return i.Args[n].Imm, true
	}
	return 0, false
}

func (i Inst) String() string {
	args := make([]string, len(i.Args))
	for n, a := range i.Args {
		args[n] = a.String()
	}
	op := i.Op.String()
	if i.Cond {
		op += ".cc"
	}
	return fmt.Sprintf("%#08x: %s %s", i.Addr, op, strings.Join(args, ", "))
}

// Decoder decodes the instruction at the start of code, which is located at
// address addr.
type Decoder interface {
	Decode(code []byte, addr uint32) (Inst, error)
}

// DecodeFunc adapts a function to the Decoder interface.
type DecodeFunc func(code []byte, addr uint32) (Inst, error)

func (f DecodeFunc) Decode(code []byte, addr uint32) (Inst, error) { return f(code, addr) }

// Walk decodes instructions of code sequentially, starting at address addr,
// and calls fn for each. Walking stops when fn returns false, when code is
// exhausted or at the first instruction that cannot be decoded.
func Walk(dec Decoder, code []byte, addr uint32, fn func(Inst) bool) {
	for off := 0; off < len(code); {
		inst, err := dec.Decode(code[off:], addr+uint32(off))
		if err != nil || inst.Size <= 0 {
			return
		}
		if !fn(inst) {
			return
		}
		off += inst.Size
	}
}
