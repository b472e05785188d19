// Package ir defines the REIL instruction records produced by the engine
// and the read-only views used to inspect them.
package ir

import "fmt"

// Op is a REIL operation code.
type Op uint8

const (
	OpNone Op = iota
	OpUnk
	OpJcc
	OpStr
	OpStm
	OpLdm
	OpAdd
	OpSub
	OpNeg
	OpMul
	OpDiv
	OpMod
	OpSmul
	OpSdiv
	OpSmod
	OpShl
	OpShr
	OpAnd
	OpOr
	OpXor
	OpNot
	OpEq
	OpLt
)

var opNames = [...]string{
	OpNone: "NONE",
	OpUnk:  "UNK",
	OpJcc:  "JCC",
	OpStr:  "STR",
	OpStm:  "STM",
	OpLdm:  "LDM",
	OpAdd:  "ADD",
	OpSub:  "SUB",
	OpNeg:  "NEG",
	OpMul:  "MUL",
	OpDiv:  "DIV",
	OpMod:  "MOD",
	OpSmul: "SMUL",
	OpSdiv: "SDIV",
	OpSmod: "SMOD",
	OpShl:  "SHL",
	OpShr:  "SHR",
	OpAnd:  "AND",
	OpOr:   "OR",
	OpXor:  "XOR",
	OpNot:  "NOT",
	OpEq:   "EQ",
	OpLt:   "LT",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// ArgType tags an operand slot.
type ArgType uint8

const (
	ArgNone  ArgType = iota // unused slot
	ArgReg                  // architecture register
	ArgTemp                 // engine temporary
	ArgConst                // immediate
	ArgLoc                  // code location
)

func (t ArgType) String() string {
	switch t {
	case ArgNone:
		return "NONE"
	case ArgReg:
		return "REG"
	case ArgTemp:
		return "TEMP"
	case ArgConst:
		return "CONST"
	case ArgLoc:
		return "LOC"
	}
	return fmt.Sprintf("ArgType(%d)", int(t))
}

// Size is an operand width class.
type Size uint8

const (
	U1 Size = iota
	U8
	U16
	U32
	U64
)

// Bits returns the width in bits.
func (s Size) Bits() int {
	switch s {
	case U1:
		return 1
	case U8:
		return 8
	case U16:
		return 16
	case U32:
		return 32
	case U64:
		return 64
	}
	return 0
}

// SizeOf returns the size class for a width in bits.
func SizeOf(bits int) (Size, bool) {
	switch bits {
	case 1:
		return U1, true
	case 8:
		return U8, true
	case 16:
		return U16, true
	case 32:
		return U32, true
	case 64:
		return U64, true
	}
	return 0, false
}

func (s Size) String() string {
	return fmt.Sprintf("U%d", s.Bits())
}

// Flags annotate an instruction with control-flow information.
type Flags uint8

const (
	FlagCall   Flags = 1 << 1 // native call
	FlagRet    Flags = 1 << 2 // native return
	FlagBBEnd  Flags = 1 << 3 // last instruction of a basic block
	FlagAsmEnd Flags = 1 << 4 // last REIL instruction of a native instruction
)
