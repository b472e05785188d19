// Package disasm decodes native x86 and ARM instructions into a common
// representation used by the REIL engine and the listing output.
package disasm

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/x86/x86asm"
)

// Arch selects the native instruction set.
type Arch int

const (
	X86 Arch = iota + 1 // IA-32, 32-bit mode
	ARM                 // A32
)

func (a Arch) String() string {
	switch a {
	case X86:
		return "x86"
	case ARM:
		return "arm"
	}
	return fmt.Sprintf("Arch(%d)", int(a))
}

// ErrUnsupportedArch is returned for an unknown Arch value.
var ErrUnsupportedArch = errors.New("unsupported architecture")

// Inst is a simplified decoded instruction.
type Inst struct {
	Arch Arch
	VA   uint64 // virtual address of instruction
	Len  int    // encoding length in bytes
	Raw  []byte // encoding, aliases the decoded buffer
	Op   string // mnemonic in lowercase
	Args string // formatted operands
	Text string // formatted disassembly string

	X86 x86asm.Inst // valid when Arch == X86
	ARM armasm.Inst // valid when Arch == ARM
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Decode decodes the first instruction of src, located at va.
func Decode(arch Arch, src []byte, va uint64) (Inst, error) {
	switch arch {
	case X86:
		in, err := x86asm.Decode(src, 32)
		if err != nil {
			return Inst{}, err
		}
		if in.Op == 0 {
			// x86asm reports truncated and invalid encodings after a
			// prefix as a one-byte prefix instruction.
			return Inst{}, x86Failure(src)
		}
		return newInst(arch, va, src[:in.Len], x86asm.IntelSyntax(in, va, nil), func(i *Inst) { i.X86 = in }), nil
	case ARM:
		in, err := armasm.Decode(src, armasm.ModeARM)
		if err != nil {
			return Inst{}, err
		}
		return newInst(arch, va, src[:in.Len], armasm.GNUSyntax(in), func(i *Inst) { i.ARM = in }), nil
	}
	return Inst{}, ErrUnsupportedArch
}

// x86Failure tells a truncated encoding from an unrecognized one by
// decoding src again padded to the maximum instruction length.
func x86Failure(src []byte) error {
	const maxLen = 15
	if len(src) < maxLen {
		padded := make([]byte, maxLen)
		copy(padded, src)
		if in, err := x86asm.Decode(padded, 32); err == nil && in.Op != 0 && in.Len > len(src) {
			return x86asm.ErrTruncated
		}
	}
	return x86asm.ErrUnrecognized
}

func newInst(arch Arch, va uint64, raw []byte, text string, set func(*Inst)) Inst {
	op, args, _ := strings.Cut(text, " ")
	inst := Inst{
		Arch: arch,
		VA:   va,
		Len:  len(raw),
		Raw:  raw,
		Op:   strings.ToLower(op),
		Args: strings.TrimSpace(args),
		Text: text,
	}
	set(&inst)
	return inst
}

// DecodeAll decodes src linearly until it is exhausted or a decoding
// error occurs. The instructions decoded so far are returned with the error.
func DecodeAll(arch Arch, src []byte, va uint64) (Stream, error) {
	var out Stream
	for off := 0; off < len(src); {
		inst, err := Decode(arch, src[off:], va+uint64(off))
		if err != nil {
			return out, fmt.Errorf("decode at %#x: %w", va+uint64(off), err)
		}
		out = append(out, inst)
		off += inst.Len
	}
	return out, nil
}

// String formats the instruction as "va  bytes  text".
func (i Inst) String() string {
	return fmt.Sprintf("%-10x %-20x %s", i.VA, i.Raw, i.Text)
}
