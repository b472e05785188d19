package ir

// RawInfo describes the native instruction a REIL instruction was lifted from.
type RawInfo struct {
	Addr     uint64
	Size     int
	Data     []byte // encoding bytes, aliases the translated buffer
	Mnemonic string
	Operands string
}

// Inst is a REIL instruction record.
//
// Records handed to a translation handler belong to the engine and are
// overwritten once the handler returns. Use Clone to keep one.
type Inst struct {
	Raw     RawInfo
	Inum    uint64 // position within the native instruction's expansion
	Op      Op
	A, B, C Arg
	Flags   Flags
}

// Address returns the composite address of the instruction.
func (i *Inst) Address() uint64 {
	return EncodeAddress(i.RawAddress(), i.ReilOffset())
}

// ReilOffset returns the index of the instruction within its expansion.
func (i *Inst) ReilOffset() uint8 { return uint8(i.Inum) }

// RawAddress returns the native instruction address.
func (i *Inst) RawAddress() uint64 { return i.Raw.Addr }

// Opcode returns the REIL operation.
func (i *Inst) Opcode() Op { return i.Op }

// FirstOperand returns a copy of slot a, or false when the slot is unused.
func (i *Inst) FirstOperand() (Arg, bool) { return present(i.A) }

// SecondOperand returns a copy of slot b, or false when the slot is unused.
func (i *Inst) SecondOperand() (Arg, bool) { return present(i.B) }

// ThirdOperand returns a copy of slot c, or false when the slot is unused.
func (i *Inst) ThirdOperand() (Arg, bool) { return present(i.C) }

func present(a Arg) (Arg, bool) {
	if a.Kind == ArgNone {
		return Arg{}, false
	}
	return a, true
}

// Operands returns the used operand slots in order.
func (i *Inst) Operands() []Arg {
	var out []Arg
	for _, a := range [...]Arg{i.A, i.B, i.C} {
		if a.Kind != ArgNone {
			out = append(out, a)
		}
	}
	return out
}

// HasFlag reports whether all bits of f are set.
func (i *Inst) HasFlag(f Flags) bool { return i.Flags&f == f }

// Clone returns a deep copy that does not share memory with the engine.
func (i *Inst) Clone() Inst {
	c := *i
	if i.Raw.Data != nil {
		c.Raw.Data = append([]byte(nil), i.Raw.Data...)
	}
	return c
}
