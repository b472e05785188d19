package engine

import (
	"fmt"

	"reil/internal/ir"
)

// builder accumulates the REIL expansion of one native instruction.
// Its output slice is reused across instructions.
type builder struct {
	raw   ir.RawInfo
	out   []ir.Inst
	temps int
	flags ir.Flags
}

func (b *builder) reset(raw ir.RawInfo) {
	b.raw = raw
	b.out = b.out[:0]
	b.temps = 0
	b.flags = 0
}

func (b *builder) emit(op ir.Op, a, x, c ir.Arg) {
	b.out = append(b.out, ir.Inst{
		Raw:  b.raw,
		Inum: uint64(len(b.out)),
		Op:   op,
		A:    a,
		B:    x,
		C:    c,
	})
}

// unknown discards a partial expansion and replaces it with a single UNK.
func (b *builder) unknown() {
	b.out = b.out[:0]
	b.flags = 0
	b.emit(ir.OpUnk, ir.Arg{}, ir.Arg{}, ir.Arg{})
}

func (b *builder) finish() ([]ir.Inst, error) {
	if len(b.out) == 0 {
		b.emit(ir.OpNone, ir.Arg{}, ir.Arg{}, ir.Arg{})
	}
	if len(b.out) > 256 {
		return nil, errExpansionTooLong
	}
	b.out[len(b.out)-1].Flags |= b.flags | ir.FlagAsmEnd
	return b.out, nil
}

func named(kind ir.ArgType, name string, size ir.Size) ir.Arg {
	a := ir.Arg{Kind: kind, Width: size}
	a.SetName(name)
	return a
}

func reg(name string, size ir.Size) ir.Arg { return named(ir.ArgReg, name, size) }

func imm(v uint64, size ir.Size) ir.Arg {
	if bits := size.Bits(); bits < 64 {
		v &= 1<<uint(bits) - 1
	}
	return ir.Arg{Kind: ir.ArgConst, Width: size, Const: v}
}

func loc(addr uint64) ir.Arg {
	return ir.Arg{Kind: ir.ArgLoc, Width: ir.U32, Const: addr}
}

func (b *builder) temp(size ir.Size) ir.Arg {
	t := named(ir.ArgTemp, fmt.Sprintf("V_%02d", b.temps), size)
	b.temps++
	return t
}

// op emits c = a <op> x into a fresh temporary of the given size.
func (b *builder) op(op ir.Op, a, x ir.Arg, size ir.Size) ir.Arg {
	t := b.temp(size)
	b.emit(op, a, x, t)
	return t
}

func (b *builder) str(src, dst ir.Arg) { b.emit(ir.OpStr, src, ir.Arg{}, dst) }

// cast truncates or zero-extends a to size.
func (b *builder) cast(a ir.Arg, size ir.Size) ir.Arg {
	if a.Width == size {
		return a
	}
	if a.Kind == ir.ArgConst {
		return imm(a.Const, size)
	}
	t := b.temp(size)
	b.str(a, t)
	return t
}

func (b *builder) not(a ir.Arg) ir.Arg { return b.op(ir.OpNot, a, ir.Arg{}, a.Width) }

func (b *builder) eq(a, x ir.Arg) ir.Arg { return b.op(ir.OpEq, a, x, ir.U1) }

func (b *builder) lt(a, x ir.Arg) ir.Arg { return b.op(ir.OpLt, a, x, ir.U1) }

func (b *builder) load(addr ir.Arg, size ir.Size) ir.Arg {
	t := b.temp(size)
	b.emit(ir.OpLdm, addr, ir.Arg{}, t)
	return t
}

func (b *builder) store(val, addr ir.Arg) { b.emit(ir.OpStm, val, ir.Arg{}, addr) }

func (b *builder) jump(cond, target ir.Arg) { b.emit(ir.OpJcc, cond, ir.Arg{}, target) }

// always is the constant true condition.
var always = imm(1, ir.U1)

// msb returns the most significant bit of a as a U1 value.
func (b *builder) msb(a ir.Arg) ir.Arg {
	bits := a.Width.Bits()
	if bits == 1 {
		return a
	}
	t := b.op(ir.OpShr, a, imm(uint64(bits-1), a.Width), a.Width)
	return b.cast(t, ir.U1)
}

// sext sign-extends a to size.
func (b *builder) sext(a ir.Arg, size ir.Size) ir.Arg {
	from, to := a.Width.Bits(), size.Bits()
	if from >= to {
		return b.cast(a, size)
	}
	z := b.cast(a, size)
	sign := b.cast(b.msb(a), size)
	high := uint64(1)<<uint(to) - 1
	if to == 64 {
		high = ^uint64(0)
	}
	high &^= uint64(1)<<uint(from) - 1
	fill := b.op(ir.OpMul, sign, imm(high, size), size)
	return b.op(ir.OpOr, z, fill, size)
}
