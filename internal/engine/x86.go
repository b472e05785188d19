package engine

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"reil/internal/disasm"
	"reil/internal/ir"
)

var x86Names = [8]string{"R_EAX", "R_ECX", "R_EDX", "R_EBX", "R_ESP", "R_EBP", "R_ESI", "R_EDI"}

var (
	x86ZF  = reg("R_ZF", ir.U1)
	x86SF  = reg("R_SF", ir.U1)
	x86CF  = reg("R_CF", ir.U1)
	x86OF  = reg("R_OF", ir.U1)
	x86ESP = reg("R_ESP", ir.U32)
	x86EBP = reg("R_EBP", ir.U32)
)

// x86Reg locates an architectural register inside its 32-bit parent.
type x86Reg struct {
	full  string
	bits  int
	shift int
}

func x86RegInfo(r x86asm.Reg) (x86Reg, bool) {
	switch {
	case r >= x86asm.EAX && r <= x86asm.EDI:
		return x86Reg{x86Names[r-x86asm.EAX], 32, 0}, true
	case r >= x86asm.AX && r <= x86asm.DI:
		return x86Reg{x86Names[r-x86asm.AX], 16, 0}, true
	case r >= x86asm.AL && r <= x86asm.BL:
		return x86Reg{x86Names[r-x86asm.AL], 8, 0}, true
	case r >= x86asm.AH && r <= x86asm.BH:
		return x86Reg{x86Names[r-x86asm.AH], 8, 8}, true
	}
	return x86Reg{}, false
}

// x86Place is a readable and writable operand: a register or a memory
// cell whose address has already been computed.
type x86Place struct {
	reg   x86Reg
	isMem bool
	addr  ir.Arg
	size  ir.Size
}

type x86Lifter struct {
	b    *builder
	in   *x86asm.Inst
	next uint64
}

func liftX86(b *builder, d *disasm.Inst) error {
	x := &x86Lifter{b: b, in: &d.X86, next: d.VA + uint64(d.Len)}
	return x.lift()
}

func (x *x86Lifter) lift() error {
	b := x.b
	switch op := x.in.Op; op {
	case x86asm.NOP:
		return nil

	case x86asm.HLT:
		b.flags |= ir.FlagBBEnd
		return nil

	case x86asm.MOV, x86asm.MOVZX, x86asm.MOVSX:
		dst, err := x.place(0)
		if err != nil {
			return err
		}
		src, err := x.value(1, dst.size)
		if err != nil {
			return err
		}
		if op == x86asm.MOVSX {
			src = b.sext(src, dst.size)
		}
		x.write(dst, b.cast(src, dst.size))
		return nil

	case x86asm.LEA:
		dst, err := x.place(0)
		if err != nil {
			return err
		}
		m, ok := x.in.Args[1].(x86asm.Mem)
		if !ok {
			return errUnsupportedOperand
		}
		addr, err := x.addr(m)
		if err != nil {
			return err
		}
		x.write(dst, b.cast(addr, dst.size))
		return nil

	case x86asm.ADD, x86asm.SUB, x86asm.CMP,
		x86asm.AND, x86asm.OR, x86asm.XOR, x86asm.TEST:
		return x.arith(op)

	case x86asm.INC, x86asm.DEC:
		dst, err := x.place(0)
		if err != nil {
			return err
		}
		a := x.read(dst)
		one := imm(1, dst.size)
		if op == x86asm.INC {
			res := b.op(ir.OpAdd, a, one, dst.size)
			x.addOverflow(a, one, res)
			x.zeroSign(res)
			x.write(dst, res)
		} else {
			res := b.op(ir.OpSub, a, one, dst.size)
			x.subOverflow(a, one, res)
			x.zeroSign(res)
			x.write(dst, res)
		}
		return nil

	case x86asm.NEG:
		dst, err := x.place(0)
		if err != nil {
			return err
		}
		a := x.read(dst)
		res := b.op(ir.OpNeg, a, ir.Arg{}, dst.size)
		b.str(b.not(b.eq(a, imm(0, dst.size))), x86CF)
		x.subOverflow(imm(0, dst.size), a, res)
		x.zeroSign(res)
		x.write(dst, res)
		return nil

	case x86asm.NOT:
		dst, err := x.place(0)
		if err != nil {
			return err
		}
		x.write(dst, b.not(x.read(dst)))
		return nil

	case x86asm.SHL, x86asm.SHR:
		dst, err := x.place(0)
		if err != nil {
			return err
		}
		count, err := x.value(1, ir.U8)
		if err != nil {
			return err
		}
		count = b.op(ir.OpAnd, b.cast(count, dst.size), imm(31, dst.size), dst.size)
		rop := ir.OpShl
		if op == x86asm.SHR {
			rop = ir.OpShr
		}
		res := b.op(rop, x.read(dst), count, dst.size)
		x.zeroSign(res)
		x.write(dst, res)
		return nil

	case x86asm.XCHG:
		p0, err := x.place(0)
		if err != nil {
			return err
		}
		p1, err := x.place(1)
		if err != nil {
			return err
		}
		v0, v1 := x.read(p0), x.read(p1)
		t := b.temp(p0.size)
		b.str(v0, t)
		x.write(p0, v1)
		x.write(p1, t)
		return nil

	case x86asm.PUSH:
		size, _ := ir.SizeOf(x.in.DataSize)
		v, err := x.value(0, size)
		if err != nil {
			return err
		}
		x.push(v)
		return nil

	case x86asm.POP:
		dst, err := x.place(0)
		if err != nil {
			return err
		}
		x.write(dst, x.pop(dst.size))
		return nil

	case x86asm.LEAVE:
		b.str(x86EBP, x86ESP)
		b.str(x.pop(ir.U32), x86EBP)
		return nil

	case x86asm.JMP, x86asm.CALL:
		target, err := x.target()
		if err != nil {
			return err
		}
		if op == x86asm.CALL {
			x.push(imm(x.next, ir.U32))
			b.flags |= ir.FlagCall
		}
		b.jump(always, target)
		b.flags |= ir.FlagBBEnd
		return nil

	case x86asm.RET:
		ret := x.pop(ir.U32)
		if n, ok := x.in.Args[0].(x86asm.Imm); ok && n != 0 {
			b.emit(ir.OpAdd, x86ESP, imm(uint64(n), ir.U32), x86ESP)
		}
		b.jump(always, ret)
		b.flags |= ir.FlagRet | ir.FlagBBEnd
		return nil
	}

	if cond, ok := x.condition(x.in.Op); ok {
		target, err := x.target()
		if err != nil {
			return err
		}
		b.jump(cond(), target)
		b.flags |= ir.FlagBBEnd
		return nil
	}
	return fmt.Errorf("no lifting for %v", x.in.Op)
}

func (x *x86Lifter) arith(op x86asm.Op) error {
	b := x.b
	dst, err := x.place(0)
	if err != nil {
		return err
	}
	src, err := x.value(1, dst.size)
	if err != nil {
		return err
	}
	a := x.read(dst)
	src = b.cast(src, dst.size)

	var res ir.Arg
	switch op {
	case x86asm.ADD:
		res = b.op(ir.OpAdd, a, src, dst.size)
		b.emit(ir.OpLt, res, a, x86CF)
		x.addOverflow(a, src, res)
	case x86asm.SUB, x86asm.CMP:
		res = b.op(ir.OpSub, a, src, dst.size)
		b.emit(ir.OpLt, a, src, x86CF)
		x.subOverflow(a, src, res)
	case x86asm.AND, x86asm.TEST:
		res = b.op(ir.OpAnd, a, src, dst.size)
	case x86asm.OR:
		res = b.op(ir.OpOr, a, src, dst.size)
	case x86asm.XOR:
		res = b.op(ir.OpXor, a, src, dst.size)
	}
	switch op {
	case x86asm.AND, x86asm.TEST, x86asm.OR, x86asm.XOR:
		b.str(imm(0, ir.U1), x86CF)
		b.str(imm(0, ir.U1), x86OF)
	}
	x.zeroSign(res)
	if op != x86asm.CMP && op != x86asm.TEST {
		x.write(dst, res)
	}
	return nil
}

func (x *x86Lifter) zeroSign(res ir.Arg) {
	x.b.emit(ir.OpEq, res, imm(0, res.Width), x86ZF)
	x.b.str(x.b.msb(res), x86SF)
}

func (x *x86Lifter) addOverflow(a, src, res ir.Arg) {
	b := x.b
	t := b.op(ir.OpAnd, b.op(ir.OpXor, a, res, res.Width), b.op(ir.OpXor, src, res, res.Width), res.Width)
	b.str(b.msb(t), x86OF)
}

func (x *x86Lifter) subOverflow(a, src, res ir.Arg) {
	b := x.b
	t := b.op(ir.OpAnd, b.op(ir.OpXor, a, src, res.Width), b.op(ir.OpXor, a, res, res.Width), res.Width)
	b.str(b.msb(t), x86OF)
}

// condition returns a generator for the flag expression tested by a
// conditional jump.
func (x *x86Lifter) condition(op x86asm.Op) (func() ir.Arg, bool) {
	b := x.b
	signOver := func() ir.Arg { return b.op(ir.OpXor, x86SF, x86OF, ir.U1) }
	belowEq := func() ir.Arg { return b.op(ir.OpOr, x86CF, x86ZF, ir.U1) }
	lessEq := func() ir.Arg { return b.op(ir.OpOr, x86ZF, signOver(), ir.U1) }

	switch op {
	case x86asm.JE:
		return func() ir.Arg { return x86ZF }, true
	case x86asm.JNE:
		return func() ir.Arg { return b.not(x86ZF) }, true
	case x86asm.JB:
		return func() ir.Arg { return x86CF }, true
	case x86asm.JAE:
		return func() ir.Arg { return b.not(x86CF) }, true
	case x86asm.JBE:
		return belowEq, true
	case x86asm.JA:
		return func() ir.Arg { return b.not(belowEq()) }, true
	case x86asm.JS:
		return func() ir.Arg { return x86SF }, true
	case x86asm.JNS:
		return func() ir.Arg { return b.not(x86SF) }, true
	case x86asm.JO:
		return func() ir.Arg { return x86OF }, true
	case x86asm.JNO:
		return func() ir.Arg { return b.not(x86OF) }, true
	case x86asm.JL:
		return signOver, true
	case x86asm.JGE:
		return func() ir.Arg { return b.not(signOver()) }, true
	case x86asm.JLE:
		return lessEq, true
	case x86asm.JG:
		return func() ir.Arg { return b.not(lessEq()) }, true
	}
	return nil, false
}

// target returns the destination of a branch in argument 0.
func (x *x86Lifter) target() (ir.Arg, error) {
	if rel, ok := x.in.Args[0].(x86asm.Rel); ok {
		return loc(uint64(uint32(int64(x.next) + int64(rel)))), nil
	}
	return x.value(0, ir.U32)
}

func (x *x86Lifter) push(v ir.Arg) {
	b := x.b
	if v.Kind == ir.ArgReg {
		// push esp stores the value before the decrement
		t := b.temp(v.Width)
		b.str(v, t)
		v = t
	}
	b.emit(ir.OpSub, x86ESP, imm(uint64(v.Width.Bits()/8), ir.U32), x86ESP)
	b.store(v, x86ESP)
}

func (x *x86Lifter) pop(size ir.Size) ir.Arg {
	b := x.b
	v := b.load(x86ESP, size)
	b.emit(ir.OpAdd, x86ESP, imm(uint64(size.Bits()/8), ir.U32), x86ESP)
	return v
}

// place resolves argument i to a register or memory location. The
// address of a memory operand is computed once.
func (x *x86Lifter) place(i int) (x86Place, error) {
	switch a := x.in.Args[i].(type) {
	case x86asm.Reg:
		r, ok := x86RegInfo(a)
		if !ok {
			return x86Place{}, fmt.Errorf("%w: register %v", errUnsupportedOperand, a)
		}
		size, _ := ir.SizeOf(r.bits)
		return x86Place{reg: r, size: size}, nil
	case x86asm.Mem:
		bits := x.in.MemBytes * 8
		if bits == 0 {
			bits = x.in.DataSize
		}
		size, ok := ir.SizeOf(bits)
		if !ok {
			return x86Place{}, fmt.Errorf("%w: %d-bit memory", errUnsupportedOperand, bits)
		}
		addr, err := x.addr(a)
		if err != nil {
			return x86Place{}, err
		}
		return x86Place{isMem: true, addr: addr, size: size}, nil
	}
	return x86Place{}, fmt.Errorf("%w: %v", errUnsupportedOperand, x.in.Args[i])
}

// value reads argument i. Immediates take the given size; registers and
// memory keep their own.
func (x *x86Lifter) value(i int, size ir.Size) (ir.Arg, error) {
	if v, ok := x.in.Args[i].(x86asm.Imm); ok {
		return imm(uint64(v), size), nil
	}
	p, err := x.place(i)
	if err != nil {
		return ir.Arg{}, err
	}
	return x.read(p), nil
}

func (x *x86Lifter) read(p x86Place) ir.Arg {
	b := x.b
	if p.isMem {
		return b.load(p.addr, p.size)
	}
	full := reg(p.reg.full, ir.U32)
	if p.reg.bits == 32 {
		return full
	}
	v := full
	if p.reg.shift > 0 {
		v = b.op(ir.OpShr, full, imm(uint64(p.reg.shift), ir.U32), ir.U32)
	}
	return b.cast(v, p.size)
}

func (x *x86Lifter) write(p x86Place, v ir.Arg) {
	b := x.b
	if p.isMem {
		b.store(v, p.addr)
		return
	}
	full := reg(p.reg.full, ir.U32)
	if p.reg.bits == 32 {
		b.str(v, full)
		return
	}
	mask := uint64(1)<<uint(p.reg.bits) - 1
	kept := b.op(ir.OpAnd, full, imm(^(mask<<uint(p.reg.shift)), ir.U32), ir.U32)
	z := b.cast(v, ir.U32)
	if p.reg.shift > 0 {
		z = b.op(ir.OpShl, z, imm(uint64(p.reg.shift), ir.U32), ir.U32)
	}
	b.emit(ir.OpOr, kept, z, full)
}

// addr computes base + index*scale + disp. Segment overrides are ignored.
func (x *x86Lifter) addr(m x86asm.Mem) (ir.Arg, error) {
	b := x.b
	var sum ir.Arg
	add := func(v ir.Arg) {
		if sum.Kind == ir.ArgNone {
			sum = v
			return
		}
		sum = b.op(ir.OpAdd, sum, v, ir.U32)
	}
	if m.Base != 0 {
		r, ok := x86RegInfo(m.Base)
		if !ok || r.bits != 32 {
			return ir.Arg{}, fmt.Errorf("%w: base %v", errUnsupportedOperand, m.Base)
		}
		add(reg(r.full, ir.U32))
	}
	if m.Scale != 0 && m.Index != 0 {
		r, ok := x86RegInfo(m.Index)
		if !ok || r.bits != 32 {
			return ir.Arg{}, fmt.Errorf("%w: index %v", errUnsupportedOperand, m.Index)
		}
		idx := reg(r.full, ir.U32)
		if m.Scale > 1 {
			idx = b.op(ir.OpMul, idx, imm(uint64(m.Scale), ir.U32), ir.U32)
		}
		add(idx)
	}
	if m.Disp != 0 || sum.Kind == ir.ArgNone {
		add(imm(uint64(m.Disp), ir.U32))
	}
	return sum, nil
}
