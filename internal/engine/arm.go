package engine

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm/armasm"

	"reil/internal/disasm"
	"reil/internal/ir"
)

var armNames = [16]string{
	"R_R0", "R_R1", "R_R2", "R_R3", "R_R4", "R_R5", "R_R6", "R_R7",
	"R_R8", "R_R9", "R_R10", "R_R11", "R_R12", "R_SP", "R_LR", "R_PC",
}

var (
	armNF = reg("R_NF", ir.U1)
	armZF = reg("R_ZF", ir.U1)
	armCF = reg("R_CF", ir.U1)
	armVF = reg("R_VF", ir.U1)
	armSP = reg("R_SP", ir.U32)
)

type armLifter struct {
	b    *builder
	in   *armasm.Inst
	va   uint64
	base string // mnemonic without condition and S suffix
	set  bool   // S suffix
	cond string // condition suffix, empty for AL
}

func liftARM(b *builder, d *disasm.Inst) error {
	a := &armLifter{b: b, in: &d.ARM, va: d.VA}
	a.splitOp()
	if a.cond != "" {
		if err := a.guard(); err != nil {
			return err
		}
	}
	return a.lift()
}

// splitOp parses "ADD.S.EQ" style opcode names.
func (a *armLifter) splitOp() {
	parts := strings.Split(a.in.Op.String(), ".")
	a.base = parts[0]
	for _, p := range parts[1:] {
		switch p {
		case "S":
			a.set = true
		case "ZZ":
		default:
			a.cond = p
		}
	}
}

// guard emits a jump over the instruction when its condition fails.
func (a *armLifter) guard() error {
	c, err := a.condition(a.cond)
	if err != nil {
		return err
	}
	a.b.jump(a.b.not(c), loc(a.va+4))
	return nil
}

func (a *armLifter) condition(cond string) (ir.Arg, error) {
	b := a.b
	signEq := func() ir.Arg { return b.eq(armNF, armVF) }
	switch cond {
	case "EQ":
		return armZF, nil
	case "NE":
		return b.not(armZF), nil
	case "CS":
		return armCF, nil
	case "CC":
		return b.not(armCF), nil
	case "MI":
		return armNF, nil
	case "PL":
		return b.not(armNF), nil
	case "VS":
		return armVF, nil
	case "VC":
		return b.not(armVF), nil
	case "HI":
		return b.op(ir.OpAnd, armCF, b.not(armZF), ir.U1), nil
	case "LS":
		return b.op(ir.OpOr, b.not(armCF), armZF, ir.U1), nil
	case "GE":
		return signEq(), nil
	case "LT":
		return b.not(signEq()), nil
	case "GT":
		return b.op(ir.OpAnd, b.not(armZF), signEq(), ir.U1), nil
	case "LE":
		return b.op(ir.OpOr, armZF, b.not(signEq()), ir.U1), nil
	}
	return ir.Arg{}, fmt.Errorf("unknown condition %q", cond)
}

func (a *armLifter) lift() error {
	b := a.b
	args := a.in.Args
	switch a.base {
	case "NOP":
		return nil

	case "MOV", "MVN":
		v, err := a.operand2(args[1])
		if err != nil {
			return err
		}
		if a.base == "MVN" {
			v = b.not(v)
		}
		if a.set {
			a.nz(v)
		}
		return a.writeReg(args[0], v)

	case "ADD", "SUB", "RSB", "AND", "ORR", "EOR", "BIC":
		n, err := a.readReg(args[1])
		if err != nil {
			return err
		}
		m, err := a.operand2(args[2])
		if err != nil {
			return err
		}
		res := a.alu(a.base, n, m, a.set)
		return a.writeReg(args[0], res)

	case "CMP", "CMN", "TST", "TEQ":
		n, err := a.readReg(args[0])
		if err != nil {
			return err
		}
		m, err := a.operand2(args[1])
		if err != nil {
			return err
		}
		op := map[string]string{"CMP": "SUB", "CMN": "ADD", "TST": "AND", "TEQ": "EOR"}[a.base]
		a.alu(op, n, m, true)
		return nil

	case "LDR", "LDRB", "STR", "STRB":
		size := ir.U32
		if strings.HasSuffix(a.base, "B") {
			size = ir.U8
		}
		addr, err := a.memory(args[1])
		if err != nil {
			return err
		}
		if strings.HasPrefix(a.base, "LDR") {
			v := b.cast(b.load(addr, size), ir.U32)
			return a.writeReg(args[0], v)
		}
		v, err := a.readReg(args[0])
		if err != nil {
			return err
		}
		b.store(b.cast(v, size), addr)
		return nil

	case "B", "BL":
		rel, ok := args[0].(armasm.PCRel)
		if !ok {
			return errUnsupportedOperand
		}
		target := loc(uint64(uint32(int64(a.va) + 8 + int64(rel))))
		if a.base == "BL" {
			b.str(imm(a.va+4, ir.U32), reg("R_LR", ir.U32))
			b.flags |= ir.FlagCall
		}
		b.jump(always, target)
		b.flags |= ir.FlagBBEnd
		return nil

	case "BX":
		r, ok := args[0].(armasm.Reg)
		if !ok {
			return errUnsupportedOperand
		}
		target, err := a.readReg(r)
		if err != nil {
			return err
		}
		if r == armasm.R14 {
			b.flags |= ir.FlagRet
		}
		b.jump(always, target)
		b.flags |= ir.FlagBBEnd
		return nil

	case "PUSH", "POP":
		list, ok := args[0].(armasm.RegList)
		if !ok {
			return errUnsupportedOperand
		}
		if a.base == "PUSH" {
			a.push(list)
		} else {
			a.pop(list)
		}
		return nil
	}
	return fmt.Errorf("no lifting for %v", a.in.Op)
}

// alu computes n <op> m and optionally updates the condition flags.
func (a *armLifter) alu(op string, n, m ir.Arg, setFlags bool) ir.Arg {
	b := a.b
	var res ir.Arg
	switch op {
	case "ADD":
		res = b.op(ir.OpAdd, n, m, ir.U32)
		if setFlags {
			b.emit(ir.OpLt, res, n, armCF)
			t := b.op(ir.OpAnd, b.op(ir.OpXor, n, res, ir.U32), b.op(ir.OpXor, m, res, ir.U32), ir.U32)
			b.str(b.msb(t), armVF)
		}
	case "SUB", "RSB":
		if op == "RSB" {
			n, m = m, n
		}
		res = b.op(ir.OpSub, n, m, ir.U32)
		if setFlags {
			b.str(b.not(b.lt(n, m)), armCF)
			t := b.op(ir.OpAnd, b.op(ir.OpXor, n, m, ir.U32), b.op(ir.OpXor, n, res, ir.U32), ir.U32)
			b.str(b.msb(t), armVF)
		}
	case "AND":
		res = b.op(ir.OpAnd, n, m, ir.U32)
	case "ORR":
		res = b.op(ir.OpOr, n, m, ir.U32)
	case "EOR":
		res = b.op(ir.OpXor, n, m, ir.U32)
	case "BIC":
		res = b.op(ir.OpAnd, n, b.not(m), ir.U32)
	}
	if setFlags {
		a.nz(res)
	}
	return res
}

func (a *armLifter) nz(res ir.Arg) {
	a.b.str(a.b.msb(res), armNF)
	a.b.emit(ir.OpEq, res, imm(0, ir.U32), armZF)
}

func (a *armLifter) readReg(arg armasm.Arg) (ir.Arg, error) {
	r, ok := arg.(armasm.Reg)
	if !ok || r > armasm.R15 {
		return ir.Arg{}, fmt.Errorf("%w: %v", errUnsupportedOperand, arg)
	}
	if r == armasm.R15 {
		return imm(a.va+8, ir.U32), nil
	}
	return reg(armNames[r], ir.U32), nil
}

// writeReg stores v in a register. Writing the PC is a branch.
func (a *armLifter) writeReg(arg armasm.Arg, v ir.Arg) error {
	r, ok := arg.(armasm.Reg)
	if !ok || r > armasm.R15 {
		return fmt.Errorf("%w: %v", errUnsupportedOperand, arg)
	}
	if r == armasm.R15 {
		a.b.jump(always, v)
		a.b.flags |= ir.FlagBBEnd
		return nil
	}
	a.b.str(v, reg(armNames[r], ir.U32))
	return nil
}

func (a *armLifter) operand2(arg armasm.Arg) (ir.Arg, error) {
	switch v := arg.(type) {
	case armasm.Imm:
		return imm(uint64(v), ir.U32), nil
	case armasm.ImmAlt:
		return imm(uint64(v.Imm()), ir.U32), nil
	case armasm.Reg:
		return a.readReg(v)
	case armasm.RegShift:
		r, err := a.readReg(v.Reg)
		if err != nil {
			return ir.Arg{}, err
		}
		return a.shift(r, v.Shift, v.Count)
	case armasm.RegShiftReg:
		r, err := a.readReg(v.Reg)
		if err != nil {
			return ir.Arg{}, err
		}
		c, err := a.readReg(v.RegCount)
		if err != nil {
			return ir.Arg{}, err
		}
		c = a.b.op(ir.OpAnd, c, imm(0xff, ir.U32), ir.U32)
		switch v.Shift {
		case armasm.ShiftLeft:
			return a.b.op(ir.OpShl, r, c, ir.U32), nil
		case armasm.ShiftRight:
			return a.b.op(ir.OpShr, r, c, ir.U32), nil
		}
		return ir.Arg{}, fmt.Errorf("%w: %v", errUnsupportedOperand, v)
	}
	return ir.Arg{}, fmt.Errorf("%w: %v", errUnsupportedOperand, arg)
}

func (a *armLifter) shift(r ir.Arg, typ armasm.Shift, count uint8) (ir.Arg, error) {
	b := a.b
	n := imm(uint64(count), ir.U32)
	switch typ {
	case armasm.ShiftLeft:
		return b.op(ir.OpShl, r, n, ir.U32), nil
	case armasm.ShiftRight:
		if count >= 32 {
			return imm(0, ir.U32), nil
		}
		return b.op(ir.OpShr, r, n, ir.U32), nil
	case armasm.ShiftRightSigned:
		if count >= 32 {
			return b.op(ir.OpMul, b.cast(b.msb(r), ir.U32), imm(0xffffffff, ir.U32), ir.U32), nil
		}
		low := b.op(ir.OpShr, r, n, ir.U32)
		fill := b.op(ir.OpMul, b.cast(b.msb(r), ir.U32), imm(^uint64(0xffffffff>>count), ir.U32), ir.U32)
		return b.op(ir.OpOr, low, fill, ir.U32), nil
	case armasm.RotateRight:
		hi := b.op(ir.OpShl, r, imm(uint64(32-count), ir.U32), ir.U32)
		lo := b.op(ir.OpShr, r, n, ir.U32)
		return b.op(ir.OpOr, hi, lo, ir.U32), nil
	}
	return ir.Arg{}, fmt.Errorf("%w: shift %v", errUnsupportedOperand, typ)
}

// memory computes the effective address of a load or store and applies
// base register writeback.
func (a *armLifter) memory(arg armasm.Arg) (ir.Arg, error) {
	b := a.b
	switch m := arg.(type) {
	case armasm.PCRel:
		return imm(uint64(uint32(int64(a.va)+8+int64(m))), ir.U32), nil
	case armasm.Mem:
		base, err := a.readReg(m.Base)
		if err != nil {
			return ir.Arg{}, err
		}
		var off ir.Arg
		if m.Sign != 0 {
			idx, err := a.readReg(m.Index)
			if err != nil {
				return ir.Arg{}, err
			}
			if off, err = a.shift(idx, m.Shift, m.Count); err != nil {
				return ir.Arg{}, err
			}
			if m.Sign < 0 {
				off = b.op(ir.OpNeg, off, ir.Arg{}, ir.U32)
			}
		} else {
			off = imm(uint64(int64(m.Offset)), ir.U32)
		}
		switch m.Mode {
		case armasm.AddrOffset:
			if base.Kind == ir.ArgConst && off.Kind == ir.ArgConst {
				return imm(base.Const+off.Const, ir.U32), nil
			}
			return b.op(ir.OpAdd, base, off, ir.U32), nil
		case armasm.AddrPreIndex:
			addr := b.op(ir.OpAdd, base, off, ir.U32)
			if err := a.writeReg(m.Base, addr); err != nil {
				return ir.Arg{}, err
			}
			return addr, nil
		case armasm.AddrPostIndex:
			addr := b.temp(ir.U32)
			b.str(base, addr)
			b.emit(ir.OpAdd, base, off, base)
			return addr, nil
		}
	}
	return ir.Arg{}, fmt.Errorf("%w: %v", errUnsupportedOperand, arg)
}

// push stores the listed registers below SP, lowest register at the
// lowest address, and decrements SP.
func (a *armLifter) push(list armasm.RegList) {
	b := a.b
	regs := regsOf(list)
	b.emit(ir.OpSub, armSP, imm(uint64(4*len(regs)), ir.U32), armSP)
	for i, r := range regs {
		v, _ := a.readReg(r)
		addr := armSP
		if i > 0 {
			addr = b.op(ir.OpAdd, armSP, imm(uint64(4*i), ir.U32), ir.U32)
		}
		b.store(v, addr)
	}
}

func (a *armLifter) pop(list armasm.RegList) {
	b := a.b
	var pc ir.Arg
	for i, r := range regsOf(list) {
		addr := armSP
		if i > 0 {
			addr = b.op(ir.OpAdd, armSP, imm(uint64(4*i), ir.U32), ir.U32)
		}
		v := b.load(addr, ir.U32)
		if r == armasm.R15 {
			pc = v
			continue
		}
		b.str(v, reg(armNames[r], ir.U32))
	}
	b.emit(ir.OpAdd, armSP, imm(uint64(4*len(regsOf(list))), ir.U32), armSP)
	if pc.Kind != ir.ArgNone {
		b.jump(always, pc)
		b.flags |= ir.FlagRet | ir.FlagBBEnd
	}
}

func regsOf(list armasm.RegList) []armasm.Reg {
	var regs []armasm.Reg
	for i := 0; i < 16; i++ {
		if list&(1<<uint(i)) != 0 {
			regs = append(regs, armasm.Reg(i))
		}
	}
	return regs
}
