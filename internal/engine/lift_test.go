package engine

import (
	"testing"

	"reil/internal/ir"
)

func nameOf(a ir.Arg) string {
	n, _ := a.Name()
	return n
}

func TestLiftX86(t *testing.T) {
	tests := []struct {
		name    string
		code    []byte
		wantOps []ir.Op
		check   func(t *testing.T, insts []ir.Inst)
	}{
		{
			name:    "mov al, 1",
			code:    []byte{0xb0, 0x01},
			wantOps: []ir.Op{ir.OpAnd, ir.OpOr},
			check: func(t *testing.T, insts []ir.Inst) {
				mask, _ := insts[0].SecondOperand()
				if v, _ := mask.Val(); v != 0xffffff00 {
					t.Errorf("mask = %#x", v)
				}
				if nameOf(insts[1].C) != "R_EAX" {
					t.Errorf("writes %q", nameOf(insts[1].C))
				}
			},
		},
		{
			name:    "mov ah, 1",
			code:    []byte{0xb4, 0x01},
			wantOps: []ir.Op{ir.OpAnd, ir.OpShl, ir.OpOr},
			check: func(t *testing.T, insts []ir.Inst) {
				mask, _ := insts[0].SecondOperand()
				if v, _ := mask.Val(); v != 0xffff00ff {
					t.Errorf("mask = %#x", v)
				}
			},
		},
		{
			name: "add eax, ebx",
			code: []byte{0x01, 0xd8},
			wantOps: []ir.Op{
				ir.OpAdd, ir.OpLt,
				ir.OpXor, ir.OpXor, ir.OpAnd, ir.OpShr, ir.OpStr, ir.OpStr,
				ir.OpEq, ir.OpShr, ir.OpStr, ir.OpStr,
				ir.OpStr,
			},
			check: func(t *testing.T, insts []ir.Inst) {
				written := map[string]bool{}
				for _, in := range insts {
					if in.C.Kind == ir.ArgReg {
						written[nameOf(in.C)] = true
					}
				}
				for _, r := range []string{"R_CF", "R_OF", "R_ZF", "R_SF", "R_EAX"} {
					if !written[r] {
						t.Errorf("%s not written", r)
					}
				}
			},
		},
		{
			name:    "jne +2",
			code:    []byte{0x75, 0x02},
			wantOps: []ir.Op{ir.OpNot, ir.OpJcc},
			check: func(t *testing.T, insts []ir.Inst) {
				if v, _ := insts[1].C.Val(); v != 0x1004 {
					t.Errorf("target = %#x, want 0x1004", v)
				}
				if !insts[1].HasFlag(ir.FlagBBEnd) {
					t.Error("missing BB_END")
				}
			},
		},
		{
			name:    "lea eax, [ebx+ecx*4+8]",
			code:    []byte{0x8d, 0x44, 0x8b, 0x08},
			wantOps: []ir.Op{ir.OpMul, ir.OpAdd, ir.OpAdd, ir.OpStr},
		},
		{
			name:    "push ebp",
			code:    []byte{0x55},
			wantOps: []ir.Op{ir.OpStr, ir.OpSub, ir.OpStm},
			check: func(t *testing.T, insts []ir.Inst) {
				if nameOf(insts[0].A) != "R_EBP" || nameOf(insts[2].C) != "R_ESP" {
					t.Errorf("push = %v / %v", insts[0].A, insts[2].C)
				}
			},
		},
		{
			name:    "mov ebp, esp",
			code:    []byte{0x89, 0xe5},
			wantOps: []ir.Op{ir.OpStr},
		},
		{
			name:    "leave",
			code:    []byte{0xc9},
			wantOps: []ir.Op{ir.OpStr, ir.OpLdm, ir.OpAdd, ir.OpStr},
		},
		{
			name:    "xor eax, eax",
			code:    []byte{0x31, 0xc0},
			wantOps: []ir.Op{ir.OpXor, ir.OpStr, ir.OpStr, ir.OpEq, ir.OpShr, ir.OpStr, ir.OpStr, ir.OpStr},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &collected{}
			e := open(t, ArchX86, c)
			if err := e.TranslateInsn(0x1000, tt.code); err != nil {
				t.Fatalf("TranslateInsn failed: %v", err)
			}
			if got := opsOf(c.insts); !equalOps(got, tt.wantOps) {
				t.Fatalf("ops = %v, want %v", got, tt.wantOps)
			}
			for i, in := range c.insts {
				if in.Inum != uint64(i) {
					t.Errorf("inst %d has inum %d", i, in.Inum)
				}
			}
			if tt.check != nil {
				tt.check(t, c.insts)
			}
		})
	}
}

func TestLiftARM(t *testing.T) {
	tests := []struct {
		name    string
		code    []byte
		wantOps []ir.Op
		flags   ir.Flags
		check   func(t *testing.T, insts []ir.Inst)
	}{
		{
			name:    "mov r0, #1",
			code:    []byte{0x01, 0x00, 0xa0, 0xe3},
			wantOps: []ir.Op{ir.OpStr},
			check: func(t *testing.T, insts []ir.Inst) {
				if nameOf(insts[0].C) != "R_R0" {
					t.Errorf("writes %q", nameOf(insts[0].C))
				}
			},
		},
		{
			name:    "moveq r0, #1",
			code:    []byte{0x01, 0x00, 0xa0, 0x03},
			wantOps: []ir.Op{ir.OpNot, ir.OpJcc, ir.OpStr},
			check: func(t *testing.T, insts []ir.Inst) {
				if v, _ := insts[1].C.Val(); v != 0x8004 {
					t.Errorf("skip target = %#x, want 0x8004", v)
				}
			},
		},
		{
			name:    "bx lr",
			code:    []byte{0x1e, 0xff, 0x2f, 0xe1},
			wantOps: []ir.Op{ir.OpJcc},
			flags:   ir.FlagRet | ir.FlagBBEnd,
		},
		{
			name:    "bl",
			code:    []byte{0x00, 0x00, 0x00, 0xeb},
			wantOps: []ir.Op{ir.OpStr, ir.OpJcc},
			flags:   ir.FlagCall | ir.FlagBBEnd,
			check: func(t *testing.T, insts []ir.Inst) {
				if v, _ := insts[0].A.Val(); v != 0x8004 {
					t.Errorf("link = %#x", v)
				}
				if v, _ := insts[1].C.Val(); v != 0x8008 {
					t.Errorf("target = %#x, want 0x8008", v)
				}
			},
		},
		{
			name:    "push {r4, lr}",
			code:    []byte{0x10, 0x40, 0x2d, 0xe9},
			wantOps: []ir.Op{ir.OpSub, ir.OpStm, ir.OpAdd, ir.OpStm},
		},
		{
			name:    "pop {r4, pc}",
			code:    []byte{0x10, 0x80, 0xbd, 0xe8},
			wantOps: []ir.Op{ir.OpLdm, ir.OpStr, ir.OpAdd, ir.OpLdm, ir.OpAdd, ir.OpJcc},
			flags:   ir.FlagRet | ir.FlagBBEnd,
		},
		{
			name:    "ldr r0, [r1, #4]",
			code:    []byte{0x04, 0x00, 0x91, 0xe5},
			wantOps: []ir.Op{ir.OpAdd, ir.OpLdm, ir.OpStr},
		},
		{
			name: "adds r0, r0, #1",
			code: []byte{0x01, 0x00, 0x90, 0xe2},
			check: func(t *testing.T, insts []ir.Inst) {
				written := map[string]bool{}
				for _, in := range insts {
					if in.C.Kind == ir.ArgReg {
						written[nameOf(in.C)] = true
					}
				}
				for _, r := range []string{"R_NF", "R_ZF", "R_CF", "R_VF", "R_R0"} {
					if !written[r] {
						t.Errorf("%s not written", r)
					}
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &collected{}
			e := open(t, ArchARM, c)
			if err := e.TranslateInsn(0x8000, tt.code); err != nil {
				t.Fatalf("TranslateInsn failed: %v", err)
			}
			if len(c.insts) == 0 {
				t.Fatal("no instructions")
			}
			if tt.wantOps != nil {
				if got := opsOf(c.insts); !equalOps(got, tt.wantOps) {
					t.Fatalf("ops = %v, want %v", got, tt.wantOps)
				}
			}
			last := c.insts[len(c.insts)-1]
			if !last.HasFlag(tt.flags | ir.FlagAsmEnd) {
				t.Errorf("flags = %#x, want %#x", last.Flags, tt.flags|ir.FlagAsmEnd)
			}
			if tt.check != nil {
				tt.check(t, c.insts)
			}
		})
	}
}
