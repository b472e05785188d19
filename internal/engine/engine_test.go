package engine

import (
	"errors"
	"testing"

	"reil/internal/ir"
)

type collected struct {
	insts []ir.Inst
	stop  int // abort at this many instructions when > 0
}

func collect(inst *ir.Inst, ctx any) int32 {
	c := ctx.(*collected)
	c.insts = append(c.insts, inst.Clone())
	if c.stop > 0 && len(c.insts) >= c.stop {
		return 1
	}
	return 0
}

func open(t *testing.T, arch Arch, c *collected) *Engine {
	t.Helper()
	e, err := Init(arch, collect, c, Options{})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func opsOf(insts []ir.Inst) []ir.Op {
	ops := make([]ir.Op, len(insts))
	for i := range insts {
		ops[i] = insts[i].Op
	}
	return ops
}

func equalOps(a, b []ir.Op) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInitErrors(t *testing.T) {
	before := Live()
	if _, err := Init(Arch(42), collect, nil, Options{}); !errors.Is(err, ErrUnsupportedArch) {
		t.Errorf("expected ErrUnsupportedArch, got %v", err)
	}
	if _, err := Init(ArchX86, nil, nil, Options{}); !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
	if Live() != before {
		t.Errorf("failed Init leaked a handle: %d -> %d", before, Live())
	}
}

func TestLifecycle(t *testing.T) {
	for _, arch := range []Arch{ArchX86, ArchARM} {
		t.Run(arch.String(), func(t *testing.T) {
			before := Live()
			for n := 0; n < 16; n++ {
				e, err := Init(arch, collect, &collected{}, Options{})
				if err != nil {
					t.Fatalf("Init failed: %v", err)
				}
				if err := e.Close(); err != nil {
					t.Fatalf("Close failed: %v", err)
				}
				if err := e.Close(); !errors.Is(err, ErrClosed) {
					t.Fatalf("second Close = %v, want ErrClosed", err)
				}
			}
			if Live() != before {
				t.Errorf("Live() = %d, want %d", Live(), before)
			}
		})
	}
}

func TestTranslateClosed(t *testing.T) {
	e, err := Init(ArchX86, collect, &collected{}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	_ = e.Close()
	if err := e.Translate(0, []byte{0x90}); !errors.Is(err, ErrClosed) {
		t.Errorf("Translate after Close = %v, want ErrClosed", err)
	}
}

func TestTranslateX86Stream(t *testing.T) {
	c := &collected{}
	e := open(t, ArchX86, c)

	// mov eax, 1; nop; ret
	code := []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0x90, 0xc3}
	if err := e.Translate(0x1000, code); err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	want := []ir.Op{ir.OpStr, ir.OpNone, ir.OpLdm, ir.OpAdd, ir.OpJcc}
	if got := opsOf(c.insts); !equalOps(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}

	var last uint64
	for i, inst := range c.insts {
		if i > 0 && inst.Address() < last {
			t.Errorf("address %#x after %#x", inst.Address(), last)
		}
		last = inst.Address()
	}

	raws := []uint64{0x1000, 0x1005, 0x1006, 0x1006, 0x1006}
	offs := []uint8{0, 0, 0, 1, 2}
	for i, inst := range c.insts {
		if inst.RawAddress() != raws[i] || inst.ReilOffset() != offs[i] {
			t.Errorf("inst %d at %x.%02x, want %x.%02x", i, inst.RawAddress(), inst.ReilOffset(), raws[i], offs[i])
		}
	}

	for _, i := range []int{0, 1, 4} {
		if !c.insts[i].HasFlag(ir.FlagAsmEnd) {
			t.Errorf("inst %d missing ASM_END", i)
		}
	}
	if !c.insts[4].HasFlag(ir.FlagRet | ir.FlagBBEnd) {
		t.Errorf("ret flags = %#x", c.insts[4].Flags)
	}

	mov := c.insts[0]
	src, ok := mov.FirstOperand()
	if v, vok := src.Val(); !ok || !vok || v != 1 {
		t.Errorf("mov source = %v", src)
	}
	dst, _ := mov.ThirdOperand()
	if name, _ := dst.Name(); name != "R_EAX" {
		t.Errorf("mov destination = %q", name)
	}
	if mov.Raw.Mnemonic != "mov" || mov.Raw.Size != 5 {
		t.Errorf("raw info = %+v", mov.Raw)
	}
}

func TestTranslateInsnSingle(t *testing.T) {
	c := &collected{}
	e := open(t, ArchX86, c)

	// call +0; nop
	code := []byte{0xe8, 0x00, 0x00, 0x00, 0x00, 0x90}
	if err := e.TranslateInsn(0x2000, code); err != nil {
		t.Fatalf("TranslateInsn failed: %v", err)
	}
	want := []ir.Op{ir.OpSub, ir.OpStm, ir.OpJcc}
	if got := opsOf(c.insts); !equalOps(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for _, inst := range c.insts {
		if inst.RawAddress() != 0x2000 {
			t.Errorf("touched instruction at %#x", inst.RawAddress())
		}
	}
	jcc := c.insts[2]
	if !jcc.HasFlag(ir.FlagCall | ir.FlagBBEnd | ir.FlagAsmEnd) {
		t.Errorf("call flags = %#x", jcc.Flags)
	}
	target, _ := jcc.ThirdOperand()
	if target.Type() != ir.ArgLoc {
		t.Fatalf("call target type = %v", target.Type())
	}
	if v, _ := target.Val(); v != 0x2005 {
		t.Errorf("call target = %#x, want 0x2005", v)
	}
	ret, _ := c.insts[1].FirstOperand()
	if v, _ := ret.Val(); v != 0x2005 {
		t.Errorf("pushed return address = %#x", v)
	}
}

func TestTranslateEmpty(t *testing.T) {
	c := &collected{}
	e := open(t, ArchARM, c)
	if err := e.Translate(0, nil); err != nil {
		t.Fatal(err)
	}
	if err := e.TranslateInsn(0, []byte{}); err != nil {
		t.Fatal(err)
	}
	if len(c.insts) != 0 {
		t.Errorf("handler called %d times", len(c.insts))
	}
}

func TestHandlerAbort(t *testing.T) {
	c := &collected{stop: 1}
	e := open(t, ArchX86, c)

	err := e.Translate(0x1000, []byte{0x90, 0x90, 0x90})
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("expected AbortError, got %v", err)
	}
	if abort.Status != 1 || abort.Addr != ir.EncodeAddress(0x1000, 0) {
		t.Errorf("abort = %+v", abort)
	}
	if len(c.insts) != 1 {
		t.Errorf("handler called %d times after abort", len(c.insts))
	}
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		name     string
		arch     Arch
		code     []byte
		wantAddr uint64
		wantSeen int
	}{
		{"x86 truncated after nop", ArchX86, []byte{0x90, 0xb8, 0x01}, 0x101, 1},
		{"x86 invalid opcode", ArchX86, []byte{0x90, 0xd6}, 0x101, 1},
		{"arm short word", ArchARM, []byte{0x01, 0x00}, 0x100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &collected{}
			e := open(t, tt.arch, c)
			err := e.Translate(0x100, tt.code)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
			if de.Addr != tt.wantAddr {
				t.Errorf("Addr = %#x, want %#x", de.Addr, tt.wantAddr)
			}
			if len(c.insts) != tt.wantSeen {
				t.Errorf("delivered %d instructions, want %d", len(c.insts), tt.wantSeen)
			}
		})
	}
}

func TestRecordReuse(t *testing.T) {
	var ptrs []*ir.Inst
	handler := func(inst *ir.Inst, _ any) int32 {
		ptrs = append(ptrs, inst)
		return 0
	}
	e, err := Init(ArchX86, handler, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	// nop; nop
	if err := e.Translate(0x10, []byte{0x90, 0x90}); err != nil {
		t.Fatal(err)
	}
	if len(ptrs) != 2 {
		t.Fatalf("got %d callbacks", len(ptrs))
	}
	if ptrs[0] != ptrs[1] {
		t.Error("expected the engine to reuse its instruction record")
	}
	if ptrs[0].RawAddress() != 0x11 {
		t.Errorf("retained record shows %#x, want the overwritten 0x11", ptrs[0].RawAddress())
	}
}

func TestReentrantTranslate(t *testing.T) {
	var e *Engine
	var inner error
	handler := func(inst *ir.Inst, _ any) int32 {
		inner = e.Translate(0, []byte{0x90})
		return 0
	}
	var err error
	e, err = Init(ArchX86, handler, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if err := e.Translate(0, []byte{0x90}); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(inner, ErrBusy) {
		t.Errorf("nested Translate = %v, want ErrBusy", inner)
	}
}

func TestInstructionLimit(t *testing.T) {
	c := &collected{}
	e, err := Init(ArchX86, collect, c, Options{MaxInstructions: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	err = e.Translate(0, []byte{0x90, 0x90, 0x90})
	if !errors.Is(err, ErrInstructionLimit) {
		t.Fatalf("expected ErrInstructionLimit, got %v", err)
	}
	if len(c.insts) != 2 {
		t.Errorf("delivered %d instructions, want 2", len(c.insts))
	}
}

func TestUnsupportedBecomesUnk(t *testing.T) {
	c := &collected{}
	e := open(t, ArchX86, c)
	// cpuid
	if err := e.Translate(0x40, []byte{0x0f, 0xa2}); err != nil {
		t.Fatal(err)
	}
	if len(c.insts) != 1 || c.insts[0].Op != ir.OpUnk {
		t.Fatalf("got %v", opsOf(c.insts))
	}
	if !c.insts[0].HasFlag(ir.FlagAsmEnd) {
		t.Error("UNK missing ASM_END")
	}
}
