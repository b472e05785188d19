package analysis

import (
	"errors"
	"strings"
	"testing"

	"reil/internal/ir"
	"reil/internal/lifter"
)

// mov eax, 1; test eax, eax; je +1; nop; call +0; ret
var x86Code = []byte{
	0xb8, 0x01, 0x00, 0x00, 0x00,
	0x85, 0xc0,
	0x74, 0x01,
	0x90,
	0xe8, 0x00, 0x00, 0x00, 0x00,
	0xc3,
}

func TestLift(t *testing.T) {
	l, err := Lift(lifter.X86, x86Code, 0x1000, false)
	if err != nil {
		t.Fatalf("Lift failed: %v", err)
	}
	if got := l.NativeCount(); got != 6 {
		t.Errorf("NativeCount = %d, want 6", got)
	}
	for i := 1; i < len(l); i++ {
		if l[i].Address() <= l[i-1].Address() {
			t.Fatalf("listing out of order at %d", i)
		}
	}
	if g := l.Group(0x1009); len(g) != 1 || g[0].Op != ir.OpNone {
		t.Errorf("nop group = %v", g)
	}

	one, err := Lift(lifter.X86, x86Code, 0x1000, true)
	if err != nil {
		t.Fatal(err)
	}
	if one.NativeCount() != 1 {
		t.Errorf("single lift covered %d instructions", one.NativeCount())
	}
}

func TestLiftDecodeError(t *testing.T) {
	l, err := Lift(lifter.ARM, []byte{0x01, 0x00, 0xa0, 0xe3, 0xff}, 0, false)
	if !IsDecodeError(err) {
		t.Fatalf("error = %v", err)
	}
	if len(l) == 0 {
		t.Error("partial listing dropped")
	}
	if IsDecodeError(errors.New("other")) {
		t.Error("plain error reported as decode error")
	}
}

func TestCollectLimit(t *testing.T) {
	c := &Collector{Limit: 2}
	s, err := lifter.New(lifter.X86, Collect, c)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Translate(x86Code, 0); err != nil {
		t.Fatalf("limit surfaced as error: %v", err)
	}
	if len(c.Listing) != 2 {
		t.Errorf("collected %d, want 2", len(c.Listing))
	}
}

func TestPasses(t *testing.T) {
	l, err := Lift(lifter.X86, x86Code, 0x1000, false)
	if err != nil {
		t.Fatal(err)
	}
	hist := &OpcodeHistogram{}
	regs := &RegisterUsage{}
	blocks := &BlockSplitter{}
	chain := NewPassChain(hist, regs, blocks)
	chain.Run(l)

	if hist.Total != len(l) {
		t.Errorf("histogram total = %d, want %d", hist.Total, len(l))
	}
	if hist.Counts[ir.OpNone] != 1 || hist.Counts[ir.OpJcc] != 3 {
		t.Errorf("counts = %v", hist.Counts)
	}
	if regs.Writes["R_EAX"] != 1 || regs.Reads["R_EAX"] == 0 {
		t.Errorf("R_EAX reads=%d writes=%d", regs.Reads["R_EAX"], regs.Writes["R_EAX"])
	}
	if regs.Writes["R_ZF"] == 0 {
		t.Error("test did not write R_ZF")
	}

	tests := []struct {
		end   uint64
		succs []uint64
	}{
		{0x1007, []uint64{0x100a, 0x1009}}, // je
		{0x100a, []uint64{0x100f, 0x100f}}, // call
		{0x100f, nil},                      // ret
	}
	if len(blocks.Blocks) != len(tests) {
		t.Fatalf("got %d blocks: %+v", len(blocks.Blocks), blocks.Blocks)
	}
	for i, tt := range tests {
		blk := blocks.Blocks[i]
		if ir.AddressRaw(blk.End) != tt.end {
			t.Errorf("block %d ends at %#x, want %#x", i, ir.AddressRaw(blk.End), tt.end)
		}
		if len(blk.Succs) != len(tt.succs) {
			t.Errorf("block %d successors = %x, want %x", i, blk.Succs, tt.succs)
			continue
		}
		for j := range tt.succs {
			if blk.Succs[j] != tt.succs[j] {
				t.Errorf("block %d successors = %x, want %x", i, blk.Succs, tt.succs)
			}
		}
	}

	md := chain.Markdown()
	for _, want := range []string{"## Opcodes", "## Registers", "## Basic blocks", "`R_EAX`"} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestEscapeUnprintable(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte("hello"), "hello"},
		{[]byte("a\nb"), "a\\u000Ab"},
		{[]byte{0xff, 'x'}, "\\xFFx"},
	}
	for _, tt := range tests {
		if got := EscapeUnprintable(tt.in); got != tt.want {
			t.Errorf("EscapeUnprintable(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
