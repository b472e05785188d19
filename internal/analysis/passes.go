package analysis

import (
	"fmt"
	"sort"
	"strings"

	"reil/internal/ir"
)

// OpcodeHistogram counts REIL operations.
type OpcodeHistogram struct {
	Counts map[ir.Op]int
	Total  int
}

func (h *OpcodeHistogram) Name() string { return "opcodes" }

func (h *OpcodeHistogram) Run(l Listing) {
	if h.Counts == nil {
		h.Counts = make(map[ir.Op]int)
	}
	for i := range l {
		h.Counts[l[i].Op]++
		h.Total++
	}
}

// Sorted returns the operations by descending count, then by opcode.
func (h *OpcodeHistogram) Sorted() []ir.Op {
	ops := make([]ir.Op, 0, len(h.Counts))
	for op := range h.Counts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if h.Counts[ops[i]] != h.Counts[ops[j]] {
			return h.Counts[ops[i]] > h.Counts[ops[j]]
		}
		return ops[i] < ops[j]
	})
	return ops
}

func (h *OpcodeHistogram) Markdown() string {
	var sb strings.Builder
	sb.WriteString("## Opcodes\n\n| Opcode | Count |\n|---|---|\n")
	for _, op := range h.Sorted() {
		fmt.Fprintf(&sb, "| `%s` | %d |\n", op, h.Counts[op])
	}
	return sb.String()
}

// RegisterUsage counts reads and writes of architecture registers.
type RegisterUsage struct {
	Reads  map[string]int
	Writes map[string]int
}

func (r *RegisterUsage) Name() string { return "registers" }

func (r *RegisterUsage) Run(l Listing) {
	if r.Reads == nil {
		r.Reads = make(map[string]int)
		r.Writes = make(map[string]int)
	}
	for i := range l {
		in := &l[i]
		for _, a := range [...]ir.Arg{in.A, in.B} {
			r.count(r.Reads, a)
		}
		switch in.Op {
		case ir.OpNone, ir.OpUnk:
		case ir.OpJcc, ir.OpStm:
			// c is a target or an address, both read
			r.count(r.Reads, in.C)
		default:
			r.count(r.Writes, in.C)
		}
	}
}

func (r *RegisterUsage) count(m map[string]int, a ir.Arg) {
	if a.Kind != ir.ArgReg {
		return
	}
	if name, ok := a.Name(); ok {
		m[name]++
	}
}

// Registers returns every register touched, sorted by name.
func (r *RegisterUsage) Registers() []string {
	seen := make(map[string]bool)
	for n := range r.Reads {
		seen[n] = true
	}
	for n := range r.Writes {
		seen[n] = true
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *RegisterUsage) Markdown() string {
	var sb strings.Builder
	sb.WriteString("## Registers\n\n| Register | Reads | Writes |\n|---|---|---|\n")
	for _, n := range r.Registers() {
		fmt.Fprintf(&sb, "| `%s` | %d | %d |\n", n, r.Reads[n], r.Writes[n])
	}
	return sb.String()
}

// Block is a run of REIL instructions ending at a BB_END instruction or
// at the end of the listing.
type Block struct {
	Start, End uint64 // composite addresses of the first and last instruction
	Len        int
	Succs      []uint64 // native addresses control may continue at
}

// BlockSplitter partitions a listing into basic blocks.
type BlockSplitter struct {
	Blocks []Block
}

func (b *BlockSplitter) Name() string { return "blocks" }

func (b *BlockSplitter) Run(l Listing) {
	start := 0
	for i := range l {
		last := &l[i]
		if !last.HasFlag(ir.FlagBBEnd) && i != len(l)-1 {
			continue
		}
		blk := Block{
			Start: l[start].Address(),
			End:   last.Address(),
			Len:   i - start + 1,
		}
		if last.HasFlag(ir.FlagBBEnd) {
			blk.Succs = successors(l[start:i+1])
		}
		b.Blocks = append(b.Blocks, blk)
		start = i + 1
	}
}

// successors lists where control goes after the block's final jcc. A
// conditional guard earlier in the same native instruction also falls
// through.
func successors(blk Listing) []uint64 {
	in := &blk[len(blk)-1]
	var out []uint64
	if in.Op == ir.OpJcc && in.C.Kind == ir.ArgLoc {
		out = append(out, in.C.Const)
	}
	always := in.A.Kind == ir.ArgConst && in.A.Const != 0
	for j := len(blk) - 2; j >= 0 && blk[j].RawAddress() == in.RawAddress(); j-- {
		if blk[j].Op == ir.OpJcc {
			always = false
		}
	}
	next := in.RawAddress() + uint64(in.Raw.Size)
	if in.HasFlag(ir.FlagCall) || !always {
		out = append(out, next)
	}
	return out
}

func (b *BlockSplitter) Markdown() string {
	var sb strings.Builder
	sb.WriteString("## Basic blocks\n\n| Start | End | REIL | Successors |\n|---|---|---|---|\n")
	for _, blk := range b.Blocks {
		succ := make([]string, len(blk.Succs))
		for i, s := range blk.Succs {
			succ[i] = fmt.Sprintf("%#x", s)
		}
		fmt.Fprintf(&sb, "| `%x.%.2x` | `%x.%.2x` | %d | %s |\n",
			ir.AddressRaw(blk.Start), ir.AddressOffset(blk.Start),
			ir.AddressRaw(blk.End), ir.AddressOffset(blk.End),
			blk.Len, strings.Join(succ, ", "))
	}
	return sb.String()
}
