package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"reil/internal/analysis"
	"reil/internal/detectors"
	"reil/internal/elfx"
	"reil/internal/ir"
	"reil/internal/lifter"
	"reil/internal/reil/styles"
	"reil/internal/ui/colorize"
)

// formatListing renders a listing one REIL instruction per line. With
// native set, each native instruction is preceded by a comment line
// holding its bytes and disassembly.
func formatListing(l analysis.Listing, native bool) string {
	var sb strings.Builder
	for i := range l {
		in := &l[i]
		if native && (i == 0 || in.RawAddress() != l[i-1].RawAddress()) {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "; %08x  %-24x %s %s\n", in.RawAddress(), in.Raw.Data, in.Raw.Mnemonic, in.Raw.Operands)
		}
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func writeListing(w io.Writer, l analysis.Listing, native, color bool) error {
	text := formatListing(l, native)
	if color {
		text, _ = colorize.Listing(text)
	}
	_, err := io.WriteString(w, text)
	return err
}

// JSONInst is one REIL instruction in --json output.
type JSONInst struct {
	Address  string     `json:"address"`
	Native   string     `json:"native,omitempty"`
	Op       string     `json:"op"`
	Operands []JSONArg  `json:"operands"`
	Flags    []string   `json:"flags,omitempty"`
	Raw      *JSONBytes `json:"raw,omitempty"`
}

type JSONArg struct {
	Type  string  `json:"type"`
	Size  int     `json:"size"`
	Name  string  `json:"name,omitempty"`
	Value *uint64 `json:"value,omitempty"`
}

// JSONBytes describes the native instruction, on the first REIL
// instruction of each expansion.
type JSONBytes struct {
	Address  string `json:"address"`
	Bytes    string `json:"bytes"`
	Mnemonic string `json:"mnemonic"`
	Operands string `json:"operands,omitempty"`
}

// JSONOutput is the document written by --json.
type JSONOutput struct {
	Input        string     `json:"input"`
	Arch         string     `json:"arch"`
	Start        string     `json:"start"`
	Instructions []JSONInst `json:"instructions"`
	Error        string     `json:"error,omitempty"`
}

var flagNames = []struct {
	flag ir.Flags
	name string
}{
	{ir.FlagCall, "call"},
	{ir.FlagRet, "ret"},
	{ir.FlagBBEnd, "bb_end"},
	{ir.FlagAsmEnd, "asm_end"},
}

// sanitizeForJSON cleans a string to be valid UTF-8
func sanitizeForJSON(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

func toJSON(in *ir.Inst, first bool) JSONInst {
	j := JSONInst{
		Address:  fmt.Sprintf("%x.%.2x", in.RawAddress(), in.ReilOffset()),
		Op:       in.Op.String(),
		Operands: []JSONArg{},
	}
	for _, a := range [...]ir.Arg{in.A, in.B, in.C} {
		ja := JSONArg{Type: a.Type().String()}
		if a.Kind != ir.ArgNone {
			ja.Size = a.Size().Bits()
		}
		if name, ok := a.Name(); ok {
			ja.Name = sanitizeForJSON(name)
		}
		if v, ok := a.Val(); ok {
			ja.Value = &v
		}
		j.Operands = append(j.Operands, ja)
	}
	for _, f := range flagNames {
		if in.HasFlag(f.flag) {
			j.Flags = append(j.Flags, f.name)
		}
	}
	if first {
		j.Raw = &JSONBytes{
			Address:  fmt.Sprintf("%#x", in.RawAddress()),
			Bytes:    fmt.Sprintf("%x", in.Raw.Data),
			Mnemonic: in.Raw.Mnemonic,
			Operands: in.Raw.Operands,
		}
	}
	return j
}

func writeJSON(w io.Writer, in *input, l analysis.Listing, terr error) error {
	out := JSONOutput{
		Input:        in.name,
		Arch:         in.arch.String(),
		Start:        fmt.Sprintf("%#x", in.va),
		Instructions: make([]JSONInst, 0, len(l)),
	}
	for i := range l {
		first := i == 0 || l[i].RawAddress() != l[i-1].RawAddress()
		out.Instructions = append(out.Instructions, toJSON(&l[i], first))
	}
	if terr != nil {
		out.Error = terr.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// summaryPasses returns the passes run for --summary and the browser.
func summaryPasses(im *elfx.Image) *analysis.PassChain {
	passes := []analysis.Pass{
		&analysis.OpcodeHistogram{},
		&analysis.RegisterUsage{},
		&analysis.BlockSplitter{},
		detectors.NewCryptoConstants(),
	}
	if im != nil {
		passes = append(passes, &analysis.StringRefs{Image: im})
	}
	return analysis.NewPassChain(passes...)
}

// summaryMarkdown builds the analysis report for a listing.
func summaryMarkdown(name string, arch lifter.Arch, va uint32, size int, im *elfx.Image, l analysis.Listing) string {
	chain := summaryPasses(im)
	chain.Run(l)

	var sb strings.Builder
	sb.WriteString("# REIL summary\n\n")
	fmt.Fprintf(&sb, "- **Input**: `%s`\n", name)
	fmt.Fprintf(&sb, "- **Architecture**: %s\n", arch)
	fmt.Fprintf(&sb, "- **Range**: `%#x`-`%#x` (%d bytes)\n", va, uint64(va)+uint64(size), size)
	fmt.Fprintf(&sb, "- **Native instructions**: %d\n", l.NativeCount())
	fmt.Fprintf(&sb, "- **REIL instructions**: %d\n\n", len(l))
	sb.WriteString(chain.Markdown())
	return sb.String()
}

func writeSummary(w io.Writer, in *input, l analysis.Listing, width int, color bool) error {
	md := summaryMarkdown(in.name, in.arch, in.va, len(in.code), in.image, l)
	out, err := styles.Render(md, width, color)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}
