package analysis

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"reil/internal/elfx"
	"reil/internal/ir"
)

const (
	// MaxStringLength bounds string reads from the image.
	MaxStringLength = 256
	// MinStringLength filters out short byte runs that happen to be printable.
	MinStringLength = 4
)

// EscapeUnprintable returns a string where printable Unicode runes are preserved.
// Control and unprintable runes are escaped as \uXXXX. Invalid UTF-8 is escaped as \xXX.
func EscapeUnprintable(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(&sb, "\\x%02X", b[0])
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
		} else {
			fmt.Fprintf(&sb, "\\u%04X", r)
		}
		b = b[size:]
	}
	return sb.String()
}

// StringRef is a constant operand that points at a C string in the image.
type StringRef struct {
	At    uint64 // composite address of the referencing instruction
	VA    uint64
	Value string // escaped
	Len   int
}

// StringRefs resolves constant operands into strings in .rodata or .data.
type StringRefs struct {
	Image *elfx.Image
	Refs  []StringRef
}

func (s *StringRefs) Name() string { return "strings" }

func (s *StringRefs) Run(l Listing) {
	if s.Image == nil {
		return
	}
	seen := make(map[uint64]bool)
	for i := range l {
		for _, a := range l[i].Operands() {
			if a.Kind != ir.ArgConst || a.Width != ir.U32 || seen[a.Const] {
				continue
			}
			if !s.Image.InData(a.Const) {
				continue
			}
			raw, ok := s.Image.ReadCString(a.Const, MaxStringLength)
			if !ok || len(raw) < MinStringLength {
				continue
			}
			seen[a.Const] = true
			s.Refs = append(s.Refs, StringRef{
				At:    l[i].Address(),
				VA:    a.Const,
				Value: EscapeUnprintable(raw),
				Len:   len(raw),
			})
		}
	}
	sort.SliceStable(s.Refs, func(i, j int) bool { return s.Refs[i].At < s.Refs[j].At })
}

func (s *StringRefs) Markdown() string {
	var sb strings.Builder
	sb.WriteString("## Strings\n\n")
	if len(s.Refs) == 0 {
		sb.WriteString("_none_\n")
		return sb.String()
	}
	sb.WriteString("| At | Address | Value |\n|---|---|---|\n")
	for _, r := range s.Refs {
		fmt.Fprintf(&sb, "| `%x.%.2x` | `%#x` | `%s` |\n",
			ir.AddressRaw(r.At), ir.AddressOffset(r.At), r.VA, strings.ReplaceAll(r.Value, "|", "\\|"))
	}
	return sb.String()
}
