// Package detectors recognises well-known algorithms in lifted code.
package detectors

import (
	"fmt"
	"sort"
	"strings"

	"reil/internal/analysis"
	"reil/internal/ir"
)

// Signature is a constant that identifies an algorithm.
type Signature struct {
	Value     uint64
	Algorithm string
	Role      string
}

// KnownConstants lists the 32-bit constants recognised by default.
var KnownConstants = []Signature{
	{0x9e3779b9, "TEA/XTEA/XXTEA", "delta"},
	{0x61c88647, "TEA/XTEA/XXTEA", "negated delta"},
	{0xc6ef3720, "TEA", "32-round delta sum"},
	{0x67452301, "MD5/SHA-1", "initial A"},
	{0xefcdab89, "MD5/SHA-1", "initial B"},
	{0x98badcfe, "MD5/SHA-1", "initial C"},
	{0x10325476, "MD5/SHA-1", "initial D"},
	{0xc3d2e1f0, "SHA-1", "initial E"},
	{0xd76aa478, "MD5", "round constant T1"},
	{0x6a09e667, "SHA-256", "initial H0"},
	{0xbb67ae85, "SHA-256", "initial H1"},
	{0x428a2f98, "SHA-256", "round constant K0"},
	{0xedb88320, "CRC-32", "reflected polynomial"},
	{0x04c11db7, "CRC-32", "polynomial"},
	{0x811c9dc5, "FNV-1/FNV-1a", "offset basis"},
	{0x01000193, "FNV-1/FNV-1a", "prime"},
}

// Finding is one constant matched in a listing.
type Finding struct {
	At uint64 // composite address
	Signature
}

// CryptoConstants is an analysis pass that reports constant operands
// matching known algorithm signatures.
type CryptoConstants struct {
	Signatures []Signature
	Findings   []Finding
	index      map[uint64]Signature
}

func NewCryptoConstants() *CryptoConstants {
	return &CryptoConstants{Signatures: KnownConstants}
}

var _ analysis.Pass = (*CryptoConstants)(nil)

func (d *CryptoConstants) Name() string { return "constants" }

func (d *CryptoConstants) Run(l analysis.Listing) {
	if d.index == nil {
		d.index = make(map[uint64]Signature, len(d.Signatures))
		for _, s := range d.Signatures {
			d.index[s.Value] = s
		}
	}
	for i := range l {
		for _, a := range l[i].Operands() {
			if a.Kind != ir.ArgConst {
				continue
			}
			if s, ok := d.index[a.Const]; ok {
				d.Findings = append(d.Findings, Finding{At: l[i].Address(), Signature: s})
			}
		}
	}
}

// Algorithms returns the distinct algorithms found, sorted.
func (d *CryptoConstants) Algorithms() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range d.Findings {
		if !seen[f.Algorithm] {
			seen[f.Algorithm] = true
			out = append(out, f.Algorithm)
		}
	}
	sort.Strings(out)
	return out
}

func (d *CryptoConstants) Markdown() string {
	var sb strings.Builder
	sb.WriteString("## Algorithm constants\n\n")
	if len(d.Findings) == 0 {
		sb.WriteString("_none_\n")
		return sb.String()
	}
	sb.WriteString("| At | Constant | Algorithm | Role |\n|---|---|---|---|\n")
	for _, f := range d.Findings {
		fmt.Fprintf(&sb, "| `%x.%.2x` | `%#x` | %s | %s |\n",
			ir.AddressRaw(f.At), ir.AddressOffset(f.At), f.Value, f.Algorithm, f.Role)
	}
	return sb.String()
}
