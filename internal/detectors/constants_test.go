package detectors

import (
	"strings"
	"testing"

	"reil/internal/analysis"
	"reil/internal/lifter"
)

func TestCryptoConstants(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want []string
	}{
		{
			name: "xxtea delta",
			// mov eax, 0x9e3779b9
			code: []byte{0xb8, 0xb9, 0x79, 0x37, 0x9e},
			want: []string{"TEA/XTEA/XXTEA"},
		},
		{
			name: "negated delta and crc",
			// sub eax, 0x61c88647; xor edx, 0xedb88320
			code: []byte{0x2d, 0x47, 0x86, 0xc8, 0x61, 0x81, 0xf2, 0x20, 0x83, 0xb8, 0xed},
			want: []string{"CRC-32", "TEA/XTEA/XXTEA"},
		},
		{
			name: "nothing",
			// mov eax, 1; ret
			code: []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0xc3},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := analysis.Lift(lifter.X86, tt.code, 0x1000, false)
			if err != nil {
				t.Fatalf("Lift failed: %v", err)
			}
			d := NewCryptoConstants()
			d.Run(l)
			got := d.Algorithms()
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("algorithms = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCryptoConstantsMarkdown(t *testing.T) {
	l, err := analysis.Lift(lifter.X86, []byte{0xb8, 0xb9, 0x79, 0x37, 0x9e}, 0x1000, false)
	if err != nil {
		t.Fatal(err)
	}
	d := NewCryptoConstants()
	analysis.NewPassChain(d).Run(l)
	md := d.Markdown()
	if !strings.Contains(md, "`1000.00`") || !strings.Contains(md, "0x9e3779b9") || !strings.Contains(md, "delta") {
		t.Errorf("markdown:\n%s", md)
	}
	if len(d.Findings) != 1 {
		t.Errorf("findings = %+v", d.Findings)
	}

	empty := NewCryptoConstants()
	if !strings.Contains(empty.Markdown(), "_none_") {
		t.Error("empty report")
	}
}
