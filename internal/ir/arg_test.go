package ir

import "testing"

func named(kind ArgType, name string) Arg {
	a := Arg{Kind: kind, Width: U32}
	a.SetName(name)
	return a
}

func TestArgVal(t *testing.T) {
	tests := []struct {
		name   string
		arg    Arg
		want   uint64
		wantOK bool
	}{
		{"const", Arg{Kind: ArgConst, Width: U32, Const: 42}, 42, true},
		{"location", Arg{Kind: ArgLoc, Width: U32, Const: 0x1000}, 0x1000, true},
		{"register", Arg{Kind: ArgReg, Width: U32, Const: 99}, 0, false},
		{"temporary", Arg{Kind: ArgTemp, Width: U8, Const: 99}, 0, false},
		{"none", Arg{Const: 7}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.arg.Val()
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Val() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestArgName(t *testing.T) {
	invalid := Arg{Kind: ArgReg}
	invalid.NameBuf[0] = 0xff
	invalid.NameBuf[1] = 0xfe

	noneWithBytes := Arg{Kind: ArgNone}
	copy(noneWithBytes.NameBuf[:], "eax")

	tests := []struct {
		name   string
		arg    Arg
		want   string
		wantOK bool
	}{
		{"register", named(ArgReg, "eax"), "eax", true},
		{"all zero", Arg{Kind: ArgReg}, "", true},
		{"none ignores bytes", noneWithBytes, "", false},
		{"invalid utf8", invalid, "", false},
		{"truncated", named(ArgTemp, "a_very_long_register_name"), "a_very_long_reg", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.arg.Name()
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Name() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestArgString(t *testing.T) {
	tests := []struct {
		arg  Arg
		want string
	}{
		{named(ArgReg, "R_EAX"), "R_EAX:32"},
		{Arg{Kind: ArgConst, Width: U8, Const: 0x10}, "0x10:8"},
		{Arg{Kind: ArgLoc, Width: U32, Const: 0x8048000, Inum: 2}, "8048000.02"},
		{Arg{}, ""},
	}
	for _, tt := range tests {
		if got := tt.arg.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSizeBits(t *testing.T) {
	for _, bits := range []int{1, 8, 16, 32, 64} {
		s, ok := SizeOf(bits)
		if !ok || s.Bits() != bits {
			t.Errorf("SizeOf(%d) = %v, %v", bits, s, ok)
		}
	}
	if _, ok := SizeOf(12); ok {
		t.Error("SizeOf(12) should fail")
	}
}
