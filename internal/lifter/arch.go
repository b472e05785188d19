package lifter

import (
	"fmt"
	"strings"

	"reil/internal/engine"
)

// Arch is the source architecture of the machine code.
type Arch int

const (
	X86 Arch = iota
	ARM
)

func (a Arch) String() string {
	switch a {
	case X86:
		return "x86"
	case ARM:
		return "arm"
	}
	return fmt.Sprintf("Arch(%d)", int(a))
}

// ParseArch accepts the names used on the command line and in config files.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x86", "i386", "ia32", "386":
		return X86, nil
	case "arm", "arm32", "a32":
		return ARM, nil
	}
	return 0, fmt.Errorf("unknown architecture %q", s)
}

// engineArch maps an Arch to the engine's identifier. Unknown values map
// to the zero engine.Arch, which engine.Init rejects.
func engineArch(a Arch) engine.Arch {
	switch a {
	case X86:
		return engine.ArchX86
	case ARM:
		return engine.ArchARM
	}
	return 0
}
