package ir

import (
	"bytes"
	"unicode/utf8"
)

// NameLen is the capacity of an operand name buffer, terminator included.
const NameLen = 16

// Arg is one operand slot of a REIL instruction. It is a plain value and
// may be kept after the callback that produced it returns.
type Arg struct {
	Kind    ArgType
	Width   Size
	Const   uint64 // value of ArgConst, address of ArgLoc
	Inum    uint64 // REIL offset of ArgLoc
	NameBuf [NameLen]byte
}

// Type returns the operand type tag.
func (a Arg) Type() ArgType { return a.Kind }

// Size returns the operand width class.
func (a Arg) Size() Size { return a.Width }

// Val returns the numeric value of a constant or location operand.
// Registers and temporaries are identified by name and report false.
func (a Arg) Val() (uint64, bool) {
	switch a.Kind {
	case ArgConst, ArgLoc:
		return a.Const, true
	}
	return 0, false
}

// Name decodes the operand name up to the first zero byte. It reports
// false for an unused slot or when the bytes are not valid UTF-8.
func (a Arg) Name() (string, bool) {
	if a.Kind == ArgNone {
		return "", false
	}
	b := a.NameBuf[:]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

// SetName stores name in the fixed buffer, truncating it so that the
// terminating zero always fits.
func (a *Arg) SetName(name string) {
	a.NameBuf = [NameLen]byte{}
	copy(a.NameBuf[:NameLen-1], name)
}
