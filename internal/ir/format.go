package ir

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	diagMu sync.Mutex
	diag   io.Writer = os.Stderr
)

// SetDiagnosticOutput sets the writer used by Print and returns the
// previous one.
func SetDiagnosticOutput(w io.Writer) io.Writer {
	diagMu.Lock()
	defer diagMu.Unlock()
	prev := diag
	diag = w
	return prev
}

// Print writes the textual form of the instruction to the diagnostic output.
func (i *Inst) Print() {
	diagMu.Lock()
	defer diagMu.Unlock()
	fmt.Fprintln(diag, i.String())
}

// String renders the instruction as "addr.inum OP a, b, c".
func (i *Inst) String() string {
	return fmt.Sprintf("%.8x.%.2x %7s %16s, %16s, %16s",
		i.Raw.Addr, i.ReilOffset(), i.Op, i.A, i.B, i.C)
}

func (a Arg) String() string {
	switch a.Kind {
	case ArgReg, ArgTemp:
		name, _ := a.Name()
		return fmt.Sprintf("%s:%d", name, a.Width.Bits())
	case ArgConst:
		return fmt.Sprintf("%#x:%d", a.Const, a.Width.Bits())
	case ArgLoc:
		return fmt.Sprintf("%x.%.2x", a.Const, uint8(a.Inum))
	}
	return ""
}
