// Package engine lifts native x86 and ARM machine code into REIL.
//
// An Engine is an owned handle: it is created by Init, fed buffers with
// Translate and TranslateInsn, and released exactly once by Close. Every
// REIL instruction is delivered to a RawHandler synchronously, in address
// order. The record passed to the handler is owned by the engine and is
// reused for later instructions.
package engine

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"reil/internal/disasm"
	"reil/internal/ir"
)

// Arch identifies an instruction set understood by the engine.
type Arch int

const (
	ArchX86 Arch = iota + 1
	ArchARM
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchARM:
		return "arm"
	}
	return fmt.Sprintf("Arch(%d)", int(a))
}

// RawHandler receives one REIL instruction and the context registered
// with Init. A non-zero status aborts the translation in progress.
type RawHandler func(inst *ir.Inst, ctx any) int32

var (
	ErrClosed             = errors.New("engine: handle closed")
	ErrUnsupportedArch    = errors.New("engine: unsupported architecture")
	ErrNoHandler          = errors.New("engine: nil handler")
	ErrBusy               = errors.New("engine: translation already in progress")
	ErrInstructionLimit   = errors.New("engine: native instruction limit reached")
	errExpansionTooLong   = errors.New("engine: REIL expansion exceeds 256 instructions")
	errUnsupportedOperand = errors.New("unsupported operand")
)

// DecodeError reports bytes the engine could not decode.
type DecodeError struct {
	Addr uint64
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("engine: decode at %#x: %v", e.Addr, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AbortError reports a translation stopped by a non-zero handler status.
type AbortError struct {
	Addr   uint64 // composite address of the instruction that aborted
	Status int32
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("engine: handler aborted at %x.%.2x with status %d",
		ir.AddressRaw(e.Addr), ir.AddressOffset(e.Addr), e.Status)
}

// Options configure an engine handle.
type Options struct {
	// Logger receives debug output. Nil discards it.
	Logger *log.Logger
	// MaxInstructions bounds the native instructions decoded per
	// Translate call. Zero means unlimited.
	MaxInstructions int
}

// Engine is a translation handle.
type Engine struct {
	arch    Arch
	dis     disasm.Arch
	handler RawHandler
	ctx     any
	log     *log.Logger
	max     int

	b      builder
	busy   bool
	closed atomic.Bool
}

var live atomic.Int64

// Live returns the number of handles that are initialized and not closed.
func Live() int64 { return live.Load() }

// Init creates a handle for arch. On error no handle exists and nothing
// needs to be released.
func Init(arch Arch, handler RawHandler, ctx any, opts Options) (*Engine, error) {
	var dis disasm.Arch
	switch arch {
	case ArchX86:
		dis = disasm.X86
	case ArchARM:
		dis = disasm.ARM
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedArch, arch)
	}
	if handler == nil {
		return nil, ErrNoHandler
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.New(io.Discard)
	}
	e := &Engine{
		arch:    arch,
		dis:     dis,
		handler: handler,
		ctx:     ctx,
		log:     lg,
		max:     opts.MaxInstructions,
	}
	live.Add(1)
	e.log.Debug("engine opened", "arch", arch)
	return e, nil
}

// Arch returns the instruction set of the handle.
func (e *Engine) Arch() Arch { return e.arch }

// Close releases the handle. Closing twice returns ErrClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	live.Add(-1)
	e.handler = nil
	e.ctx = nil
	e.b = builder{}
	e.log.Debug("engine closed", "arch", e.arch)
	return nil
}

// Translate lifts every native instruction in buf, the first of which is
// located at addr.
func (e *Engine) Translate(addr uint32, buf []byte) error {
	return e.run(addr, buf, false)
}

// TranslateInsn lifts only the first native instruction in buf.
func (e *Engine) TranslateInsn(addr uint32, buf []byte) error {
	return e.run(addr, buf, true)
}

func (e *Engine) run(addr uint32, buf []byte, single bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.busy {
		return ErrBusy
	}
	e.busy = true
	defer func() { e.busy = false }()

	count := 0
	for off := 0; off < len(buf); {
		if e.max > 0 && count >= e.max {
			return ErrInstructionLimit
		}
		va := uint64(addr) + uint64(off)
		n, err := e.step(buf[off:], va)
		if err != nil {
			return err
		}
		count++
		off += n
		if single {
			break
		}
	}
	return nil
}

// step lifts the instruction at the start of src and streams its
// expansion to the handler. It returns the native instruction length.
func (e *Engine) step(src []byte, va uint64) (int, error) {
	inst, err := disasm.Decode(e.dis, src, va)
	if err != nil {
		e.log.Debug("decode failed", "addr", fmt.Sprintf("%#x", va), "err", err)
		return 0, &DecodeError{Addr: va, Err: err}
	}
	e.b.reset(ir.RawInfo{
		Addr:     va,
		Size:     inst.Len,
		Data:     inst.Raw,
		Mnemonic: inst.Op,
		Operands: inst.Args,
	})
	switch e.arch {
	case ArchX86:
		err = liftX86(&e.b, &inst)
	case ArchARM:
		err = liftARM(&e.b, &inst)
	}
	if err != nil {
		e.log.Debug("lifting as UNK", "addr", fmt.Sprintf("%#x", va), "inst", inst.Text, "reason", err)
		e.b.unknown()
	}
	out, err := e.b.finish()
	if err != nil {
		return 0, err
	}
	for i := range out {
		if status := e.handler(&out[i], e.ctx); status != 0 {
			return 0, &AbortError{Addr: out[i].Address(), Status: status}
		}
	}
	return inst.Len, nil
}
