// Package lifter provides translation sessions that stream REIL
// instructions lifted from x86 and ARM machine code.
//
// A Session owns one engine handle. Instructions are delivered to a
// Handler together with the caller's context; the *ir.Inst passed to the
// handler is only valid until the handler returns.
package lifter

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/charmbracelet/log"

	"reil/internal/engine"
	"reil/internal/ir"
)

// Handler processes one REIL instruction. Returning ErrStop ends the
// translation quietly; any other error ends it and is reported by the
// translate call.
type Handler[T any] func(inst *ir.Inst, ctx *T) error

var (
	// ErrStop is returned by a Handler to stop translation without error.
	ErrStop = errors.New("lifter: stop")

	// ErrNilHandler is returned by New when no handler is given.
	ErrNilHandler = errors.New("lifter: nil handler")
	// ErrNilContext is returned by New when the context pointer is nil.
	ErrNilContext = errors.New("lifter: nil context")

	// ErrInstructionLimit is returned when WithMaxInstructions stops a translation.
	ErrInstructionLimit = engine.ErrInstructionLimit
)

// DecodeError reports bytes that do not decode to an instruction.
type DecodeError = engine.DecodeError

// HandlerError wraps an error returned by a Handler.
type HandlerError struct {
	Addr uint64 // composite address of the instruction being handled
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed at %x.%.2x: %v", ir.AddressRaw(e.Addr), ir.AddressOffset(e.Addr), e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Option configures a Session.
type Option func(*options)

type options struct {
	logger *log.Logger
	max    int
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxInstructions limits the native instructions decoded per call.
func WithMaxInstructions(n int) Option {
	return func(o *options) { o.max = n }
}

// binding is the context registered with the engine. It holds no
// reference to the Session so that an abandoned Session can be collected.
type binding[T any] struct {
	handler Handler[T]
	ctx     *T
	err     error
	running bool
}

func dispatch[T any](inst *ir.Inst, raw any) int32 {
	b := raw.(*binding[T])
	if err := b.handler(inst, b.ctx); err != nil {
		b.err = err
		return 1
	}
	return 0
}

// noCopy marks Session as not to be copied; see go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Session is a translation session. It must not be copied and is not
// safe for concurrent use.
type Session[T any] struct {
	_ noCopy

	arch    Arch
	eng     *engine.Engine
	bind    *binding[T]
	log     *log.Logger
	once    sync.Once
	closed  bool
	cleanup runtime.Cleanup
}

// New starts a session for arch. ctx is handed to every handler call and
// must not be used elsewhere until the session is closed. On error no
// resources are held.
func New[T any](arch Arch, handler Handler[T], ctx *T, opts ...Option) (*Session[T], error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if ctx == nil {
		return nil, ErrNilContext
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard)
	}

	bind := &binding[T]{handler: handler, ctx: ctx}
	eng, err := engine.Init(engineArch(arch), dispatch[T], bind, engine.Options{
		Logger:          o.logger,
		MaxInstructions: o.max,
	})
	if err != nil {
		return nil, fmt.Errorf("init %v engine: %w", arch, err)
	}

	s := &Session[T]{arch: arch, eng: eng, bind: bind, log: o.logger}
	s.cleanup = runtime.AddCleanup(s, func(e *engine.Engine) { _ = e.Close() }, eng)
	return s, nil
}

// Arch returns the session's architecture.
func (s *Session[T]) Arch() Arch { return s.arch }

// Translate lifts every native instruction in buf, the first of which is
// located at start. The handler runs once per REIL instruction, in
// address order, before Translate returns.
func (s *Session[T]) Translate(buf []byte, start uint32) error {
	return s.run(buf, start, false)
}

// TranslateInstruction lifts only the first native instruction in buf.
func (s *Session[T]) TranslateInstruction(buf []byte, start uint32) error {
	return s.run(buf, start, true)
}

func (s *Session[T]) run(buf []byte, start uint32, single bool) error {
	if s.closed {
		panic("lifter: use of closed session")
	}
	if s.bind.running {
		panic("lifter: translate called from its own handler")
	}
	s.bind.running = true
	s.bind.err = nil
	defer func() { s.bind.running = false }()

	var err error
	if single {
		err = s.eng.TranslateInsn(start, buf)
	} else {
		err = s.eng.Translate(start, buf)
	}

	var abort *engine.AbortError
	if errors.As(err, &abort) {
		if errors.Is(s.bind.err, ErrStop) {
			s.log.Debug("translation stopped by handler", "at", fmt.Sprintf("%x.%.2x", ir.AddressRaw(abort.Addr), ir.AddressOffset(abort.Addr)))
			return nil
		}
		return &HandlerError{Addr: abort.Addr, Err: s.bind.err}
	}
	return err
}

// Close releases the engine handle. It is safe to call more than once;
// only the first call has an effect.
func (s *Session[T]) Close() error {
	if s.bind.running {
		panic("lifter: Close called from a handler")
	}
	var err error
	s.once.Do(func() {
		s.cleanup.Stop()
		err = s.eng.Close()
		s.closed = true
		s.bind.ctx = nil
	})
	return err
}
