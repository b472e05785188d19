// Package analysis collects translated REIL instructions into listings
// and runs passes over them.
package analysis

import (
	"errors"

	"reil/internal/ir"
	"reil/internal/lifter"
)

// Listing is an ordered sequence of retained REIL instructions.
type Listing []ir.Inst

// NativeCount returns the number of distinct native instructions.
func (l Listing) NativeCount() int {
	n := 0
	for i := range l {
		if i == 0 || l[i].RawAddress() != l[i-1].RawAddress() {
			n++
		}
	}
	return n
}

// Group returns the instructions lifted from the native instruction at va.
func (l Listing) Group(va uint64) Listing {
	var out Listing
	for i := range l {
		if l[i].RawAddress() == va {
			out = append(out, l[i])
		}
	}
	return out
}

// Collector is a session context that retains every instruction it sees.
type Collector struct {
	Listing Listing
	Limit   int // stop after this many REIL instructions when > 0
}

// Collect is a lifter.Handler that appends a copy of inst.
func Collect(inst *ir.Inst, c *Collector) error {
	c.Listing = append(c.Listing, inst.Clone())
	if c.Limit > 0 && len(c.Listing) >= c.Limit {
		return lifter.ErrStop
	}
	return nil
}

// Lift translates code located at va and returns the collected listing.
// A decode error still returns the instructions produced before it.
func Lift(arch lifter.Arch, code []byte, va uint32, single bool, opts ...lifter.Option) (Listing, error) {
	c := &Collector{}
	s, err := lifter.New(arch, Collect, c, opts...)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if single {
		err = s.TranslateInstruction(code, va)
	} else {
		err = s.Translate(code, va)
	}
	return c.Listing, err
}

// IsDecodeError reports whether err came from undecodable bytes.
func IsDecodeError(err error) bool {
	var derr *lifter.DecodeError
	return errors.As(err, &derr)
}
