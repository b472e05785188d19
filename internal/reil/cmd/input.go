package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"reil/internal/elfx"
	"reil/internal/lifter"
)

// input is the code selected for translation.
type input struct {
	name  string
	arch  lifter.Arch
	va    uint32
	code  []byte
	image *elfx.Image // nil for raw blobs
}

func (in *input) Close() error {
	if in.image != nil {
		return in.image.Close()
	}
	return nil
}

func isELF(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(magic, []byte("\x7fELF")), nil
}

// loadInput opens path as an ELF image or a raw blob and selects the
// bytes to translate.
func loadInput(path string, s *settings) (*input, error) {
	elf, err := isELF(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access file: %w", err)
	}
	var in *input
	if elf {
		in, err = loadELF(path, s)
	} else {
		in, err = loadRaw(path, s)
	}
	if err != nil {
		return nil, err
	}
	if err := in.window(s.offset, s.length); err != nil {
		in.Close()
		return nil, err
	}
	return in, nil
}

func loadELF(path string, s *settings) (*input, error) {
	im, err := elfx.Open(path)
	if err != nil {
		return nil, err
	}
	in := &input{name: path, image: im}

	if s.Arch != "" {
		in.arch, err = lifter.ParseArch(s.Arch)
	} else {
		in.arch, err = im.Arch()
	}
	if err != nil {
		im.Close()
		return nil, err
	}

	var va uint64
	if s.symbol != "" {
		sym, ok := im.SymbolAt(s.symbol)
		if !ok {
			im.Close()
			return nil, fmt.Errorf("symbol %q not found", s.symbol)
		}
		code, ok := im.Code(sym)
		if !ok {
			im.Close()
			return nil, fmt.Errorf("symbol %q has no code", s.symbol)
		}
		in.code, va = code, sym.Addr
		in.name = sym.Display()
	} else {
		code, ok := im.TextBytes()
		if !ok {
			im.Close()
			return nil, fmt.Errorf("%s has no code section", path)
		}
		in.code, va = code, im.Text.VA
	}
	if va > 0xffffffff {
		im.Close()
		return nil, fmt.Errorf("address %#x does not fit in 32 bits", va)
	}
	in.va = uint32(va)
	return in, nil
}

func loadRaw(path string, s *settings) (*input, error) {
	if s.Arch == "" {
		return nil, errors.New("--arch is required for raw input")
	}
	arch, err := lifter.ParseArch(s.Arch)
	if err != nil {
		return nil, err
	}
	va, err := parseAddr(s.Address)
	if err != nil {
		return nil, err
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return &input{name: path, arch: arch, va: va, code: code}, nil
}

// window narrows the code to [offset, offset+length). A zero length
// means up to the end.
func (in *input) window(offset, length int) error {
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}
	if length < 0 {
		return fmt.Errorf("negative length %d", length)
	}
	if offset > len(in.code) {
		return fmt.Errorf("offset %d past end of %d-byte input", offset, len(in.code))
	}
	if uint64(in.va)+uint64(offset) > 0xffffffff {
		return fmt.Errorf("offset %d moves past the 32-bit address space", offset)
	}
	in.code = in.code[offset:]
	in.va += uint32(offset)
	if length > 0 && length < len(in.code) {
		in.code = in.code[:length]
	}
	return nil
}
