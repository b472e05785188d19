// Package elfx opens 32-bit x86 and ARM ELF binaries, locates their code
// and data sections, and maps virtual addresses to file bytes.
package elfx

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"sort"
	"syscall"

	"reil/internal/lifter"
)

var ErrUnsupportedMachine = errors.New("elfx: unsupported machine")

type Image struct {
	Path    string
	File    *elf.File
	All     []byte
	Loads   []Seg
	Text    Section
	Rodata  Section
	Data    Section
	Symbols []Symbol // defined symbols sorted by address
	f       *os.File
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

func (s Section) Contains(va uint64) bool {
	return s.Size != 0 && va >= s.VA && va < s.VA+s.Size
}

type Symbol struct {
	Name      string
	Demangled string
	Addr      uint64
	Size      uint64
	Func      bool
}

// Display returns the demangled name when there is one.
func (s Symbol) Display() string {
	if s.Demangled != "" {
		return s.Demangled
	}
	return s.Name
}

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	for _, s := range f.Sections {
		sec := Section{s.Name, s.Addr, s.Offset, s.Size}
		switch s.Name {
		case ".text":
			im.Text = sec
		case ".rodata":
			im.Rodata = sec
		case ".data":
			im.Data = sec
		}
	}

	// Stripped section headers: fall back to the first executable segment.
	if im.Text.Size == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Text = Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz}
				break
			}
		}
	}

	im.loadSymbols()
	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		if err3 := im.File.Close(); err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Arch reports the lifter architecture for the image's machine type.
// Only 32-bit images qualify since translation addresses are 32-bit.
func (im *Image) Arch() (lifter.Arch, error) {
	if im.File.Class != elf.ELFCLASS32 {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedMachine, im.File.Class)
	}
	switch im.File.Machine {
	case elf.EM_386:
		return lifter.X86, nil
	case elf.EM_ARM:
		return lifter.ARM, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrUnsupportedMachine, im.File.Machine)
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// Slice returns the mapped bytes for [va, va+size). It returns false if
// va is unmapped or the range runs past the end of the file.
func (im *Image) Slice(va, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// TextBytes returns the contents of the code section.
func (im *Image) TextBytes() ([]byte, bool) {
	if im.Text.Size == 0 {
		return nil, false
	}
	end := im.Text.Off + im.Text.Size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[im.Text.Off:end], true
}

// ReadCString reads a zero-terminated string of at most max bytes.
func (im *Image) ReadCString(va uint64, max int) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok || max <= 0 {
		return nil, false
	}
	for i := off; i < uint64(len(im.All)) && i < off+uint64(max); i++ {
		if im.All[i] == 0 {
			return im.All[off:i], true
		}
	}
	return nil, false
}

// InData reports whether va lies in .rodata or .data.
func (im *Image) InData(va uint64) bool {
	return im.Rodata.Contains(va) || im.Data.Contains(va)
}

func (im *Image) loadSymbols() {
	syms, err := im.File.Symbols()
	if err != nil {
		return // .symtab not available or stripped
	}
	seen := make(map[string]bool)
	for _, sym := range syms {
		if sym.Value == 0 || sym.Name == "" || sym.Section == elf.SHN_UNDEF {
			continue
		}
		typ := elf.ST_TYPE(sym.Info)
		if typ != elf.STT_FUNC && typ != elf.STT_OBJECT && typ != elf.STT_NOTYPE {
			continue
		}
		if seen[sym.Name] {
			continue
		}
		seen[sym.Name] = true
		addr := sym.Value
		if im.File.Machine == elf.EM_ARM {
			addr &^= 1 // Thumb bit
		}
		s := Symbol{
			Name: sym.Name,
			Addr: addr,
			Size: sym.Size,
			Func: typ == elf.STT_FUNC,
		}
		if d := Demangle(sym.Name); d != sym.Name {
			s.Demangled = d
		}
		im.Symbols = append(im.Symbols, s)
	}
	sort.SliceStable(im.Symbols, func(i, j int) bool {
		return im.Symbols[i].Addr < im.Symbols[j].Addr
	})
}

// Functions returns the function symbols that have a size.
func (im *Image) Functions() []Symbol {
	var out []Symbol
	for _, s := range im.Symbols {
		if s.Func && s.Size > 0 {
			out = append(out, s)
		}
	}
	return out
}

// SymbolAt finds a symbol by its raw or demangled name.
func (im *Image) SymbolAt(name string) (Symbol, bool) {
	for _, s := range im.Symbols {
		if s.Name == name || (s.Demangled != "" && s.Demangled == name) {
			return s, true
		}
	}
	return Symbol{}, false
}

// SymbolFor returns the symbol whose range contains va.
func (im *Image) SymbolFor(va uint64) (Symbol, bool) {
	i := sort.Search(len(im.Symbols), func(i int) bool { return im.Symbols[i].Addr > va })
	for i--; i >= 0; i-- {
		s := im.Symbols[i]
		if va == s.Addr || (va > s.Addr && va < s.Addr+s.Size) {
			return s, true
		}
		if s.Size > 0 {
			break
		}
	}
	return Symbol{}, false
}

// Code returns the bytes of a function symbol.
func (im *Image) Code(s Symbol) ([]byte, bool) {
	if s.Size == 0 {
		return nil, false
	}
	return im.Slice(s.Addr, s.Size)
}
