// Package elfobj is the minimal ELF32 RISC-V object-file reader the
// translator drives: a thin shim over the standard library's debug/elf,
// extended only with the raw SHT_RELA decoding debug/elf does not
// generically expose for RISC-V.
package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

// SectionKind classifies a Section.
type SectionKind int

const (
	KindOther SectionKind = iota
	KindText
	KindData
	KindBSS
	KindCommon
)

// Section is a loadable or symbol-table-relevant ELF section.
type Section struct {
	Name       string
	Addr       uint32
	Offset     uint32
	Size       uint32
	Kind       SectionKind
	Loadable   bool
	contents   []byte
	raw        *elf.Section
	ShadowOffs uint32 // assigned by internal/shadow when the image is built
}

func (s *Section) IsText() bool { return s.Kind == KindText }

// Contents returns the section's byte contents, reading lazily on first
// access.
func (s *Section) Contents() ([]byte, error) {
	if s.contents != nil {
		return s.contents, nil
	}
	if s.Kind == KindBSS || s.raw == nil {
		s.contents = make([]byte, s.Size)
		return s.contents, nil
	}
	data, err := s.raw.Data()
	if err != nil {
		return nil, fmt.Errorf("elfobj: reading section %q: %w", s.Name, err)
	}
	s.contents = data
	return s.contents, nil
}

// Symbol is a named ELF symbol, external iff Section is nil and Addr is
// zero.
type Symbol struct {
	Name    string
	Addr    uint32
	Section *Section
	IsFunc  bool
}

func (s *Symbol) IsExternal() bool { return s.Section == nil && s.Addr == 0 }

// RelocType is the subset of ELF RISC-V relocation types the translator
// recognizes.
type RelocType uint32

const (
	R_RISCV_BRANCH       RelocType = 16
	R_RISCV_CALL         RelocType = 18
	R_RISCV_PCREL_HI20   RelocType = 23
	R_RISCV_PCREL_LO12_I RelocType = 24
	R_RISCV_HI20         RelocType = 26
	R_RISCV_LO12_I       RelocType = 27
	R_RISCV_ALIGN        RelocType = 43
)

func (t RelocType) String() string {
	switch t {
	case R_RISCV_BRANCH:
		return "R_RISCV_BRANCH"
	case R_RISCV_CALL:
		return "R_RISCV_CALL"
	case R_RISCV_PCREL_HI20:
		return "R_RISCV_PCREL_HI20"
	case R_RISCV_PCREL_LO12_I:
		return "R_RISCV_PCREL_LO12_I"
	case R_RISCV_HI20:
		return "R_RISCV_HI20"
	case R_RISCV_LO12_I:
		return "R_RISCV_LO12_I"
	case R_RISCV_ALIGN:
		return "R_RISCV_ALIGN"
	default:
		return fmt.Sprintf("R_RISCV_UNKNOWN(%d)", uint32(t))
	}
}

// Relocation is one RISC-V ELF relocation entry.
type Relocation struct {
	Offset uint32 // guest PC it applies to
	Type   RelocType
	Symbol *Symbol
	Addend int64
}

// Object is a parsed ELF32 little-endian RISC-V relocatable object file.
type Object struct {
	Sections []*Section
	Symbols  []*Symbol
	// Relocs maps a section name (the section the relocations apply to,
	// e.g. ".text") to its relocation list, sorted ascending by Offset.
	Relocs map[string][]*Relocation
}

// Load parses path as an ELF32 RISC-V relocatable object.
func Load(path string) (*Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("elfobj: open %s: %w", path, err)
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("elfobj: open %s: %w", path, err)
	}

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("elfobj: %s: not an ELF32 file", path)
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("elfobj: %s: e_machine is not EM_RISCV", path)
	}

	obj := &Object{Relocs: make(map[string][]*Relocation)}
	secByRaw := make(map[*elf.Section]*Section)
	secByName := make(map[string]*Section)

	for _, raw := range f.Sections {
		sec := &Section{
			Name:     raw.Name,
			Addr:     uint32(raw.Addr),
			Offset:   uint32(raw.Offset),
			Size:     uint32(raw.Size),
			Loadable: raw.Flags&elf.SHF_ALLOC != 0,
			raw:      raw,
		}
		switch {
		case raw.Type == elf.SHT_NOBITS:
			sec.Kind = KindBSS
		case raw.Flags&elf.SHF_EXECINSTR != 0:
			sec.Kind = KindText
		case raw.Flags&elf.SHF_ALLOC != 0 && raw.Flags&elf.SHF_WRITE != 0:
			sec.Kind = KindData
		}
		if sec.Loadable {
			obj.Sections = append(obj.Sections, sec)
		}
		secByRaw[raw] = sec
		secByName[raw.Name] = sec
	}

	syms, err := f.Symbols()
	if err != nil && len(f.Sections) > 0 {
		// Objects with no symbol table at all are still valid (rare); only
		// surface real parse errors.
		if _, ok := err.(*elf.FormatError); ok {
			return nil, fmt.Errorf("elfobj: %s: reading symbols: %w", path, err)
		}
	}
	for _, s := range syms {
		sym := &Symbol{Name: s.Name, Addr: uint32(s.Value)}
		if int(s.Section) < len(f.Sections) && s.Section != elf.SHN_UNDEF && s.Section < elf.SHN_LORESERVE {
			sym.Section = secByRaw[f.Sections[s.Section]]
		}
		sym.IsFunc = elf.ST_TYPE(s.Info) == elf.STT_FUNC
		obj.Symbols = append(obj.Symbols, sym)
	}

	for _, raw := range f.Sections {
		if raw.Type != elf.SHT_RELA {
			continue
		}
		targetName := raw.Name
		if len(targetName) > 5 && targetName[:5] == ".rela" {
			targetName = targetName[5:]
		}
		data, err := raw.Data()
		if err != nil {
			return nil, fmt.Errorf("elfobj: %s: reading %s: %w", path, raw.Name, err)
		}
		const entSize = 12 // r_offset(4) + r_info(4) + r_addend(4), ELF32 Rela
		var list []*Relocation
		for off := 0; off+entSize <= len(data); off += entSize {
			rOffset := binary.LittleEndian.Uint32(data[off:])
			rInfo := binary.LittleEndian.Uint32(data[off+4:])
			rAddend := int32(binary.LittleEndian.Uint32(data[off+8:]))
			symIdx := rInfo >> 8
			typ := RelocType(rInfo & 0xff)
			var sym *Symbol
			// r_info symbol indices count the null symtab entry, which
			// debug/elf's Symbols() omits.
			if symIdx > 0 && int(symIdx)-1 < len(obj.Symbols) {
				sym = obj.Symbols[symIdx-1]
			}
			list = append(list, &Relocation{
				Offset: rOffset,
				Type:   typ,
				Symbol: sym,
				Addend: int64(rAddend),
			})
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].Offset < list[j].Offset })
		obj.Relocs[targetName] = list
	}

	return obj, nil
}

// NewSection builds an in-memory section, used by unit tests and the
// CLI's --test smoke path. The contents length fixes the size; BSS-like
// sections pass nil contents and set Size afterwards.
func NewSection(name string, kind SectionKind, contents []byte) *Section {
	return &Section{
		Name:     name,
		Size:     uint32(len(contents)),
		Kind:     kind,
		Loadable: true,
		contents: contents,
	}
}

// NewObject assembles an in-memory object from pre-built parts. Each
// relocation list is sorted by offset, matching what Load produces.
func NewObject(sections []*Section, symbols []*Symbol, relocs map[string][]*Relocation) *Object {
	if relocs == nil {
		relocs = make(map[string][]*Relocation)
	}
	for _, list := range relocs {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Offset < list[j].Offset })
	}
	return &Object{Sections: sections, Symbols: symbols, Relocs: relocs}
}
