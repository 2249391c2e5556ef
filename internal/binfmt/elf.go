package binfmt

import (
	"debug/elf"
	"slices"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
)

// ELF writes a static ET_EXEC image: code and headers in one read-execute
// segment, data in a read-write one.
type ELF struct{}

const (
	elfBase     = 0x400000
	elfPage     = 0x1000
	elfHdrSize  = 64
	elfPhdrSize = 56
	elfShdrSize = 64
	elfSymSize  = 24
)

func (ELF) Emit(img *Image) ([]byte, error) {
	if err := noImports(img, engine.ContainerELF); err != nil {
		return nil, err
	}

	if err := checkEntry(img); err != nil {
		return nil, err
	}

	nph := 1
	if len(img.Data) != 0 {
		nph = 2
	}

	codeOff := alignUp(elfHdrSize+uint64(nph)*elfPhdrSize, 16)
	codeEnd := codeOff + uint64(len(img.Code))
	dataOff := alignUp(codeEnd, elfPage)

	text := elfBase + codeOff
	data := elfBase + dataOff

	code := slices.Clone(img.Code)
	if err := patch(code, img, text, dataAddr(img, data)); err != nil {
		return nil, err
	}

	o := &out{}

	// headers are written last, once section offsets are known
	o.padTo(codeOff)
	o.bytes(code)

	if len(img.Data) != 0 {
		o.padTo(dataOff)
		o.bytes(img.Data)
	}

	shoff, shnum, shstrndx := elfSections(o, img, text, data, codeOff, dataOff)

	hdr := &out{}
	hdr.put(elf.Header64{
		Ident:     elfIdent(),
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     text + uint64(img.Entry),
		Phoff:     elfHdrSize,
		Shoff:     shoff,
		Ehsize:    elfHdrSize,
		Phentsize: elfPhdrSize,
		Phnum:     uint16(nph),
		Shentsize: elfShdrSize,
		Shnum:     shnum,
		Shstrndx:  shstrndx,
	})

	hdr.put(elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    0,
		Vaddr:  elfBase,
		Paddr:  elfBase,
		Filesz: codeEnd,
		Memsz:  codeEnd,
		Align:  elfPage,
	})

	if len(img.Data) != 0 {
		size := uint64(len(img.Data))

		hdr.put(elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R | elf.PF_W),
			Off:    dataOff,
			Vaddr:  data,
			Paddr:  data,
			Filesz: size,
			Memsz:  size,
			Align:  elfPage,
		})
	}

	copy(o.b, hdr.b)

	return o.b, nil
}

func elfIdent() (id [elf.EI_NIDENT]byte) {
	copy(id[:], elf.ELFMAG)
	id[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	id[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	id[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	id[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	return id
}

// elfSections appends the section table: .text, .data if present, the
// symbol table with debug info and .shstrtab. The loader ignores it.
func elfSections(o *out, img *Image, text, data, codeOff, dataOff uint64) (shoff uint64, shnum, shstrndx uint16) {
	names := newStrtab(0)

	shdrs := []elf.Section64{{}} // SHN_UNDEF

	shdrs = append(shdrs, elf.Section64{
		Name:      names.add(".text"),
		Type:      uint32(elf.SHT_PROGBITS),
		Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
		Addr:      text,
		Off:       codeOff,
		Size:      uint64(len(img.Code)),
		Addralign: 16,
	})

	textIdx := uint16(1)

	if len(img.Data) != 0 {
		shdrs = append(shdrs, elf.Section64{
			Name:      names.add(".data"),
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
			Addr:      data,
			Off:       dataOff,
			Size:      uint64(len(img.Data)),
			Addralign: 16,
		})
	}

	if img.Debug {
		strs := newStrtab(0)
		syms := &out{}

		syms.put(elf.Sym64{})

		for _, s := range img.Symbols {
			syms.put(elf.Sym64{
				Name:  strs.add(s.Name),
				Info:  elf.ST_INFO(elf.STB_LOCAL, elf.STT_FUNC),
				Shndx: textIdx,
				Value: text + uint64(s.Offset),
				Size:  uint64(s.Size),
			})
		}

		o.padTo(alignUp(o.len(), 8))
		symOff := o.len()
		o.bytes(syms.b)

		strOff := o.len()
		o.bytes(strs.b)

		symIdx := uint32(len(shdrs))

		shdrs = append(shdrs, elf.Section64{
			Name:      names.add(".symtab"),
			Type:      uint32(elf.SHT_SYMTAB),
			Off:       symOff,
			Size:      uint64(len(syms.b)),
			Link:      symIdx + 1,
			Info:      uint32(len(img.Symbols) + 1), // all symbols are local
			Addralign: 8,
			Entsize:   elfSymSize,
		}, elf.Section64{
			Name:      names.add(".strtab"),
			Type:      uint32(elf.SHT_STRTAB),
			Off:       strOff,
			Size:      uint64(len(strs.b)),
			Addralign: 1,
		})
	}

	shstrndx = uint16(len(shdrs))
	shstrName := names.add(".shstrtab")

	shstrOff := o.len()
	o.bytes(names.b)

	shdrs = append(shdrs, elf.Section64{
		Name:      shstrName,
		Type:      uint32(elf.SHT_STRTAB),
		Off:       shstrOff,
		Size:      uint64(len(names.b)),
		Addralign: 1,
	})

	o.padTo(alignUp(o.len(), 8))
	shoff = o.len()

	for _, sh := range shdrs {
		o.put(sh)
	}

	return shoff, uint16(len(shdrs)), shstrndx
}
