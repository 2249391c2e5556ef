package binfmt

import (
	"debug/macho"
	"slices"

	"golang.org/x/crypto/blake2b"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
)

// MachO writes an MH_EXECUTE image started by dyld through LC_MAIN.
// The headers live at the start of __TEXT, the way ld64 lays it out.
type MachO struct{}

const (
	machoBase     = 0x100000000 // __PAGEZERO covers everything below
	machoPage     = 0x1000
	machoHdrSize  = 32
	machoSegSize  = 72
	machoSectSize = 80

	machoDyld      = "/usr/lib/dyld"
	machoLibSystem = "/usr/lib/libSystem.B.dylib"

	lcMain         = 0x80000028
	lcLoadDylinker = 0xe
	lcUUID         = 0x1b
	lcBuildVersion = 0x32

	platformMacOS = 1
	machoMinOS    = 11 << 16 // 11.0.0

	nSect = 0x0e

	sAttrPureInstructions = 0x80000000
	sAttrSomeInstructions = 0x00000400

	vmRead    = 1
	vmWrite   = 2
	vmExecute = 4
)

type (
	machoHeader struct {
		macho.FileHeader
		Reserved uint32
	}

	machoEntry struct {
		Cmd       uint32
		Len       uint32
		EntryOff  uint64
		StackSize uint64
	}

	machoUUID struct {
		Cmd  uint32
		Len  uint32
		UUID [16]byte
	}

	machoBuild struct {
		Cmd      uint32
		Len      uint32
		Platform uint32
		MinOS    uint32
		SDK      uint32
		NTools   uint32
	}
)

func machoName(s string) (n [16]byte) {
	copy(n[:], s)
	return n
}

// machoPathCmdLen sizes a load command of fixed bytes followed by a NUL
// terminated path, padded to 8 bytes.
func machoPathCmdLen(fixed int, path string) uint32 {
	return uint32(alignUp(uint64(fixed+len(path)+1), 8))
}

func (MachO) Emit(img *Image) ([]byte, error) {
	if err := noImports(img, engine.ContainerMachO); err != nil {
		return nil, err
	}

	if err := checkEntry(img); err != nil {
		return nil, err
	}

	hasData := len(img.Data) != 0

	dyldLen := machoPathCmdLen(12, machoDyld)
	dylibLen := machoPathCmdLen(24, machoLibSystem)

	ncmds := uint32(10)
	cmdsize := uint32(machoSegSize) + // __PAGEZERO
		machoSegSize + machoSectSize + // __TEXT
		machoSegSize + // __LINKEDIT
		dyldLen + dylibLen +
		24 + 80 + // symtab, dysymtab
		24 + 24 + 24 // uuid, build version, main

	if hasData {
		ncmds++
		cmdsize += machoSegSize + machoSectSize
	}

	codeOff := alignUp(machoHdrSize+uint64(cmdsize), 16)
	codeEnd := codeOff + uint64(len(img.Code))
	textSize := alignUp(codeEnd, machoPage)

	dataOff := textSize
	dataSize := uint64(0)

	if hasData {
		dataSize = alignUp(uint64(len(img.Data)), machoPage)
	}

	linkOff := dataOff + dataSize

	code := slices.Clone(img.Code)
	if err := patch(code, img, machoBase+codeOff, dataAddr(img, machoBase+dataOff)); err != nil {
		return nil, err
	}

	// symbol table
	strs := newStrtab(' ', 0)
	syms := &out{}

	nsyms := 0

	if img.Debug {
		for _, s := range img.Symbols {
			syms.put(macho.Nlist64{
				Name:  strs.add("_" + s.Name),
				Type:  nSect,
				Sect:  1,
				Value: machoBase + codeOff + uint64(s.Offset),
			})

			nsyms++
		}
	}

	symOff := linkOff
	strOff := symOff + syms.len()
	strs.b = append(strs.b, make([]byte, alignUp(uint64(len(strs.b)), 8)-uint64(len(strs.b)))...)
	linkSize := syms.len() + uint64(len(strs.b))

	flags := macho.FlagNoUndefs | macho.FlagDyldLink | macho.FlagTwoLevel
	if !hasAbs(img) {
		flags |= macho.FlagPIE
	}

	o := &out{}

	o.put(machoHeader{FileHeader: macho.FileHeader{
		Magic:  macho.Magic64,
		Cpu:    macho.CpuAmd64,
		SubCpu: 3, // CPU_SUBTYPE_X86_64_ALL
		Type:   macho.TypeExec,
		Ncmd:   ncmds,
		Cmdsz:  cmdsize,
		Flags:  flags,
	}})

	o.put(macho.Segment64{
		Cmd:   macho.LoadCmdSegment64,
		Len:   machoSegSize,
		Name:  machoName("__PAGEZERO"),
		Memsz: machoBase,
	})

	o.put(macho.Segment64{
		Cmd:     macho.LoadCmdSegment64,
		Len:     machoSegSize + machoSectSize,
		Name:    machoName("__TEXT"),
		Addr:    machoBase,
		Memsz:   textSize,
		Filesz:  textSize,
		Maxprot: vmRead | vmExecute,
		Prot:    vmRead | vmExecute,
		Nsect:   1,
	}, macho.Section64{
		Name:   machoName("__text"),
		Seg:    machoName("__TEXT"),
		Addr:   machoBase + codeOff,
		Size:   uint64(len(code)),
		Offset: uint32(codeOff),
		Align:  4,
		Flags:  sAttrPureInstructions | sAttrSomeInstructions,
	})

	if hasData {
		o.put(macho.Segment64{
			Cmd:     macho.LoadCmdSegment64,
			Len:     machoSegSize + machoSectSize,
			Name:    machoName("__DATA"),
			Addr:    machoBase + dataOff,
			Memsz:   dataSize,
			Offset:  dataOff,
			Filesz:  dataSize,
			Maxprot: vmRead | vmWrite,
			Prot:    vmRead | vmWrite,
			Nsect:   1,
		}, macho.Section64{
			Name:   machoName("__data"),
			Seg:    machoName("__DATA"),
			Addr:   machoBase + dataOff,
			Size:   uint64(len(img.Data)),
			Offset: uint32(dataOff),
			Align:  4,
		})
	}

	o.put(macho.Segment64{
		Cmd:     macho.LoadCmdSegment64,
		Len:     machoSegSize,
		Name:    machoName("__LINKEDIT"),
		Addr:    machoBase + linkOff,
		Memsz:   alignUp(max(linkSize, 1), machoPage),
		Offset:  linkOff,
		Filesz:  linkSize,
		Maxprot: vmRead,
		Prot:    vmRead,
	})

	start := o.len()
	o.put(uint32(lcLoadDylinker), dyldLen, uint32(12))
	o.bytes([]byte(machoDyld))
	o.padTo(start + uint64(dyldLen))

	start = o.len()
	o.put(macho.DylibCmd{
		Cmd:            macho.LoadCmdDylib,
		Len:            dylibLen,
		Name:           24,
		Time:           2,
		CurrentVersion: 0x05276403,
		CompatVersion:  0x00010000,
	})
	o.bytes([]byte(machoLibSystem))
	o.padTo(start + uint64(dylibLen))

	o.put(macho.SymtabCmd{
		Cmd:     macho.LoadCmdSymtab,
		Len:     24,
		Symoff:  uint32(symOff),
		Nsyms:   uint32(nsyms),
		Stroff:  uint32(strOff),
		Strsize: uint32(len(strs.b)),
	})

	o.put(macho.DysymtabCmd{
		Cmd:        macho.LoadCmdDysymtab,
		Len:        80,
		Nlocalsym:  uint32(nsyms),
		Iextdefsym: uint32(nsyms),
		Iundefsym:  uint32(nsyms),
	})

	sum := blake2b.Sum256(slices.Concat(code, img.Data))

	var uuid [16]byte
	copy(uuid[:], sum[:])
	uuid[6] = uuid[6]&0x0f | 0x40
	uuid[8] = uuid[8]&0x3f | 0x80

	o.put(machoUUID{Cmd: lcUUID, Len: 24, UUID: uuid})
	o.put(machoBuild{Cmd: lcBuildVersion, Len: 24, Platform: platformMacOS, MinOS: machoMinOS, SDK: machoMinOS})
	o.put(machoEntry{Cmd: lcMain, Len: 24, EntryOff: codeOff + uint64(img.Entry)})

	o.padTo(codeOff)
	o.bytes(code)
	o.padTo(textSize)

	if hasData {
		o.bytes(img.Data)
		o.padTo(linkOff)
	}

	o.bytes(syms.b)
	o.bytes(strs.b)

	return o.b, nil
}
