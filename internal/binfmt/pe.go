package binfmt

import (
	"debug/pe"
	"slices"
	"strings"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
)

// PE writes a PE32+ console executable with .text, .data and .idata.
// Externs are called through the import address table.
type PE struct{}

const (
	peImageBase    = 0x140000000
	peSectionAlign = 0x1000
	peFileAlign    = 0x200

	peDOSHeader    = 64
	peDOSStub      = 128
	peOptionalSize = 240
	peSectionSize  = 40

	peDefaultDLL = "kernel32.dll"
)

// peAliases maps externs to the Windows functions implementing them.
var peAliases = map[string]string{
	"exit": "ExitProcess",
}

// peImport is one imported function.
type peImport struct {
	sym string // name in the image relocations
	dll string
	fn  string
}

// peResolve maps an extern to its DLL and function. Names of the form
// "dll!Function" pick the DLL explicitly.
func peResolve(sym string) (peImport, error) {
	if dll, fn, ok := strings.Cut(sym, "!"); ok && dll != "" && fn != "" {
		if !strings.Contains(dll, ".") {
			dll += ".dll"
		}

		return peImport{sym: sym, dll: strings.ToLower(dll), fn: fn}, nil
	}

	if fn, ok := peAliases[sym]; ok {
		return peImport{sym: sym, dll: peDefaultDLL, fn: fn}, nil
	}

	return peImport{}, diag.New(diag.KindEmit, diag.Where{}, "extern %q has no Windows implementation", sym).
		WithHelp("supported: exit, or an explicit import such as kernel32!GetTickCount")
}

func (PE) Emit(img *Image) ([]byte, error) {
	if err := checkEntry(img); err != nil {
		return nil, err
	}

	imports := make([]peImport, 0, len(img.Imports))

	for _, sym := range img.Imports {
		imp, err := peResolve(sym)
		if err != nil {
			return nil, err
		}

		imports = append(imports, imp)
	}

	type section struct {
		name  string
		data  []byte
		flags uint32
		rva   uint32
		raw   uint32
	}

	var secs []*section

	text := &section{name: ".text", data: slices.Clone(img.Code), flags: pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ}
	secs = append(secs, text)

	var data, idata *section

	if len(img.Data) != 0 {
		data = &section{name: ".data", data: img.Data, flags: pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE}
		secs = append(secs, data)
	}

	if len(imports) != 0 {
		idata = &section{name: ".idata", flags: pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE}
		secs = append(secs, idata)
	}

	headers := uint32(peDOSHeader + peDOSStub + 4 + 20 + peOptionalSize + len(secs)*peSectionSize)
	headersSize := uint32(alignUp(uint64(headers), peFileAlign))

	// idata contents depend on its own rva; sizes do not
	rva := uint32(peSectionAlign)
	raw := headersSize

	var iat map[string]uint32
	var idir, iatDir pe.DataDirectory

	for _, s := range secs {
		s.rva = rva
		s.raw = raw

		if s == idata {
			s.data, iat, idir, iatDir = peImportData(imports, rva)
		}

		rva += uint32(alignUp(uint64(max(len(s.data), 1)), peSectionAlign))
		raw += uint32(alignUp(uint64(len(s.data)), peFileAlign))
	}

	imageSize := rva

	var dataRVA uint32
	if data != nil {
		dataRVA = data.rva
	}

	textVA := peImageBase + uint64(text.rva)

	err := patch(text.data, img, textVA, func(sym string) (uint64, bool) {
		if off, ok := img.DataSyms[sym]; ok && data != nil {
			return peImageBase + uint64(dataRVA) + uint64(off), true
		}

		if slot, ok := iat[sym]; ok {
			return peImageBase + uint64(slot), true
		}

		return 0, false
	})
	if err != nil {
		return nil, err
	}

	var codeSize, initSize uint32

	for _, s := range secs {
		size := uint32(alignUp(uint64(len(s.data)), peFileAlign))

		if s == text {
			codeSize += size
		} else {
			initSize += size
		}
	}

	chars := uint16(pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_LARGE_ADDRESS_AWARE)
	dll := uint16(pe.IMAGE_DLLCHARACTERISTICS_NX_COMPAT | pe.IMAGE_DLLCHARACTERISTICS_TERMINAL_SERVER_AWARE)

	// there is no base relocation table: absolute addresses pin the base
	if hasAbs(img) {
		chars |= pe.IMAGE_FILE_RELOCS_STRIPPED
	} else {
		dll |= pe.IMAGE_DLLCHARACTERISTICS_DYNAMIC_BASE | pe.IMAGE_DLLCHARACTERISTICS_HIGH_ENTROPY_VA
	}

	o := &out{}

	// DOS header: "MZ" and e_lfanew
	o.put(uint16(0x5a4d))
	o.padTo(0x3c)
	o.put(uint32(peDOSHeader + peDOSStub))

	o.bytes([]byte("This program requires Windows.\r\n$"))
	o.padTo(peDOSHeader + peDOSStub)

	o.put(uint32(0x00004550)) // "PE\0\0"

	o.put(pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     uint16(len(secs)),
		SizeOfOptionalHeader: peOptionalSize,
		Characteristics:      chars,
	})

	opt := pe.OptionalHeader64{
		Magic:                       0x20b,
		MajorLinkerVersion:          1,
		SizeOfCode:                  codeSize,
		SizeOfInitializedData:       initSize,
		AddressOfEntryPoint:         text.rva + uint32(img.Entry),
		BaseOfCode:                  text.rva,
		ImageBase:                   peImageBase,
		SectionAlignment:            peSectionAlign,
		FileAlignment:               peFileAlign,
		MajorOperatingSystemVersion: 6,
		MajorSubsystemVersion:       6,
		SizeOfImage:                 imageSize,
		SizeOfHeaders:               headersSize,
		Subsystem:                   pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
		DllCharacteristics:          dll,
		SizeOfStackReserve:          0x100000,
		SizeOfStackCommit:           0x1000,
		SizeOfHeapReserve:           0x100000,
		SizeOfHeapCommit:            0x1000,
		NumberOfRvaAndSizes:         16,
	}

	opt.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT] = idir
	opt.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IAT] = iatDir

	o.put(opt)

	for _, s := range secs {
		var name [8]uint8
		copy(name[:], s.name)

		o.put(pe.SectionHeader32{
			Name:             name,
			VirtualSize:      uint32(len(s.data)),
			VirtualAddress:   s.rva,
			SizeOfRawData:    uint32(alignUp(uint64(len(s.data)), peFileAlign)),
			PointerToRawData: s.raw,
			Characteristics:  s.flags,
		})
	}

	o.padTo(uint64(headersSize))

	for _, s := range secs {
		o.bytes(s.data)
		o.padTo(alignUp(o.len(), peFileAlign))
	}

	return o.b, nil
}

// peImportDesc is the on-disk import descriptor. pe.ImportDirectory
// carries an unexported field and cannot be encoded.
type peImportDesc struct {
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32
}

// peImportData builds the .idata contents placed at rva: the import
// directory, per DLL lookup and address tables, hint/name entries and DLL
// names. It returns the IAT slot of every imported symbol.
func peImportData(imports []peImport, rva uint32) (b []byte, slots map[string]uint32, dir, iatDir pe.DataDirectory) {
	var dlls []string

	funcs := map[string][]peImport{}

	for _, imp := range imports {
		if _, ok := funcs[imp.dll]; !ok {
			dlls = append(dlls, imp.dll)
		}

		funcs[imp.dll] = append(funcs[imp.dll], imp)
	}

	slices.Sort(dlls)

	hintSize := func(fn string) uint32 {
		return uint32(alignUp(uint64(2+len(fn)+1), 2))
	}

	type dllLayout struct {
		ilt, iat, hints, name uint32
	}

	layouts := make([]dllLayout, len(dlls))

	off := uint32((len(dlls) + 1) * 20)

	for i, d := range dlls {
		n := uint32(len(funcs[d])+1) * 8

		layouts[i].ilt = off
		off += n
	}

	iatStart := off

	for i, d := range dlls {
		n := uint32(len(funcs[d])+1) * 8

		layouts[i].iat = off
		off += n
	}

	iatEnd := off

	for i, d := range dlls {
		layouts[i].hints = off

		for _, imp := range funcs[d] {
			off += hintSize(imp.fn)
		}
	}

	for i, d := range dlls {
		layouts[i].name = off
		off += uint32(len(d) + 1)
	}

	o := &out{}
	slots = map[string]uint32{}

	for i := range dlls {
		l := layouts[i]
		o.put(peImportDesc{
			OriginalFirstThunk: rva + l.ilt,
			Name:               rva + l.name,
			FirstThunk:         rva + l.iat,
		})
	}

	o.padTo(o.len() + 20)

	thunks := func(i int) {
		h := layouts[i].hints

		for _, imp := range funcs[dlls[i]] {
			o.put(uint64(rva + h))
			h += hintSize(imp.fn)
		}

		o.put(uint64(0))
	}

	for i := range dlls {
		thunks(i)
	}

	for i, d := range dlls {
		for j, imp := range funcs[d] {
			slots[imp.sym] = rva + layouts[i].iat + uint32(8*j)
		}

		thunks(i)
	}

	for _, d := range dlls {
		for _, imp := range funcs[d] {
			start := o.len()

			o.put(uint16(0))
			o.bytes([]byte(imp.fn))
			o.put(uint8(0))
			o.padTo(start + uint64(hintSize(imp.fn)))
		}
	}

	for _, d := range dlls {
		o.bytes([]byte(d))
		o.put(uint8(0))
	}

	dir = pe.DataDirectory{VirtualAddress: rva, Size: uint32((len(dlls) + 1) * 20)}
	iatDir = pe.DataDirectory{VirtualAddress: rva + iatStart, Size: iatEnd - iatStart}

	return o.b, slots, dir, iatDir
}
