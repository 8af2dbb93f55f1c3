package pe

import (
	"encoding/binary"
)

// Synthetic image layout shared by the tests.
const (
	testLfanew      = 0x80
	testCOFFOffset  = testLfanew + 4
	testOptOffset   = testCOFFOffset + coffHeaderSize
	testTextRVA     = 0x1000
	testTextRaw     = 0x200
	testTextRawSize = 0x200
	testIdataRVA    = 0x2000
	testIdataRaw    = 0x400
	testTimestamp   = 0x5F5E1000
	testImageBase32 = 0x400000
	testImageBase64 = 0x140000000
)

type testFunc struct {
	name      string
	hint      uint16
	byOrdinal bool
	ordinal   uint64
	// rawThunk, when non-zero, is written verbatim as the lookup entry.
	rawThunk uint64
}

type testImport struct {
	dll   string
	funcs []testFunc
	// iatOnly leaves OriginalFirstThunk zero.
	iatOnly bool
	// nameRVA, when non-zero, overrides the DLL name RVA.
	nameRVA uint32
	// sharesILT points both thunk tables at the first import's lookup table.
	sharesILT bool
}

type testImage struct {
	is64 bool
	// numDirs defaults to 16 when zero and noDirs is false.
	numDirs uint32
	noDirs  bool
	// optPadding is declared in SizeOfOptionalHeader beyond the directories.
	optPadding uint16
	// imports nil leaves the import directory empty.
	imports []testImport
}

// idataLayout records where the builder placed each import structure,
// relative to the start of .idata.
type idataLayout struct {
	idt      uint32
	ilt      []uint32
	iat      []uint32
	names    []uint32
	hintName [][]uint32
}

func alignTo(v, a int) int {
	return (v + a - 1) / a * a
}

func (img testImage) thunkShape() (int, uint64) {
	if img.is64 {
		return 8, ordinalFlag64
	}
	return 4, ordinalFlag32
}

func (img testImage) directoryCount() uint32 {
	if img.noDirs {
		return 0
	}
	if img.numDirs == 0 {
		return 16
	}
	return img.numDirs
}

func (img testImage) optionalSize() int {
	if img.is64 {
		return optionalHeader64Size
	}
	return optionalHeader32Size
}

// buildIdata lays out the IDT, then every ILT and IAT, then DLL names, then
// hint/name entries.
func (img testImage) buildIdata() ([]byte, idataLayout) {
	width, flag := img.thunkShape()
	var l idataLayout

	pos := (len(img.imports) + 1) * importDescriptorSize
	for _, imp := range img.imports {
		l.ilt = append(l.ilt, uint32(pos))
		pos += (len(imp.funcs) + 1) * width
		l.iat = append(l.iat, uint32(pos))
		pos += (len(imp.funcs) + 1) * width
	}
	for _, imp := range img.imports {
		l.names = append(l.names, uint32(pos))
		pos += len(imp.dll) + 1
	}
	pos = alignTo(pos, 2)
	for _, imp := range img.imports {
		var hn []uint32
		for _, fn := range imp.funcs {
			hn = append(hn, uint32(pos))
			if !fn.byOrdinal && fn.rawThunk == 0 {
				pos = alignTo(pos+hintSize+len(fn.name)+1, 2)
			}
		}
		l.hintName = append(l.hintName, hn)
	}

	data := make([]byte, pos)
	le := binary.LittleEndian

	for i, imp := range img.imports {
		d := data[i*importDescriptorSize:]
		if !imp.iatOnly {
			le.PutUint32(d[0:], testIdataRVA+l.ilt[i])
		}
		nameRVA := testIdataRVA + l.names[i]
		if imp.nameRVA != 0 {
			nameRVA = imp.nameRVA
		}
		le.PutUint32(d[12:], nameRVA)
		le.PutUint32(d[16:], testIdataRVA+l.iat[i])
		if imp.sharesILT {
			le.PutUint32(d[0:], testIdataRVA+l.ilt[0])
			le.PutUint32(d[16:], testIdataRVA+l.ilt[0])
		}

		copy(data[l.names[i]:], imp.dll)

		for j, fn := range imp.funcs {
			var thunk uint64
			switch {
			case fn.rawThunk != 0:
				thunk = fn.rawThunk
			case fn.byOrdinal:
				thunk = flag | fn.ordinal
			default:
				at := l.hintName[i][j]
				thunk = uint64(testIdataRVA + at)
				le.PutUint16(data[at:], fn.hint)
				copy(data[at+hintSize:], fn.name)
			}
			for _, table := range []uint32{l.ilt[i], l.iat[i]} {
				off := int(table) + j*width
				if width == 8 {
					le.PutUint64(data[off:], thunk)
				} else {
					le.PutUint32(data[off:], uint32(thunk))
				}
			}
		}
	}

	return data, l
}

// build assembles the image: DOS stub, headers, .text and .idata.
func (img testImage) build() []byte {
	le := binary.LittleEndian
	idata, _ := img.buildIdata()
	idataRawSize := alignTo(len(idata), 0x200)
	if idataRawSize == 0 {
		idataRawSize = 0x200
	}

	buf := make([]byte, testIdataRaw+idataRawSize)
	buf[0], buf[1] = 'M', 'Z'
	le.PutUint32(buf[0x3C:], testLfanew)
	copy(buf[testLfanew:], "PE\x00\x00")

	optSize := img.optionalSize()
	dirCount := img.directoryCount()
	sizeOfOpt := optSize + int(dirCount)*dataDirectorySize + int(img.optPadding)

	coff := buf[testCOFFOffset:]
	characteristics := uint16(0x0102)
	machine := uint16(0x14c)
	if img.is64 {
		machine = 0x8664
		characteristics = 0x0022
	}
	le.PutUint16(coff[0:], machine)
	le.PutUint16(coff[2:], 2)
	le.PutUint32(coff[4:], testTimestamp)
	le.PutUint16(coff[16:], uint16(sizeOfOpt))
	le.PutUint16(coff[18:], characteristics)

	opt := buf[testOptOffset:]
	le.PutUint32(opt[4:], testTextRawSize)
	le.PutUint32(opt[16:], testTextRVA+0x10)
	le.PutUint32(opt[20:], testTextRVA)
	opt[2] = 14
	if img.is64 {
		le.PutUint16(opt[0:], MagicPE32Plus)
		le.PutUint64(opt[24:], testImageBase64)
		le.PutUint64(opt[72:], 0x100000)
	} else {
		le.PutUint16(opt[0:], MagicPE32)
		le.PutUint32(opt[24:], testIdataRVA)
		le.PutUint32(opt[28:], testImageBase32)
		le.PutUint32(opt[72:], 0x100000)
	}
	le.PutUint32(opt[32:], 0x1000)
	le.PutUint32(opt[36:], 0x200)
	le.PutUint32(opt[56:], testIdataRVA+uint32(alignTo(idataRawSize, 0x1000)))
	le.PutUint32(opt[60:], testTextRaw)
	le.PutUint16(opt[68:], 3)
	le.PutUint32(opt[optSize-4:], dirCount)

	if img.imports != nil && dirCount > DirectoryImport {
		dir := opt[optSize+DirectoryImport*dataDirectorySize:]
		le.PutUint32(dir[0:], testIdataRVA)
		le.PutUint32(dir[4:], uint32((len(img.imports)+1)*importDescriptorSize))
	}

	sections := buf[testOptOffset+sizeOfOpt:]
	writeTestSection(sections[0:], ".text", testTextRVA, 0x100, testTextRaw, testTextRawSize, 0x60000020)
	writeTestSection(sections[sectionHeaderSize:], ".idata", testIdataRVA, uint32(len(idata)), testIdataRaw, uint32(idataRawSize), 0xC0000040)

	copy(buf[testIdataRaw:], idata)
	return buf
}

func writeTestSection(b []byte, name string, va, vsize, raw, rawSize, characteristics uint32) {
	le := binary.LittleEndian
	copy(b[0:8], name)
	le.PutUint32(b[8:], vsize)
	le.PutUint32(b[12:], va)
	le.PutUint32(b[16:], rawSize)
	le.PutUint32(b[20:], raw)
	le.PutUint32(b[36:], characteristics)
}

// sectionTableOffset returns where build placed the section table.
func (img testImage) sectionTableOffset() int {
	return testOptOffset + img.optionalSize() + int(img.directoryCount())*dataDirectorySize + int(img.optPadding)
}

func defaultImports() []testImport {
	return []testImport{
		{
			dll: "KERNEL32.dll",
			funcs: []testFunc{
				{name: "ExitProcess", hint: 0x120},
				{name: "GetStdHandle", hint: 0x2D5},
				{byOrdinal: true, ordinal: 17},
			},
		},
		{
			dll: "USER32.dll",
			funcs: []testFunc{
				{name: "MessageBoxA", hint: 0x28C},
			},
		},
	}
}
