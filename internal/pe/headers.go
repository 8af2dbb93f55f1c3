package pe

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"
)

// Optional header magic values.
const (
	MagicPE32     uint16 = 0x10B
	MagicPE32Plus uint16 = 0x20B
)

// On-disk record sizes.
const (
	coffHeaderSize       = 20
	optionalHeader32Size = 96
	optionalHeader64Size = 112
	dataDirectorySize    = 8
	sectionHeaderSize    = 40
	importDescriptorSize = 20
	hintSize             = 2
	peSignatureSize      = 4
	dosLfanewOffset      = 0x3C
)

// Data directory indices.
const (
	DirectoryExport = iota
	DirectoryImport
	DirectoryResource
	DirectoryException
	DirectoryCertificate
	DirectoryBaseReloc
	DirectoryDebug
	DirectoryArchitecture
	DirectoryGlobalPtr
	DirectoryTLS
	DirectoryLoadConfig
	DirectoryBoundImport
	DirectoryIAT
	DirectoryDelayImport
	DirectoryCLR
	DirectoryReserved
)

// CoffHeader is the COFF file header that follows the PE signature.
type CoffHeader struct {
	Machine              uint16 `struc:"uint16,little"`
	NumberOfSections     uint16 `struc:"uint16,little"`
	TimeDateStamp        uint32 `struc:"uint32,little"`
	PointerToSymbolTable uint32 `struc:"uint32,little"`
	NumberOfSymbols      uint32 `struc:"uint32,little"`
	SizeOfOptionalHeader uint16 `struc:"uint16,little"`
	Characteristics      uint16 `struc:"uint16,little"`
}

// OptionalHeader is either *OptionalHeader32 or *OptionalHeader64. Callers
// select behaviour with a type switch.
type OptionalHeader interface {
	// DirectoryCount returns NumberOfRvaAndSizes.
	DirectoryCount() uint32
	// EntryPoint returns AddressOfEntryPoint.
	EntryPoint() RVA
	staticSize() int
}

// OptionalHeader32 is the PE32 layout (magic 0x10B).
type OptionalHeader32 struct {
	Magic                       uint16 `struc:"uint16,little"`
	MajorLinkerVersion          uint8  `struc:"uint8"`
	MinorLinkerVersion          uint8  `struc:"uint8"`
	SizeOfCode                  uint32 `struc:"uint32,little"`
	SizeOfInitializedData       uint32 `struc:"uint32,little"`
	SizeOfUninitializedData     uint32 `struc:"uint32,little"`
	AddressOfEntryPoint         uint32 `struc:"uint32,little"`
	BaseOfCode                  uint32 `struc:"uint32,little"`
	BaseOfData                  uint32 `struc:"uint32,little"`
	ImageBase                   uint32 `struc:"uint32,little"`
	SectionAlignment            uint32 `struc:"uint32,little"`
	FileAlignment               uint32 `struc:"uint32,little"`
	MajorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MinorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MajorImageVersion           uint16 `struc:"uint16,little"`
	MinorImageVersion           uint16 `struc:"uint16,little"`
	MajorSubsystemVersion       uint16 `struc:"uint16,little"`
	MinorSubsystemVersion       uint16 `struc:"uint16,little"`
	Win32VersionValue           uint32 `struc:"uint32,little"`
	SizeOfImage                 uint32 `struc:"uint32,little"`
	SizeOfHeaders               uint32 `struc:"uint32,little"`
	CheckSum                    uint32 `struc:"uint32,little"`
	Subsystem                   uint16 `struc:"uint16,little"`
	DllCharacteristics          uint16 `struc:"uint16,little"`
	SizeOfStackReserve          uint32 `struc:"uint32,little"`
	SizeOfStackCommit           uint32 `struc:"uint32,little"`
	SizeOfHeapReserve           uint32 `struc:"uint32,little"`
	SizeOfHeapCommit            uint32 `struc:"uint32,little"`
	LoaderFlags                 uint32 `struc:"uint32,little"`
	NumberOfRvaAndSizes         uint32 `struc:"uint32,little"`
}

func (h *OptionalHeader32) DirectoryCount() uint32 { return h.NumberOfRvaAndSizes }
func (h *OptionalHeader32) EntryPoint() RVA        { return RVA(h.AddressOfEntryPoint) }
func (h *OptionalHeader32) staticSize() int        { return optionalHeader32Size }

// OptionalHeader64 is the PE32+ layout (magic 0x20B). It has no BaseOfData
// and widens the image base and the stack/heap sizes to 64 bits.
type OptionalHeader64 struct {
	Magic                       uint16 `struc:"uint16,little"`
	MajorLinkerVersion          uint8  `struc:"uint8"`
	MinorLinkerVersion          uint8  `struc:"uint8"`
	SizeOfCode                  uint32 `struc:"uint32,little"`
	SizeOfInitializedData       uint32 `struc:"uint32,little"`
	SizeOfUninitializedData     uint32 `struc:"uint32,little"`
	AddressOfEntryPoint         uint32 `struc:"uint32,little"`
	BaseOfCode                  uint32 `struc:"uint32,little"`
	ImageBase                   uint64 `struc:"uint64,little"`
	SectionAlignment            uint32 `struc:"uint32,little"`
	FileAlignment               uint32 `struc:"uint32,little"`
	MajorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MinorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MajorImageVersion           uint16 `struc:"uint16,little"`
	MinorImageVersion           uint16 `struc:"uint16,little"`
	MajorSubsystemVersion       uint16 `struc:"uint16,little"`
	MinorSubsystemVersion       uint16 `struc:"uint16,little"`
	Win32VersionValue           uint32 `struc:"uint32,little"`
	SizeOfImage                 uint32 `struc:"uint32,little"`
	SizeOfHeaders               uint32 `struc:"uint32,little"`
	CheckSum                    uint32 `struc:"uint32,little"`
	Subsystem                   uint16 `struc:"uint16,little"`
	DllCharacteristics          uint16 `struc:"uint16,little"`
	SizeOfStackReserve          uint64 `struc:"uint64,little"`
	SizeOfStackCommit           uint64 `struc:"uint64,little"`
	SizeOfHeapReserve           uint64 `struc:"uint64,little"`
	SizeOfHeapCommit            uint64 `struc:"uint64,little"`
	LoaderFlags                 uint32 `struc:"uint32,little"`
	NumberOfRvaAndSizes         uint32 `struc:"uint32,little"`
}

func (h *OptionalHeader64) DirectoryCount() uint32 { return h.NumberOfRvaAndSizes }
func (h *OptionalHeader64) EntryPoint() RVA        { return RVA(h.AddressOfEntryPoint) }
func (h *OptionalHeader64) staticSize() int        { return optionalHeader64Size }

// DataDirectory locates a subsystem table by RVA and size.
type DataDirectory struct {
	VirtualAddress uint32 `struc:"uint32,little"`
	Size           uint32 `struc:"uint32,little"`
}

// Section is one section table entry.
type Section struct {
	// Name is raw: it may fill all 8 bytes without a terminator.
	Name                 [8]byte `struc:"[8]byte"`
	VirtualSize          uint32  `struc:"uint32,little"`
	VirtualAddress       uint32  `struc:"uint32,little"`
	SizeOfRawData        uint32  `struc:"uint32,little"`
	PointerToRawData     uint32  `struc:"uint32,little"`
	PointerToRelocations uint32  `struc:"uint32,little"`
	PointerToLinenumbers uint32  `struc:"uint32,little"`
	NumberOfRelocations  uint16  `struc:"uint16,little"`
	NumberOfLinenumbers  uint16  `struc:"uint16,little"`
	Characteristics      uint32  `struc:"uint32,little"`
}

// NameString returns the section name up to the first NUL.
func (s *Section) NameString() string {
	if i := bytes.IndexByte(s.Name[:], 0); i >= 0 {
		return string(s.Name[:i])
	}
	return string(s.Name[:])
}

// ImportDescriptor is one Import Directory Table entry.
type ImportDescriptor struct {
	OriginalFirstThunk uint32 `struc:"uint32,little"` // RVA of the Import Lookup Table.
	TimeDateStamp      uint32 `struc:"uint32,little"`
	ForwarderChain     uint32 `struc:"uint32,little"`
	Name               uint32 `struc:"uint32,little"` // RVA of the DLL name.
	FirstThunk         uint32 `struc:"uint32,little"` // RVA of the Import Address Table.
}

func (d ImportDescriptor) isZero() bool {
	return d == ImportDescriptor{}
}

// unpack decodes a fixed-size record from a buffer already bounds-checked by
// ReadExact.
func unpack(buf []byte, v interface{}) error {
	if err := struc.Unpack(bytes.NewReader(buf), v); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncatedRead, err)
	}
	return nil
}

// readRecord reads size bytes at the cursor and decodes them into v.
func readRecord(r *Reader, size int, v interface{}) error {
	buf, err := r.ReadExact(size)
	if err != nil {
		return err
	}
	return unpack(buf, v)
}
