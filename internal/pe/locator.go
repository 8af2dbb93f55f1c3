package pe

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

var peSignature = []byte{'P', 'E', 0, 0}

// Layout holds the file offsets of each header, computed in order from
// e_lfanew.
type Layout struct {
	PEOffset             FileOffset
	COFFOffset           FileOffset
	OptionalHeaderOffset FileOffset
	// DataDirectoryOffset follows the static size of the selected optional
	// header. Zero when there is no optional header.
	DataDirectoryOffset FileOffset
	// SectionTableOffset uses the declared SizeOfOptionalHeader.
	SectionTableOffset FileOffset
}

// Headers is the result of locating and decoding the fixed headers.
type Headers struct {
	Layout Layout
	COFF   CoffHeader
	// Optional is nil for object files (SizeOfOptionalHeader == 0).
	Optional OptionalHeader
}

// LocateHeaders follows e_lfanew to the PE signature, decodes the COFF
// header and, when one is declared, the optional header selected by its
// magic value.
func LocateHeaders(r *Reader, logger hclog.Logger) (*Headers, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var h Headers

	// e_lfanew.
	if err := r.Seek(dosLfanewOffset); err != nil {
		return nil, fmt.Errorf("读取DOS头失败: %w", err)
	}
	lfanew, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("读取DOS头失败: %w", err)
	}
	h.Layout.PEOffset = FileOffset(lfanew)

	if err := r.Seek(h.Layout.PEOffset); err != nil {
		return nil, fmt.Errorf("定位PE签名失败: %w", err)
	}
	sig, err := r.ReadExact(peSignatureSize)
	if err != nil {
		return nil, fmt.Errorf("读取PE签名失败: %w", err)
	}
	if !bytes.Equal(sig, peSignature) {
		return nil, fmt.Errorf("%w: 偏移 0x%X 处为 %q", ErrInvalidSignature, int64(h.Layout.PEOffset), sig)
	}

	h.Layout.COFFOffset = h.Layout.PEOffset + peSignatureSize
	if err := readRecord(r, coffHeaderSize, &h.COFF); err != nil {
		return nil, fmt.Errorf("读取COFF头失败: %w", err)
	}

	h.Layout.OptionalHeaderOffset = h.Layout.COFFOffset + coffHeaderSize
	h.Layout.SectionTableOffset = h.Layout.OptionalHeaderOffset + FileOffset(h.COFF.SizeOfOptionalHeader)

	logger.Trace("located COFF header",
		"pe_offset", fmt.Sprintf("0x%x", int64(h.Layout.PEOffset)),
		"coff_offset", fmt.Sprintf("0x%x", int64(h.Layout.COFFOffset)),
		"sections", h.COFF.NumberOfSections,
		"optional_header_size", h.COFF.SizeOfOptionalHeader)

	if h.COFF.SizeOfOptionalHeader == 0 {
		logger.Debug("no optional header, treating file as an object")
		return &h, nil
	}

	opt, err := readOptionalHeader(r, h.Layout.OptionalHeaderOffset)
	if err != nil {
		return nil, err
	}
	h.Optional = opt
	h.Layout.DataDirectoryOffset = h.Layout.OptionalHeaderOffset + FileOffset(opt.staticSize())

	logger.Trace("located optional header",
		"optional_header_offset", fmt.Sprintf("0x%x", int64(h.Layout.OptionalHeaderOffset)),
		"data_directory_offset", fmt.Sprintf("0x%x", int64(h.Layout.DataDirectoryOffset)),
		"section_table_offset", fmt.Sprintf("0x%x", int64(h.Layout.SectionTableOffset)),
		"directories", opt.DirectoryCount())

	return &h, nil
}

// readOptionalHeader peeks the magic and decodes the matching layout.
func readOptionalHeader(r *Reader, off FileOffset) (OptionalHeader, error) {
	if err := r.Seek(off); err != nil {
		return nil, fmt.Errorf("定位可选头失败: %w", err)
	}
	magic, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("读取可选头魔数失败: %w", err)
	}

	var opt OptionalHeader
	switch magic {
	case MagicPE32:
		opt = &OptionalHeader32{}
	case MagicPE32Plus:
		opt = &OptionalHeader64{}
	default:
		return nil, fmt.Errorf("%w: 0x%X", ErrUnsupportedMagic, magic)
	}

	if err := r.Seek(off); err != nil {
		return nil, fmt.Errorf("定位可选头失败: %w", err)
	}
	if err := readRecord(r, opt.staticSize(), opt); err != nil {
		return nil, fmt.Errorf("读取可选头失败: %w", err)
	}
	return opt, nil
}
