package pe

import (
	"fmt"
)

// ToFileOffset maps an RVA to a file offset through the first section, in
// table order, whose [VirtualAddress, VirtualAddress+VirtualSize) range
// contains it. Overlapping sections are resolved by that order.
func ToFileOffset(rva RVA, sections []Section) (FileOffset, error) {
	if i := sectionIndex(rva, sections); i >= 0 {
		s := &sections[i]
		return FileOffset(s.PointerToRawData) + FileOffset(uint32(rva)-s.VirtualAddress), nil
	}
	return 0, fmt.Errorf("%w: 0x%X", ErrUnmappedRVA, uint32(rva))
}

// SectionFor returns the section that maps rva, or nil.
func SectionFor(rva RVA, sections []Section) *Section {
	if i := sectionIndex(rva, sections); i >= 0 {
		return &sections[i]
	}
	return nil
}

func sectionIndex(rva RVA, sections []Section) int {
	v := uint32(rva)
	for i := range sections {
		s := &sections[i]
		// Subtraction avoids overflow of VirtualAddress+VirtualSize.
		if v >= s.VirtualAddress && v-s.VirtualAddress < s.VirtualSize {
			return i
		}
	}
	return -1
}
