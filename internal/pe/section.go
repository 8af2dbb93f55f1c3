package pe

import (
	"fmt"
)

// Section characteristic flags used for permissions.
const (
	ScnMemExecute uint32 = 0x20000000
	ScnMemRead    uint32 = 0x40000000
	ScnMemWrite   uint32 = 0x80000000
)

// ReadDataDirectories reads count contiguous data directory entries at off.
// A count of zero yields an empty table.
func ReadDataDirectories(r *Reader, off FileOffset, count uint32) ([]DataDirectory, error) {
	if count == 0 {
		return []DataDirectory{}, nil
	}

	buf, err := readTable(r, off, count, dataDirectorySize)
	if err != nil {
		return nil, fmt.Errorf("读取数据目录表失败: %w", err)
	}

	dirs := make([]DataDirectory, count)
	for i := range dirs {
		if err := unpack(buf[i*dataDirectorySize:(i+1)*dataDirectorySize], &dirs[i]); err != nil {
			return nil, fmt.Errorf("解析数据目录 #%d 失败: %w", i, err)
		}
	}
	return dirs, nil
}

// ReadSections reads count contiguous section table entries at off. The
// table is read in one piece, so a short file yields ErrTruncatedRead and
// never a partial table.
func ReadSections(r *Reader, off FileOffset, count uint16) ([]Section, error) {
	if count == 0 {
		return []Section{}, nil
	}

	buf, err := readTable(r, off, uint32(count), sectionHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("读取节区表失败: %w", err)
	}

	sections := make([]Section, count)
	for i := range sections {
		if err := unpack(buf[i*sectionHeaderSize:(i+1)*sectionHeaderSize], &sections[i]); err != nil {
			return nil, fmt.Errorf("解析节区 #%d 失败: %w", i, err)
		}
	}
	return sections, nil
}

func readTable(r *Reader, off FileOffset, count uint32, entrySize int) ([]byte, error) {
	if err := r.Seek(off); err != nil {
		return nil, err
	}
	total := int64(count) * int64(entrySize)
	if total > r.Size() {
		// Cannot fit in the file at all; report without allocating.
		if int64(off) >= r.Size() {
			return nil, fmt.Errorf("%w: 0x%X (文件大小 0x%X)", ErrOffsetOutOfRange, int64(off), r.Size())
		}
		return nil, fmt.Errorf("%w: 偏移 0x%X 需要 %d 字节, 仅剩 %d 字节",
			ErrTruncatedRead, int64(off), total, r.Size()-int64(off))
	}
	return r.ReadExact(int(total))
}

// Permissions renders the read/write/execute bits as e.g. "R-X".
func (s *Section) Permissions() string {
	return sectionPermissions(s.Characteristics)
}

func sectionPermissions(c uint32) string {
	perms := [3]rune{'-', '-', '-'}

	if c&ScnMemRead != 0 {
		perms[0] = 'R'
	}
	if c&ScnMemWrite != 0 {
		perms[1] = 'W'
	}
	if c&ScnMemExecute != 0 {
		perms[2] = 'X'
	}

	return string(perms[:])
}
