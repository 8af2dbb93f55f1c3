// Package pe parses the structure of Portable Executable images: the COFF
// header, the PE32/PE32+ optional header, data directories, the section
// table and the import table.
package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/edsrzf/mmap-go"
)

// DefaultMaxStringLen bounds C-string reads when no limit is configured.
const DefaultMaxStringLen = 512

// FileOffset indexes raw file bytes. It is never an RVA.
type FileOffset int64

// RVA is an address relative to the image's preferred load base. It must be
// translated with ToFileOffset before it can be used to read the file.
type RVA uint32

// Reader is a seekable random-access byte source with little-endian field
// reads. A Reader carries a cursor and is not safe for concurrent use.
type Reader struct {
	src          io.ReaderAt
	filepath     string
	size         int64
	pos          int64
	maxStringLen int

	mapping mmap.MMap
	file    *os.File
}

// Open maps a PE file read-only.
func Open(filepath string) (*Reader, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("打开PE文件失败: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("获取文件信息失败: %w", err)
	}

	r := &Reader{
		filepath:     filepath,
		size:         stat.Size(),
		maxStringLen: DefaultMaxStringLen,
		file:         f,
	}

	// Empty files cannot be mapped.
	if r.size == 0 {
		r.src = bytes.NewReader(nil)
		return r, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("映射PE文件失败: %w", err)
	}
	r.mapping = m
	r.src = bytes.NewReader(m)

	return r, nil
}

// NewReader wraps an arbitrary random-access source of the given size.
func NewReader(src io.ReaderAt, size int64) *Reader {
	return &Reader{
		src:          src,
		size:         size,
		maxStringLen: DefaultMaxStringLen,
	}
}

// NewBytesReader wraps an in-memory image.
func NewBytesReader(data []byte) *Reader {
	return NewReader(bytes.NewReader(data), int64(len(data)))
}

// Close releases the mapping and the underlying file, if any.
func (r *Reader) Close() error {
	var err error
	if r.mapping != nil {
		err = r.mapping.Unmap()
		r.mapping = nil
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
		r.file = nil
	}
	return err
}

// FilePath returns the file path, empty for in-memory sources.
func (r *Reader) FilePath() string {
	return r.filepath
}

// Size returns the file size in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// SetMaxStringLen changes the ReadCString limit. Non-positive values restore
// the default.
func (r *Reader) SetMaxStringLen(n int) {
	if n <= 0 {
		n = DefaultMaxStringLen
	}
	r.maxStringLen = n
}

// Offset returns the cursor position.
func (r *Reader) Offset() FileOffset {
	return FileOffset(r.pos)
}

// Seek repositions the cursor. Seeking to the end of the file is allowed;
// reading from there is not.
func (r *Reader) Seek(off FileOffset) error {
	if off < 0 || int64(off) > r.size {
		return fmt.Errorf("%w: 0x%X (文件大小 0x%X)", ErrOffsetOutOfRange, int64(off), r.size)
	}
	r.pos = int64(off)
	return nil
}

// ReadExact returns exactly n bytes from the cursor and advances it.
func (r *Reader) ReadExact(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: 读取长度 %d", ErrTruncatedRead, n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	if r.pos >= r.size {
		return nil, fmt.Errorf("%w: 0x%X (文件大小 0x%X)", ErrOffsetOutOfRange, r.pos, r.size)
	}
	if int64(n) > r.size-r.pos {
		return nil, fmt.Errorf("%w: 偏移 0x%X 需要 %d 字节, 仅剩 %d 字节",
			ErrTruncatedRead, r.pos, n, r.size-r.pos)
	}

	buf := make([]byte, n)
	read, err := r.src.ReadAt(buf, r.pos)
	if read < n {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: 偏移 0x%X: %v", ErrTruncatedRead, r.pos, err)
	}
	r.pos += int64(n)
	return buf, nil
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.ReadExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a little-endian 16-bit value.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadExact(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32 reads a little-endian 32-bit value.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64 reads a little-endian 64-bit value.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadExact(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadCString seeks to off and reads a NUL-terminated ASCII string. The
// cursor is left just past the terminator. Bytes at or above 0x80 are
// returned as \xNN escapes so the result is always printable ASCII text.
func (r *Reader) ReadCString(off FileOffset) (string, error) {
	if err := r.Seek(off); err != nil {
		return "", err
	}
	if r.pos >= r.size {
		return "", fmt.Errorf("%w: 0x%X (文件大小 0x%X)", ErrOffsetOutOfRange, r.pos, r.size)
	}

	const chunk = 64
	var result []byte

	for {
		remaining := r.size - r.pos
		if remaining == 0 {
			return "", fmt.Errorf("%w: 偏移 0x%X 处的字符串到文件末尾仍未终止", ErrUnterminatedString, int64(off))
		}

		n := int64(chunk)
		if n > remaining {
			n = remaining
		}
		buf, err := r.ReadExact(int(n))
		if err != nil {
			return "", err
		}

		if i := bytes.IndexByte(buf, 0); i >= 0 {
			result = append(result, buf[:i]...)
			if len(result) > r.maxStringLen {
				break
			}
			r.pos -= n - int64(i) - 1
			return asciiString(result), nil
		}

		result = append(result, buf...)
		if len(result) > r.maxStringLen {
			break
		}
	}

	return "", fmt.Errorf("%w: 偏移 0x%X 处的字符串超过 %d 字节", ErrUnterminatedString, int64(off), r.maxStringLen)
}

// asciiString converts raw name bytes, escaping anything outside 7-bit ASCII.
func asciiString(b []byte) string {
	i := 0
	for i < len(b) && b[i] < utf8.RuneSelf {
		i++
	}
	if i == len(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b) + 3*(len(b)-i))
	sb.Write(b[:i])
	for _, c := range b[i:] {
		if c < utf8.RuneSelf {
			sb.WriteByte(c)
			continue
		}
		fmt.Fprintf(&sb, "\\x%02X", c)
	}
	return sb.String()
}
