package pe

import (
	"errors"
	"fmt"
)

// Error kinds reported by the parser. Failures wrap one of these with the
// offending offset or address; classify them with errors.Is.
var (
	// ErrInvalidSignature means the bytes at e_lfanew are not "PE\0\0".
	ErrInvalidSignature = errors.New("无效的PE签名")
	// ErrUnsupportedMagic means the optional header magic is neither PE32 nor PE32+.
	ErrUnsupportedMagic = errors.New("不支持的可选头魔数")
	ErrOffsetOutOfRange = errors.New("文件偏移超出范围")
	ErrTruncatedRead    = errors.New("读取被截断")
	// ErrUnterminatedString means no NUL was found within the string limit.
	ErrUnterminatedString = errors.New("字符串未终止")
	ErrUnmappedRVA        = errors.New("RVA 不在任何节区中")
	// ErrTooManyEntries means a sentinel-terminated table ran past its entry budget.
	ErrTooManyEntries = errors.New("表项数量超出上限")
)

// ImportError records a DLL whose imports could not be resolved when the
// parser runs in lenient mode.
type ImportError struct {
	Index int    // Position of the descriptor in the Import Directory Table.
	DLL   string // Empty when the name itself could not be read.
	Err   error
}

func (e *ImportError) Error() string {
	if e.DLL == "" {
		return fmt.Sprintf("导入描述符 #%d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("导入描述符 #%d (%s): %v", e.Index, e.DLL, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
