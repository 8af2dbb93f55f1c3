package pe

import (
	"errors"
	"fmt"
	"math"
)

// Ordinal flags of Import Lookup Table entries.
const (
	ordinalFlag32 uint64 = 0x80000000
	ordinalFlag64 uint64 = 0x8000000000000000
)

// ImportedFunction is one decoded Import Lookup Table entry.
type ImportedFunction struct {
	ByOrdinal bool
	// Ordinal is the entry value with the ordinal flag cleared.
	Ordinal uint64
	Hint    uint16
	Name    string
	// Thunk is the raw lookup table value.
	Thunk uint64
}

// String returns the function name, or "#<ordinal>" for ordinal imports.
func (f ImportedFunction) String() string {
	if f.ByOrdinal {
		return fmt.Sprintf("#%d", f.Ordinal)
	}
	return f.Name
}

// ImportedDLL is the resolved import list of one DLL.
type ImportedDLL struct {
	Name       string
	Descriptor ImportDescriptor
	// FunctionCount is the number of lookup entries before the sentinel.
	FunctionCount int
	Functions     []ImportedFunction
}

// DescriptorWalker yields Import Directory Table entries until the all-zero
// sentinel. Reset restarts the walk from the first entry.
type DescriptorWalker struct {
	r     *Reader
	start FileOffset
	limit int

	index int
	cur   ImportDescriptor
	err   error
	done  bool
}

// NewDescriptorWalker walks the table at start. limit bounds the number of
// non-sentinel entries; zero derives it from the file size.
func NewDescriptorWalker(r *Reader, start FileOffset, limit int) *DescriptorWalker {
	if limit <= 0 {
		limit = entryBudget(r, importDescriptorSize)
	}
	return &DescriptorWalker{r: r, start: start, limit: limit}
}

// Next decodes the next entry. It returns false at the sentinel or on error.
func (w *DescriptorWalker) Next() bool {
	if w.done || w.err != nil {
		return false
	}

	off := w.start + FileOffset(w.index)*importDescriptorSize
	if err := w.r.Seek(off); err != nil {
		w.err = fmt.Errorf("读取导入描述符 #%d 失败: %w", w.index, err)
		return false
	}
	var d ImportDescriptor
	if err := readRecord(w.r, importDescriptorSize, &d); err != nil {
		w.err = fmt.Errorf("读取导入描述符 #%d 失败: %w", w.index, err)
		return false
	}

	if d.isZero() {
		w.done = true
		return false
	}
	if w.index >= w.limit {
		w.err = fmt.Errorf("%w: 导入目录表超过 %d 项", ErrTooManyEntries, w.limit)
		return false
	}

	w.cur = d
	w.index++
	return true
}

// Descriptor returns the entry decoded by the last successful Next.
func (w *DescriptorWalker) Descriptor() ImportDescriptor {
	return w.cur
}

// Index returns the table position of the current entry.
func (w *DescriptorWalker) Index() int {
	return w.index - 1
}

// Err returns the error that stopped the walk, if any.
func (w *DescriptorWalker) Err() error {
	return w.err
}

// Reset rewinds the walker to the first entry.
func (w *DescriptorWalker) Reset() {
	w.index = 0
	w.cur = ImportDescriptor{}
	w.err = nil
	w.done = false
}

// LookupWalker yields raw Import Lookup Table entries until the zero
// sentinel. Entries are 32 bits wide for PE32 images and 64 bits for PE32+.
type LookupWalker struct {
	r           *Reader
	start       FileOffset
	width       int
	ordinalFlag uint64
	limit       int

	index int
	cur   uint64
	err   error
	done  bool
}

// NewLookupWalker walks the lookup table at start using the entry shape of
// opt. limit zero derives the budget from the file size.
func NewLookupWalker(r *Reader, start FileOffset, opt OptionalHeader, limit int) (*LookupWalker, error) {
	w := &LookupWalker{r: r, start: start}

	switch opt.(type) {
	case *OptionalHeader32:
		w.width, w.ordinalFlag = 4, ordinalFlag32
	case *OptionalHeader64:
		w.width, w.ordinalFlag = 8, ordinalFlag64
	default:
		return nil, errors.New("缺少可选头, 无法确定导入查找表项宽度")
	}

	if limit <= 0 {
		limit = entryBudget(r, w.width)
	}
	w.limit = limit
	return w, nil
}

// Next reads the next entry. It returns false at the sentinel or on error.
func (w *LookupWalker) Next() bool {
	if w.done || w.err != nil {
		return false
	}

	off := w.start + FileOffset(w.index*w.width)
	if err := w.r.Seek(off); err != nil {
		w.err = fmt.Errorf("读取导入查找表项 #%d 失败: %w", w.index, err)
		return false
	}

	var v uint64
	var err error
	if w.width == 8 {
		v, err = w.r.ReadUint64()
	} else {
		var v32 uint32
		v32, err = w.r.ReadUint32()
		v = uint64(v32)
	}
	if err != nil {
		w.err = fmt.Errorf("读取导入查找表项 #%d 失败: %w", w.index, err)
		return false
	}

	if v == 0 {
		w.done = true
		return false
	}
	if w.index >= w.limit {
		w.err = fmt.Errorf("%w: 导入查找表超过 %d 项", ErrTooManyEntries, w.limit)
		return false
	}

	w.cur = v
	w.index++
	return true
}

// Entry returns the raw value read by the last successful Next.
func (w *LookupWalker) Entry() uint64 {
	return w.cur
}

// IsOrdinal reports whether the current entry imports by ordinal.
func (w *LookupWalker) IsOrdinal() bool {
	return w.cur&w.ordinalFlag != 0
}

// Err returns the error that stopped the walk, if any.
func (w *LookupWalker) Err() error {
	return w.err
}

// Reset rewinds the walker to the first entry.
func (w *LookupWalker) Reset() {
	w.index = 0
	w.cur = 0
	w.err = nil
	w.done = false
}

// ResolveImports walks the Import Directory Table and each DLL's Import
// Lookup Table.
//
// An image without an optional header, with fewer than two data
// directories, with an empty import directory or without sections has no
// imports; that is not an error. In strict mode the first failure aborts
// resolution. In lenient mode a failing DLL is skipped and reported in the
// returned ImportError slice; a failure reading the directory table itself
// still aborts.
//
// Every directory and lookup entry visited is charged to one budget of
// file size / 4 entries, so descriptors sharing a lookup table cannot
// multiply the work. Exhausting it aborts in both modes.
// opts.MaxStringLen is applied to r.
func ResolveImports(r *Reader, opt OptionalHeader, dirs []DataDirectory, sections []Section, opts Options) ([]ImportedDLL, []*ImportError, error) {
	logger := opts.logger()
	dlls := []ImportedDLL{}
	r.SetMaxStringLen(opts.MaxStringLen)

	if opt == nil || len(dirs) <= DirectoryImport || len(sections) == 0 {
		logger.Debug("import resolution skipped",
			"has_optional_header", opt != nil, "directories", len(dirs), "sections", len(sections))
		return dlls, nil, nil
	}

	importDir := dirs[DirectoryImport]
	if importDir.VirtualAddress == 0 {
		logger.Debug("import directory is empty")
		return dlls, nil, nil
	}

	idtOffset, err := ToFileOffset(RVA(importDir.VirtualAddress), sections)
	if err != nil {
		return nil, nil, fmt.Errorf("定位导入目录表失败: %w", err)
	}
	logger.Trace("mapped import directory",
		"rva", fmt.Sprintf("0x%x", importDir.VirtualAddress),
		"file_offset", fmt.Sprintf("0x%x", int64(idtOffset)))

	var skipped []*ImportError
	budget := newResolveBudget(entryBudget(r, 4))
	walker := NewDescriptorWalker(r, idtOffset, opts.MaxEntries)
	for walker.Next() {
		if err := budget.charge(); err != nil {
			return nil, nil, fmt.Errorf("遍历导入目录表失败: %w", err)
		}
		desc := walker.Descriptor()
		dll, err := resolveDLL(r, opt, desc, sections, budget, opts)
		if err != nil {
			ierr := &ImportError{Index: walker.Index(), DLL: dll.Name, Err: err}
			if budget.exhausted() {
				return nil, nil, fmt.Errorf("解析导入失败: %w", ierr)
			}
			if !opts.Lenient {
				return nil, nil, fmt.Errorf("解析导入失败: %w", ierr)
			}
			logger.Warn("skipping unreadable import descriptor", "index", ierr.Index, "dll", ierr.DLL, "error", err)
			skipped = append(skipped, ierr)
			continue
		}

		logger.Debug("resolved DLL imports", "dll", dll.Name, "functions", dll.FunctionCount)
		dlls = append(dlls, dll)
	}
	if err := walker.Err(); err != nil {
		return nil, nil, fmt.Errorf("遍历导入目录表失败: %w", err)
	}

	return dlls, skipped, nil
}

// resolveDLL reads the DLL name and walks its lookup table. The returned
// value carries the name even on failure, when it was readable.
func resolveDLL(r *Reader, opt OptionalHeader, desc ImportDescriptor, sections []Section, budget *resolveBudget, opts Options) (ImportedDLL, error) {
	logger := opts.logger()
	dll := ImportedDLL{Descriptor: desc}

	nameOffset, err := ToFileOffset(RVA(desc.Name), sections)
	if err != nil {
		return dll, fmt.Errorf("定位DLL名称失败: %w", err)
	}
	name, err := r.ReadCString(nameOffset)
	if err != nil {
		return dll, fmt.Errorf("读取DLL名称失败: %w", err)
	}
	dll.Name = name

	// Some linkers leave the lookup table RVA zero and only fill the IAT.
	iltRVA := desc.OriginalFirstThunk
	if iltRVA == 0 {
		iltRVA = desc.FirstThunk
	}
	iltOffset, err := ToFileOffset(RVA(iltRVA), sections)
	if err != nil {
		return dll, fmt.Errorf("定位导入查找表失败: %w", err)
	}
	logger.Trace("walking import lookup table",
		"dll", name,
		"ilt_rva", fmt.Sprintf("0x%x", iltRVA),
		"file_offset", fmt.Sprintf("0x%x", int64(iltOffset)))

	walker, err := NewLookupWalker(r, iltOffset, opt, opts.MaxEntries)
	if err != nil {
		return dll, err
	}

	functions := []ImportedFunction{}
	for walker.Next() {
		if err := budget.charge(); err != nil {
			return dll, err
		}
		fn, err := decodeLookupEntry(r, walker.Entry(), walker.ordinalFlag, sections)
		if err != nil {
			return dll, fmt.Errorf("解析导入函数 #%d 失败: %w", len(functions), err)
		}
		functions = append(functions, fn)
	}
	if err := walker.Err(); err != nil {
		return dll, err
	}

	dll.Functions = functions
	dll.FunctionCount = len(functions)
	return dll, nil
}

// decodeLookupEntry turns a non-zero lookup value into an ordinal import or
// a hint/name import read at the referenced RVA.
func decodeLookupEntry(r *Reader, thunk, flag uint64, sections []Section) (ImportedFunction, error) {
	fn := ImportedFunction{Thunk: thunk}

	if thunk&flag != 0 {
		fn.ByOrdinal = true
		fn.Ordinal = thunk &^ flag
		return fn, nil
	}

	if thunk > math.MaxUint32 {
		return fn, fmt.Errorf("%w: 0x%X", ErrUnmappedRVA, thunk)
	}
	off, err := ToFileOffset(RVA(thunk), sections)
	if err != nil {
		return fn, fmt.Errorf("定位提示/名称表项失败: %w", err)
	}

	if err := r.Seek(off); err != nil {
		return fn, err
	}
	hint, err := r.ReadUint16()
	if err != nil {
		return fn, fmt.Errorf("读取提示值失败: %w", err)
	}
	name, err := r.ReadCString(off + hintSize)
	if err != nil {
		return fn, fmt.Errorf("读取函数名称失败: %w", err)
	}

	fn.Hint = hint
	fn.Name = name
	return fn, nil
}

// resolveBudget counts the directory and lookup entries one ResolveImports
// call may still visit.
type resolveBudget struct {
	limit     int
	remaining int
	spent     bool
}

func newResolveBudget(limit int) *resolveBudget {
	return &resolveBudget{limit: limit, remaining: limit}
}

func (b *resolveBudget) charge() error {
	if b.remaining <= 0 {
		b.spent = true
		return fmt.Errorf("%w: 导入解析累计超过 %d 项", ErrTooManyEntries, b.limit)
	}
	b.remaining--
	return nil
}

// exhausted reports whether a charge has failed.
func (b *resolveBudget) exhausted() bool {
	return b.spent
}

// entryBudget bounds a sentinel-terminated walk by how many entries of the
// given width the file can hold.
func entryBudget(r *Reader, width int) int {
	n := r.Size() / int64(width)
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < 1 {
		return 1
	}
	return int(n)
}
