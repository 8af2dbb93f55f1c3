package pe

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// Options configures a parse.
type Options struct {
	// MaxStringLen bounds DLL and function name reads. Zero means
	// DefaultMaxStringLen.
	MaxStringLen int
	// MaxEntries bounds each Import Directory Table and Import Lookup Table
	// walk. Zero derives the bound from the file size.
	MaxEntries int
	// Lenient skips DLLs whose imports cannot be resolved instead of
	// failing the whole parse.
	Lenient bool
	Logger  hclog.Logger
}

// DefaultOptions returns strict-mode options with the default limits.
func DefaultOptions() Options {
	return Options{MaxStringLen: DefaultMaxStringLen}
}

func (o Options) logger() hclog.Logger {
	if o.Logger == nil {
		return hclog.NewNullLogger()
	}
	return o.Logger
}

// File is the parsed structure of one image. It is a read-only snapshot.
type File struct {
	FilePath string
	FileSize int64

	Layout Layout
	COFF   CoffHeader
	// Optional is nil for object files.
	Optional        OptionalHeader
	DataDirectories []DataDirectory
	Sections        []Section
	Imports         []ImportedDLL
	// ImportErrors lists DLLs skipped in lenient mode.
	ImportErrors []*ImportError
}

// HasOptionalHeader reports whether the file is a linked image.
func (f *File) HasOptionalHeader() bool {
	return f.Optional != nil
}

// DataDirectory returns the entry at index, if present.
func (f *File) DataDirectory(index int) (DataDirectory, bool) {
	if index < 0 || index >= len(f.DataDirectories) {
		return DataDirectory{}, false
	}
	return f.DataDirectories[index], true
}

// Section returns the first section with the given name, or nil.
func (f *File) Section(name string) *Section {
	for i := range f.Sections {
		if f.Sections[i].NameString() == name {
			return &f.Sections[i]
		}
	}
	return nil
}

// ImportedDLLs returns DLL names in table order.
func (f *File) ImportedDLLs() []string {
	names := make([]string, 0, len(f.Imports))
	for _, dll := range f.Imports {
		names = append(names, dll.Name)
	}
	return names
}

// ImportedSymbols returns every import as "Func:DLL".
func (f *File) ImportedSymbols() []string {
	var symbols []string
	for _, dll := range f.Imports {
		for _, fn := range dll.Functions {
			symbols = append(symbols, fn.String()+":"+dll.Name)
		}
	}
	return symbols
}

// Analyzer runs the full parse over one reader.
type Analyzer struct {
	reader *Reader
	opts   Options
}

// NewAnalyzer creates a new analyzer for the given reader.
func NewAnalyzer(r *Reader, opts Options) *Analyzer {
	r.SetMaxStringLen(opts.MaxStringLen)
	return &Analyzer{reader: r, opts: opts}
}

// Analyze locates the headers, reads the data directories and section
// table, and resolves imports.
func (a *Analyzer) Analyze() (*File, error) {
	logger := a.opts.logger()

	headers, err := LocateHeaders(a.reader, logger)
	if err != nil {
		return nil, err
	}

	info := &File{
		FilePath: a.reader.FilePath(),
		FileSize: a.reader.Size(),
		Layout:   headers.Layout,
		COFF:     headers.COFF,
		Optional: headers.Optional,
	}

	if info.Optional != nil {
		info.DataDirectories, err = ReadDataDirectories(a.reader, info.Layout.DataDirectoryOffset, info.Optional.DirectoryCount())
		if err != nil {
			return nil, err
		}
	}

	info.Sections, err = ReadSections(a.reader, info.Layout.SectionTableOffset, info.COFF.NumberOfSections)
	if err != nil {
		return nil, err
	}

	info.Imports, info.ImportErrors, err = ResolveImports(a.reader, info.Optional, info.DataDirectories, info.Sections, a.opts)
	if err != nil {
		return nil, err
	}

	logger.Debug("analysis complete",
		"sections", len(info.Sections),
		"directories", len(info.DataDirectories),
		"dlls", len(info.Imports),
		"skipped", len(info.ImportErrors))

	return info, nil
}

// ParseFile opens, analyzes and closes the file at path.
func ParseFile(path string, opts Options) (*File, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	info, err := NewAnalyzer(r, opts).Analyze()
	if err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", path, err)
	}
	return info, nil
}
