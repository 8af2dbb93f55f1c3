package pe

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestParseFile(t *testing.T) {
	img := testImage{is64: true, imports: defaultImports()}
	data := img.build()
	path := writeTestFile(t, t.TempDir(), "app.exe", data)

	info, err := ParseFile(path, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, path, info.FilePath)
	assert.Equal(t, int64(len(data)), info.FileSize)
	assert.True(t, info.HasOptionalHeader())
	assert.Equal(t, RVA(testTextRVA+0x10), info.Optional.EntryPoint())
	assert.Equal(t, uint32(16), info.Optional.DirectoryCount())
	assert.Len(t, info.DataDirectories, 16)
	assert.Len(t, info.Sections, 2)

	assert.Equal(t, []string{"KERNEL32.dll", "USER32.dll"}, info.ImportedDLLs())
	assert.Equal(t, []string{
		"ExitProcess:KERNEL32.dll",
		"GetStdHandle:KERNEL32.dll",
		"#17:KERNEL32.dll",
		"MessageBoxA:USER32.dll",
	}, info.ImportedSymbols())
}

func TestFileLookups(t *testing.T) {
	info, err := analyzeTestImage(t, testImage{imports: defaultImports()}, DefaultOptions())
	require.NoError(t, err)

	idata := info.Section(".idata")
	require.NotNil(t, idata)
	assert.Equal(t, uint32(testIdataRVA), idata.VirtualAddress)
	assert.Nil(t, info.Section(".rsrc"))

	dir, ok := info.DataDirectory(DirectoryImport)
	require.True(t, ok)
	assert.Equal(t, uint32(testIdataRVA), dir.VirtualAddress)

	_, ok = info.DataDirectory(16)
	assert.False(t, ok)
	_, ok = info.DataDirectory(-1)
	assert.False(t, ok)
}

func TestAnalyzeObjectFile(t *testing.T) {
	img := testImage{}
	data := img.build()
	binary.LittleEndian.PutUint16(data[testCOFFOffset+16:], 0)
	table := append([]byte(nil), data[img.sectionTableOffset():img.sectionTableOffset()+2*sectionHeaderSize]...)
	copy(data[testOptOffset:], table)

	info, err := NewAnalyzer(NewBytesReader(data), DefaultOptions()).Analyze()
	require.NoError(t, err)

	assert.False(t, info.HasOptionalHeader())
	assert.Empty(t, info.DataDirectories)
	assert.Empty(t, info.Imports)
	require.Len(t, info.Sections, 2)
	assert.Equal(t, ".text", info.Sections[0].NameString())
	assert.Equal(t, ".idata", info.Sections[1].NameString())
}

func TestAnalyzeNoSections(t *testing.T) {
	data := testImage{imports: defaultImports()}.build()
	binary.LittleEndian.PutUint16(data[testCOFFOffset+2:], 0)

	info, err := NewAnalyzer(NewBytesReader(data), DefaultOptions()).Analyze()
	require.NoError(t, err)
	assert.Empty(t, info.Sections)
	assert.Empty(t, info.Imports, "imports cannot be mapped without sections")
}

func TestParseFileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := ParseFile(filepath.Join(dir, "nope.exe"), DefaultOptions())
		assert.Error(t, err)
	})

	t.Run("DOS stub only", func(t *testing.T) {
		data := make([]byte, 0x100)
		data[0], data[1] = 'M', 'Z'
		binary.LittleEndian.PutUint32(data[0x3C:], 0x80)
		copy(data[0x80:], "MZ\x00\x00")

		_, err := ParseFile(writeTestFile(t, dir, "stub.exe", data), DefaultOptions())
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("unmapped import directory", func(t *testing.T) {
		img := testImage{imports: defaultImports()}
		data := img.build()
		dir0 := testOptOffset + optionalHeader32Size + DirectoryImport*dataDirectorySize
		binary.LittleEndian.PutUint32(data[dir0:], 0x8000)

		_, err := ParseFile(writeTestFile(t, dir, "bad.exe", data), DefaultOptions())
		assert.ErrorIs(t, err, ErrUnmappedRVA)
	})
}
