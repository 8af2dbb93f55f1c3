package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ZacharyZcR/PELab/internal/pe"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func testSection(name string, va, characteristics uint32) pe.Section {
	s := pe.Section{VirtualAddress: va, VirtualSize: 0x100, SizeOfRawData: 0x200, Characteristics: characteristics}
	copy(s.Name[:], name)
	return s
}

func testFile() *pe.File {
	dirs := make([]pe.DataDirectory, 16)
	dirs[pe.DirectoryImport] = pe.DataDirectory{VirtualAddress: 0x2000, Size: 0x3C}

	functions := make([]pe.ImportedFunction, 12)
	for i := range functions {
		functions[i] = pe.ImportedFunction{Name: "Func" + string(rune('A'+i)), Hint: uint16(i)}
	}
	functions[11] = pe.ImportedFunction{ByOrdinal: true, Ordinal: 17}

	return &pe.File{
		FilePath: "app.exe",
		FileSize: 4096,
		COFF: pe.CoffHeader{
			Machine:          0x8664,
			NumberOfSections: 2,
			Characteristics:  0x0022,
		},
		Optional: &pe.OptionalHeader64{
			Magic:               pe.MagicPE32Plus,
			AddressOfEntryPoint: 0x1010,
			ImageBase:           0x140000000,
			Subsystem:           3,
			NumberOfRvaAndSizes: 16,
		},
		DataDirectories: dirs,
		Sections: []pe.Section{
			testSection(".text", 0x1000, pe.ScnMemRead|pe.ScnMemExecute),
			testSection(".evil", 0x2000, pe.ScnMemRead|pe.ScnMemWrite|pe.ScnMemExecute),
		},
		Imports: []pe.ImportedDLL{
			{Name: "KERNEL32.dll", FunctionCount: len(functions), Functions: functions},
		},
		ImportErrors: []*pe.ImportError{
			{Index: 1, DLL: "BROKEN.dll", Err: pe.ErrUnmappedRVA},
		},
	}
}

func render(info *pe.File, blocks Block, verbose bool) string {
	var buf bytes.Buffer
	r := NewReporter(info)
	r.SetOutput(&buf)
	r.SetBlocks(blocks)
	r.SetVerbose(verbose)
	r.Print()
	return buf.String()
}

func TestReporterPrint(t *testing.T) {
	out := render(testFile(), 0, false)

	assert.Contains(t, out, "PELab 结构分析报告")
	assert.Contains(t, out, "x64 (0x8664)")
	assert.Contains(t, out, "0x20B (PE32+)")
	assert.Contains(t, out, "0x140000000")
	assert.Contains(t, out, "Windows 控制台")
	assert.Contains(t, out, "Large address aware, EXE, not stripped")

	assert.Contains(t, out, "Import Table")
	assert.NotContains(t, out, "Export Table", "empty directories are hidden unless verbose")

	assert.Contains(t, out, ".text")
	assert.Contains(t, out, "RWX")

	assert.Contains(t, out, "KERNEL32.dll (12 个函数)")
	assert.Contains(t, out, "FuncA (提示: 0x0)")
	assert.Contains(t, out, "还有 2 个函数")
	assert.NotContains(t, out, "序号 17")
	assert.Contains(t, out, "BROKEN.dll")
}

func TestReporterVerbose(t *testing.T) {
	out := render(testFile(), BlockDirectories|BlockImports, true)

	assert.Contains(t, out, "Export Table")
	assert.Contains(t, out, "序号 17")
	assert.NotContains(t, out, "还有")
	assert.NotContains(t, out, "【COFF 头】")
	assert.NotContains(t, out, "【节区信息】")
}

func TestReporterObjectFile(t *testing.T) {
	info := &pe.File{COFF: pe.CoffHeader{Machine: 0x14c}}
	out := render(info, BlockAll, false)

	assert.Contains(t, out, "无可选头 (目标文件)")
	assert.Contains(t, out, "未发现数据目录")
	assert.Contains(t, out, "未发现节区")
	assert.Contains(t, out, "未发现导入")
	assert.NotContains(t, out, "可选头偏移")
}

func TestReporterPE32(t *testing.T) {
	info := &pe.File{
		Optional: &pe.OptionalHeader32{Magic: pe.MagicPE32, BaseOfData: 0x2000, ImageBase: 0x400000},
	}
	out := render(info, BlockHeaders, false)

	assert.Contains(t, out, "0x10B (PE32)")
	assert.Contains(t, out, "0x400000")
	assert.Contains(t, out, "数据基址")
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.bytes))
	}
}

func TestPrintDependencies(t *testing.T) {
	analysis := &pe.DependencyAnalysis{
		Root: &pe.DependencyNode{
			Name:  "app.exe",
			Found: true,
			Dependencies: []*pe.DependencyNode{
				{Name: "KERNEL32.dll", Path: pe.SystemPath, Found: true, System: true, Depth: 1},
				{Name: "helper.dll", Path: "/tmp/helper.dll", Found: true, Depth: 1, Dependencies: []*pe.DependencyNode{
					{Name: "gone.dll", Depth: 2},
					{Name: "bad.dll", Found: true, Depth: 2, Err: errors.New("boom")},
				}},
			},
		},
		AllDeps:     map[string]string{"kernel32.dll": pe.SystemPath, "helper.dll": "/tmp/helper.dll"},
		Order:       []string{"kernel32.dll", "helper.dll"},
		MissingDeps: []string{"gone.dll"},
		TotalCount:  2,
		MaxDepth:    2,
	}

	var tree bytes.Buffer
	PrintDependencies(&tree, analysis)
	out := tree.String()
	assert.Contains(t, out, "app.exe\n")
	assert.Contains(t, out, "├── KERNEL32.dll (system)")
	assert.Contains(t, out, "└── helper.dll")
	assert.Contains(t, out, "    ├── gone.dll ⚠️ (NOT FOUND)")
	assert.Contains(t, out, "    └── bad.dll ⚠️ (boom)")
	assert.Contains(t, out, "总计: 2 个依赖")

	var list bytes.Buffer
	PrintDependencyList(&list, analysis)
	out = list.String()
	assert.Contains(t, out, "kernel32.dll (系统DLL)")
	assert.Contains(t, out, "→ /tmp/helper.dll")
	assert.Contains(t, out, "  - gone.dll")
}
