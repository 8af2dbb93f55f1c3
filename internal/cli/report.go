// Package cli provides command-line interface utilities.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/ZacharyZcR/PELab/internal/pe"
	"github.com/fatih/color"
)

// Block selects a part of the report.
type Block uint8

// Report blocks.
const (
	BlockHeaders Block = 1 << iota
	BlockDirectories
	BlockSections
	BlockImports
	BlockAll = BlockHeaders | BlockDirectories | BlockSections | BlockImports
)

// Reporter formats and prints PE analysis results.
type Reporter struct {
	info    *pe.File
	out     io.Writer
	blocks  Block
	verbose bool
}

// NewReporter creates a new reporter for the given PE file.
func NewReporter(info *pe.File) *Reporter {
	return &Reporter{info: info, out: color.Output, blocks: BlockAll}
}

// SetOutput redirects the report.
func (r *Reporter) SetOutput(w io.Writer) {
	r.out = w
}

// SetVerbose enables verbose mode (show all functions).
func (r *Reporter) SetVerbose(verbose bool) {
	r.verbose = verbose
}

// SetBlocks restricts the report to the given blocks. Zero means all.
func (r *Reporter) SetBlocks(b Block) {
	if b == 0 {
		b = BlockAll
	}
	r.blocks = b
}

// Print outputs the complete analysis report.
func (r *Reporter) Print() {
	r.printHeader()
	if r.blocks&BlockHeaders != 0 {
		r.printBasicInfo()
		r.printCOFFHeader()
		r.printOptionalHeader()
	}
	if r.blocks&BlockDirectories != 0 {
		r.printDataDirectories()
	}
	if r.blocks&BlockSections != 0 {
		r.printSections()
	}
	if r.blocks&BlockImports != 0 {
		r.printImports()
	}
}

func (r *Reporter) printHeader() {
	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprintln(r.out, "\n╔════════════════════════════════════════╗")
	_, _ = cyan.Fprintln(r.out, "║           PELab 结构分析报告           ║")
	_, _ = cyan.Fprintln(r.out, "╚════════════════════════════════════════╝")
}

func (r *Reporter) title(format string, args ...interface{}) {
	yellow := color.New(color.FgYellow, color.Bold)
	_, _ = yellow.Fprintf(r.out, "\n"+format+"\n", args...)
}

func (r *Reporter) row(label, format string, args ...interface{}) {
	fmt.Fprintf(r.out, "  %-24s: %s\n", label, fmt.Sprintf(format, args...))
}

func (r *Reporter) printBasicInfo() {
	r.title("【基本信息】")

	if r.info.FilePath != "" {
		r.row("文件路径", "%s", r.info.FilePath)
	}
	r.row("文件大小", "%s", formatSize(r.info.FileSize))

	l := r.info.Layout
	r.row("PE签名偏移", "0x%X", int64(l.PEOffset))
	r.row("COFF头偏移", "0x%X", int64(l.COFFOffset))
	if r.info.HasOptionalHeader() {
		r.row("可选头偏移", "0x%X", int64(l.OptionalHeaderOffset))
		r.row("数据目录偏移", "0x%X", int64(l.DataDirectoryOffset))
	}
	r.row("节区表偏移", "0x%X", int64(l.SectionTableOffset))
}

func (r *Reporter) printCOFFHeader() {
	h := r.info.COFF
	r.title("【COFF 头】")

	r.row("机器类型", "%s (0x%X)", machineName(h.Machine), h.Machine)
	r.row("节区数量", "%d", h.NumberOfSections)
	r.row("时间戳", "%s", formatTimestamp(h.TimeDateStamp))
	r.row("符号表地址", "0x%X", h.PointerToSymbolTable)
	r.row("符号数量", "%d", h.NumberOfSymbols)
	r.row("可选头大小", "%d", h.SizeOfOptionalHeader)
	r.row("特征", "%s (0x%04X)", coffCharacteristics(h.Characteristics), h.Characteristics)
}

func (r *Reporter) printOptionalHeader() {
	r.title("【可选头】")

	switch h := r.info.Optional.(type) {
	case *pe.OptionalHeader32:
		r.row("魔数", "0x%X (PE32)", h.Magic)
		r.row("链接器版本", "%d.%d", h.MajorLinkerVersion, h.MinorLinkerVersion)
		r.row("代码大小", "%d", h.SizeOfCode)
		r.row("已初始化数据大小", "%d", h.SizeOfInitializedData)
		r.row("未初始化数据大小", "%d", h.SizeOfUninitializedData)
		r.row("入口点", "0x%X", h.AddressOfEntryPoint)
		r.row("代码基址", "0x%X", h.BaseOfCode)
		r.row("数据基址", "0x%X", h.BaseOfData)
		r.row("镜像基址", "0x%X", h.ImageBase)
		r.row("节区对齐", "0x%X", h.SectionAlignment)
		r.row("文件对齐", "0x%X", h.FileAlignment)
		r.row("操作系统版本", "%d.%d", h.MajorOperatingSystemVersion, h.MinorOperatingSystemVersion)
		r.row("镜像版本", "%d.%d", h.MajorImageVersion, h.MinorImageVersion)
		r.row("子系统版本", "%d.%d", h.MajorSubsystemVersion, h.MinorSubsystemVersion)
		r.row("镜像大小", "%d", h.SizeOfImage)
		r.row("头部大小", "%d", h.SizeOfHeaders)
		r.row("校验和", "0x%08X", h.CheckSum)
		r.row("子系统", "%s", subsystemName(h.Subsystem))
		r.row("DLL特征", "%s (0x%04X)", dllCharacteristics(h.DllCharacteristics), h.DllCharacteristics)
		r.row("栈保留/提交", "0x%X / 0x%X", h.SizeOfStackReserve, h.SizeOfStackCommit)
		r.row("堆保留/提交", "0x%X / 0x%X", h.SizeOfHeapReserve, h.SizeOfHeapCommit)
		r.row("加载器标志", "0x%X", h.LoaderFlags)
		r.row("数据目录数量", "%d", h.NumberOfRvaAndSizes)
	case *pe.OptionalHeader64:
		r.row("魔数", "0x%X (PE32+)", h.Magic)
		r.row("链接器版本", "%d.%d", h.MajorLinkerVersion, h.MinorLinkerVersion)
		r.row("代码大小", "%d", h.SizeOfCode)
		r.row("已初始化数据大小", "%d", h.SizeOfInitializedData)
		r.row("未初始化数据大小", "%d", h.SizeOfUninitializedData)
		r.row("入口点", "0x%X", h.AddressOfEntryPoint)
		r.row("代码基址", "0x%X", h.BaseOfCode)
		r.row("镜像基址", "0x%X", h.ImageBase)
		r.row("节区对齐", "0x%X", h.SectionAlignment)
		r.row("文件对齐", "0x%X", h.FileAlignment)
		r.row("操作系统版本", "%d.%d", h.MajorOperatingSystemVersion, h.MinorOperatingSystemVersion)
		r.row("镜像版本", "%d.%d", h.MajorImageVersion, h.MinorImageVersion)
		r.row("子系统版本", "%d.%d", h.MajorSubsystemVersion, h.MinorSubsystemVersion)
		r.row("镜像大小", "%d", h.SizeOfImage)
		r.row("头部大小", "%d", h.SizeOfHeaders)
		r.row("校验和", "0x%08X", h.CheckSum)
		r.row("子系统", "%s", subsystemName(h.Subsystem))
		r.row("DLL特征", "%s (0x%04X)", dllCharacteristics(h.DllCharacteristics), h.DllCharacteristics)
		r.row("栈保留/提交", "0x%X / 0x%X", h.SizeOfStackReserve, h.SizeOfStackCommit)
		r.row("堆保留/提交", "0x%X / 0x%X", h.SizeOfHeapReserve, h.SizeOfHeapCommit)
		r.row("加载器标志", "0x%X", h.LoaderFlags)
		r.row("数据目录数量", "%d", h.NumberOfRvaAndSizes)
	default:
		gray := color.New(color.FgHiBlack)
		_, _ = gray.Fprintln(r.out, "  无可选头 (目标文件)")
	}
}

func (r *Reporter) printDataDirectories() {
	dirs := r.info.DataDirectories
	r.title("【数据目录】(共 %d 项)", len(dirs))

	if len(dirs) == 0 {
		fmt.Fprintln(r.out, "  未发现数据目录")
		return
	}

	gray := color.New(color.FgHiBlack)
	for i, dir := range dirs {
		line := fmt.Sprintf("  [%2d] %-24s RVA: 0x%08X  大小: 0x%08X\n", i, directoryName(i), dir.VirtualAddress, dir.Size)
		if dir.VirtualAddress == 0 && dir.Size == 0 {
			if !r.verbose {
				continue
			}
			_, _ = gray.Fprint(r.out, line)
			continue
		}
		fmt.Fprint(r.out, line)
	}
}

func (r *Reporter) printSections() {
	sections := r.info.Sections
	r.title("【节区信息】(共 %d 个)", len(sections))

	if len(sections) == 0 {
		fmt.Fprintln(r.out, "  未发现节区")
		return
	}

	fmt.Fprintln(r.out, strings.Repeat("-", 100))
	fmt.Fprintf(r.out, "  %-10s %-12s %-12s %-12s %-12s %-6s %-12s\n",
		"名称", "虚拟地址", "虚拟大小", "原始偏移", "原始大小", "权限", "特征")
	fmt.Fprintln(r.out, strings.Repeat("-", 100))

	for i := range sections {
		s := &sections[i]
		perms := s.Permissions()

		// Highlight dangerous permissions (RWX)
		permColor := color.New(color.FgWhite)
		if perms == "RWX" {
			permColor = color.New(color.FgRed, color.Bold)
		} else if strings.Contains(perms, "X") {
			permColor = color.New(color.FgYellow)
		}

		fmt.Fprintf(r.out, "  %-10s 0x%08X   0x%08X   0x%08X   0x%08X   ",
			s.NameString(), s.VirtualAddress, s.VirtualSize, s.PointerToRawData, s.SizeOfRawData)
		_, _ = permColor.Fprintf(r.out, "%-6s", perms)
		fmt.Fprintf(r.out, " 0x%08X\n", s.Characteristics)

		if r.verbose {
			fmt.Fprintf(r.out, "      重定位: 0x%X (%d 项)  行号: 0x%X (%d 项)\n",
				s.PointerToRelocations, s.NumberOfRelocations, s.PointerToLinenumbers, s.NumberOfLinenumbers)
		}
	}
	fmt.Fprintln(r.out, strings.Repeat("-", 100))
}

func (r *Reporter) printImports() {
	r.title("【导入表】(共 %d 个DLL)", len(r.info.Imports))

	if len(r.info.Imports) == 0 && len(r.info.ImportErrors) == 0 {
		fmt.Fprintln(r.out, "  未发现导入")
		return
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	for i, imp := range r.info.Imports {
		_, _ = green.Fprintf(r.out, "  %3d. %s (%d 个函数)\n", i+1, imp.Name, imp.FunctionCount)

		maxDisplay := 10
		if r.verbose {
			maxDisplay = imp.FunctionCount // Show all in verbose mode
		}

		for j, fn := range imp.Functions {
			if j >= maxDisplay {
				_, _ = gray.Fprintf(r.out, "       ... (还有 %d 个函数)\n", imp.FunctionCount-maxDisplay)
				break
			}
			if fn.ByOrdinal {
				fmt.Fprintf(r.out, "       - 序号 %d\n", fn.Ordinal)
			} else {
				fmt.Fprintf(r.out, "       - %s (提示: 0x%X)\n", fn.Name, fn.Hint)
			}
		}
	}

	if len(r.info.ImportErrors) > 0 {
		red := color.New(color.FgRed)
		_, _ = red.Fprintf(r.out, "\n  ⚠️  跳过 %d 个无法解析的导入描述符:\n", len(r.info.ImportErrors))
		for _, ierr := range r.info.ImportErrors {
			_, _ = red.Fprintf(r.out, "    - %v\n", ierr)
		}
	}
	fmt.Fprintln(r.out)
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
