// Package main provides the PELab CLI tool.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ZacharyZcR/PELab/internal/cli"
	"github.com/ZacharyZcR/PELab/internal/pe"
	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/xyproto/env/v2"
)

var (
	// Report flags.
	verbose      = flag.Bool("v", false, "详细模式：显示所有导入函数、空数据目录和节区重定位信息")
	showHeaders  = flag.Bool("headers", false, "显示 COFF 头和可选头")
	showDirs     = flag.Bool("dirs", false, "显示数据目录表")
	showSections = flag.Bool("sections", false, "显示节区表")
	showImports  = flag.Bool("imports", false, "显示导入表")

	// Dependency flags.
	analyzeDeps = flag.Bool("deps", false, "分析依赖关系（递归解析所有DLL依赖）")
	maxDepth    = flag.Uint("max-depth", 3, "依赖分析最大深度（默认: 3）")
	flatList    = flag.Bool("flat", false, "依赖分析使用扁平列表格式（默认: 树状）")

	// Parser flags, defaulted from the environment.
	lenient    = flag.Bool("lenient", env.Bool("PELAB_LENIENT"), "宽松模式：跳过无法解析的DLL而不是终止 (PELAB_LENIENT)")
	maxString  = flag.Int("max-string", env.Int("PELAB_MAX_STRING", pe.DefaultMaxStringLen), "名称字符串最大长度 (PELAB_MAX_STRING)")
	maxEntries = flag.Int("max-entries", env.Int("PELAB_MAX_ENTRIES", 0), "导入表遍历项数上限，0 表示按文件大小推算 (PELAB_MAX_ENTRIES)")
	logLevel   = flag.String("log-level", env.Str("PELAB_LOG_LEVEL", "warn"), "日志级别: trace, debug, info, warn, error (PELAB_LOG_LEVEL)")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "pelab",
		Level:  hclog.LevelFromString(*logLevel),
		Output: os.Stderr,
	})

	opts := pe.Options{
		MaxStringLen: *maxString,
		MaxEntries:   *maxEntries,
		Lenient:      *lenient,
		Logger:       logger,
	}

	if err := analyzePE(flag.Arg(0), opts); err != nil {
		red := color.New(color.FgRed, color.Bold)
		_, _ = red.Fprintf(os.Stderr, "\n错误: %v\n\n", err)
		os.Exit(1)
	}
}

func analyzePE(filepath string, opts pe.Options) error {
	info, err := pe.ParseFile(filepath, opts)
	if err != nil {
		return err
	}

	reporter := cli.NewReporter(info)
	reporter.SetVerbose(*verbose)
	reporter.SetBlocks(selectedBlocks())
	reporter.Print()

	if *analyzeDeps {
		if err := analyzeDependencies(filepath, opts); err != nil {
			return err
		}
	}

	return nil
}

func selectedBlocks() cli.Block {
	var b cli.Block
	if *showHeaders {
		b |= cli.BlockHeaders
	}
	if *showDirs {
		b |= cli.BlockDirectories
	}
	if *showSections {
		b |= cli.BlockSections
	}
	if *showImports {
		b |= cli.BlockImports
	}
	return b
}

func analyzeDependencies(filepath string, opts pe.Options) error {
	cyan := color.New(color.FgCyan, color.Bold)

	fmt.Println()
	_, _ = cyan.Printf("========== 依赖分析 ==========\n")

	// Dependencies are best-effort below the root.
	opts.Lenient = true
	analysis, err := pe.AnalyzeDependencies(filepath, int(*maxDepth), opts)
	if err != nil {
		return fmt.Errorf("依赖分析失败: %w", err)
	}

	if *flatList {
		cli.PrintDependencyList(color.Output, analysis)
	} else {
		cli.PrintDependencies(color.Output, analysis)
	}

	fmt.Println()
	return nil
}

func printUsage() {
	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Println("\nPELab - PE文件结构分析工具")

	fmt.Println("\n用法:")
	fmt.Println("  pelab [选项] <PE文件路径>")
	fmt.Println("\n显示选项（不指定时显示全部）:")
	fmt.Println("  -headers        COFF 头和可选头")
	fmt.Println("  -dirs           数据目录表")
	fmt.Println("  -sections       节区表")
	fmt.Println("  -imports        导入表")
	fmt.Println("  -v              详细模式：显示所有导入函数（不限制数量）")
	fmt.Println("\n依赖分析:")
	fmt.Println("  -deps           分析依赖关系（递归检测所有DLL依赖）")
	fmt.Println("  -max-depth      依赖分析最大深度（默认: 3，防止无限递归）")
	fmt.Println("  -flat           依赖分析使用扁平列表格式（默认: 树状）")
	fmt.Println("\n解析选项:")
	fmt.Println("  -lenient        跳过无法解析的DLL并报告，而不是终止解析")
	fmt.Println("  -max-string     名称字符串最大长度（默认: 512）")
	fmt.Println("  -max-entries    导入表遍历项数上限（默认: 按文件大小推算）")
	fmt.Println("  -log-level      日志级别（默认: warn）")
	fmt.Println("\n环境变量:")
	fmt.Println("  PELAB_LENIENT, PELAB_MAX_STRING, PELAB_MAX_ENTRIES, PELAB_LOG_LEVEL, NO_COLOR")
	fmt.Println("\n示例:")
	fmt.Println("  pelab C:\\Windows\\System32\\notepad.exe")
	fmt.Println("  pelab -imports -v C:\\Windows\\System32\\kernel32.dll")
	fmt.Println("  pelab -sections suspicious.exe")
	fmt.Println("  pelab -lenient -log-level debug damaged.exe")
	fmt.Println("  pelab -deps -max-depth 5 program.exe")
	fmt.Println()
}
