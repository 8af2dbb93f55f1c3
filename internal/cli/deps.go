package cli

import (
	"fmt"
	"io"

	"github.com/ZacharyZcR/PELab/internal/pe"
	"github.com/fatih/color"
)

// PrintDependencyTree prints a formatted dependency tree.
func PrintDependencyTree(w io.Writer, node *pe.DependencyNode, prefix string, isLast bool) {
	if node == nil {
		return
	}

	marker := "├── "
	if isLast {
		marker = "└── "
	}
	if node.Depth == 0 {
		marker = ""
	}

	status := ""
	switch {
	case !node.Found:
		status = " ⚠️ (NOT FOUND)"
	case node.System:
		status = " (system)"
	case node.Err != nil:
		status = fmt.Sprintf(" ⚠️ (%v)", node.Err)
	}

	fmt.Fprintf(w, "%s%s%s%s\n", prefix, marker, node.Name, status)

	childPrefix := prefix
	if node.Depth > 0 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}

	for i, child := range node.Dependencies {
		PrintDependencyTree(w, child, childPrefix, i == len(node.Dependencies)-1)
	}
}

// PrintDependencyList prints a flat list of all dependencies.
func PrintDependencyList(w io.Writer, analysis *pe.DependencyAnalysis) {
	fmt.Fprintf(w, "\n依赖摘要:\n")
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "总计依赖: %d 个\n", analysis.TotalCount)
	fmt.Fprintf(w, "最大深度: %d\n", analysis.MaxDepth)
	fmt.Fprintf(w, "循环依赖: %v\n", analysis.HasCycles)
	fmt.Fprintf(w, "缺失依赖: %d 个\n\n", len(analysis.MissingDeps))

	if len(analysis.MissingDeps) > 0 {
		fmt.Fprintf(w, "⚠️  缺失的 DLL:\n")
		for _, dll := range analysis.MissingDeps {
			fmt.Fprintf(w, "  - %s\n", dll)
		}
		fmt.Fprintf(w, "\n")
	}

	fmt.Fprintf(w, "所有依赖:\n")
	for _, dll := range analysis.Order {
		path := analysis.AllDeps[dll]
		if path == pe.SystemPath {
			fmt.Fprintf(w, "  ✓ %s (系统DLL)\n", dll)
		} else {
			fmt.Fprintf(w, "  ✓ %s\n", dll)
			fmt.Fprintf(w, "    → %s\n", path)
		}
	}
}

// PrintDependencies prints the tree form with a summary.
func PrintDependencies(w io.Writer, analysis *pe.DependencyAnalysis) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	_, _ = green.Fprintf(w, "\n依赖树:\n")
	PrintDependencyTree(w, analysis.Root, "", false)

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "总计: %d 个依赖\n", analysis.TotalCount)
	fmt.Fprintf(w, "最大深度: %d\n", analysis.MaxDepth)

	if len(analysis.MissingDeps) > 0 {
		_, _ = red.Fprintf(w, "\n⚠️  缺失 %d 个依赖:\n", len(analysis.MissingDeps))
		for _, dll := range analysis.MissingDeps {
			_, _ = red.Fprintf(w, "  - %s\n", dll)
		}
	}
}
