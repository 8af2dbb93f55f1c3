package pe

import (
	"os"
	"path/filepath"
	"strings"
)

// DependencyNode represents a node in the dependency tree.
type DependencyNode struct {
	Name         string            // DLL name
	Path         string            // Full path (if found)
	Found        bool              // Whether the DLL was found
	System       bool              // Well-known system DLL, not recursed into
	Err          error             // Parse failure of a found file
	Dependencies []*DependencyNode // Child dependencies
	Depth        int               // Depth in dependency tree
}

// DependencyAnalysis contains the complete dependency analysis result.
type DependencyAnalysis struct {
	Root        *DependencyNode   // Root PE file
	AllDeps     map[string]string // All dependencies: name -> path
	Order       []string          // AllDeps keys in discovery order
	MissingDeps []string          // List of missing dependencies
	TotalCount  int               // Total number of unique dependencies
	MaxDepth    int               // Maximum dependency depth
	HasCycles   bool              // Whether circular dependencies exist
}

// SystemPath marks system DLLs in DependencyAnalysis.AllDeps.
const SystemPath = "<system>"

// systemDLLs is a list of well-known Windows system DLLs that we skip recursion for.
var systemDLLs = map[string]bool{
	"kernel32.dll": true,
	"ntdll.dll":    true,
	"user32.dll":   true,
	"gdi32.dll":    true,
	"advapi32.dll": true,
	"ws2_32.dll":   true,
	"msvcrt.dll":   true,
	"shell32.dll":  true,
	"ole32.dll":    true,
	"comctl32.dll": true,
	"comdlg32.dll": true,
	"oleaut32.dll": true,
	"shlwapi.dll":  true,
	"wininet.dll":  true,
	"rpcrt4.dll":   true,
	"crypt32.dll":  true,
	"version.dll":  true,
	"winspool.drv": true,
	"secur32.dll":  true,
	"netapi32.dll": true,
	"userenv.dll":  true,
	"psapi.dll":    true,
	"iphlpapi.dll": true,
	"bcrypt.dll":   true,
	"setupapi.dll": true,
	"cfgmgr32.dll": true,
	"wintrust.dll": true,
	"imagehlp.dll": true,
	"dbghelp.dll":  true,
	"imm32.dll":    true,
	"msimg32.dll":  true,
	"powrprof.dll": true,
	"uxtheme.dll":  true,
	"dwmapi.dll":   true,
}

// dependencyWalker carries the state of one AnalyzeDependencies call.
type dependencyWalker struct {
	maxDepth   int
	opts       Options
	searchDirs []string
	visited    map[string]bool
	analysis   *DependencyAnalysis
}

// AnalyzeDependencies builds the DLL dependency tree of a PE file by
// resolving its imports and recursively those of every DLL found on the
// search path, up to maxDepth levels.
func AnalyzeDependencies(filePath string, maxDepth int, opts Options) (*DependencyAnalysis, error) {
	w := &dependencyWalker{
		maxDepth:   maxDepth,
		opts:       opts,
		searchDirs: defaultSearchDirs(),
		visited:    make(map[string]bool),
		analysis: &DependencyAnalysis{
			AllDeps:     make(map[string]string),
			MissingDeps: make([]string, 0),
		},
	}

	root := w.build(filePath, 0)
	// Failures below the root are recorded on the nodes.
	if root.Err != nil {
		return nil, root.Err
	}

	w.analysis.Root = root
	w.analysis.TotalCount = len(w.analysis.AllDeps)
	return w.analysis, nil
}

// build recursively builds the dependency tree.
func (w *dependencyWalker) build(filePath string, depth int) *DependencyNode {
	fileName := filepath.Base(filePath)
	normalizedName := strings.ToLower(fileName)

	node := &DependencyNode{
		Name:  fileName,
		Path:  filePath,
		Found: true,
		Depth: depth,
	}

	// Cycle detection
	if w.visited[normalizedName] {
		w.analysis.HasCycles = true
		return node
	}
	w.visited[normalizedName] = true
	defer func() { w.visited[normalizedName] = false }()

	if depth > w.analysis.MaxDepth {
		w.analysis.MaxDepth = depth
	}

	// Don't recurse too deep
	if depth >= w.maxDepth {
		return node
	}

	info, err := ParseFile(filePath, w.opts)
	if err != nil {
		node.Err = err
		return node
	}

	baseDir := filepath.Dir(filePath)
	seen := make(map[string]bool)
	for _, dllName := range info.ImportedDLLs() {
		key := strings.ToLower(dllName)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		// Skip system DLLs for recursion (but still record them)
		if isSystemDLL(key) {
			w.record(key, SystemPath)
			node.Dependencies = append(node.Dependencies, &DependencyNode{
				Name:   dllName,
				Path:   SystemPath,
				Found:  true,
				System: true,
				Depth:  depth + 1,
			})
			continue
		}

		dllPath := findDLL(dllName, baseDir, w.searchDirs)
		if dllPath == "" {
			if !contains(w.analysis.MissingDeps, dllName) {
				w.analysis.MissingDeps = append(w.analysis.MissingDeps, dllName)
			}
			node.Dependencies = append(node.Dependencies, &DependencyNode{
				Name:  dllName,
				Found: false,
				Depth: depth + 1,
			})
			continue
		}

		w.record(key, dllPath)
		node.Dependencies = append(node.Dependencies, w.build(dllPath, depth+1))
	}

	return node
}

func (w *dependencyWalker) record(name, path string) {
	if _, ok := w.analysis.AllDeps[name]; !ok {
		w.analysis.Order = append(w.analysis.Order, name)
	}
	w.analysis.AllDeps[name] = path
}

// defaultSearchDirs returns the Windows search order after the image
// directory: system directories, the current directory, then PATH.
func defaultSearchDirs() []string {
	dirs := []string{
		"C:\\Windows\\System32",
		"C:\\Windows\\SysWOW64",
		"C:\\Windows",
		".",
	}

	if pathEnv := os.Getenv("PATH"); pathEnv != "" {
		dirs = append(dirs, filepath.SplitList(pathEnv)...)
	}

	// Wine prefixes, for cross-platform analysis.
	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".wine/drive_c/windows/system32"),
			filepath.Join(homeDir, ".wine/drive_c/windows/syswow64"),
		)
	}

	return dirs
}

// findDLL looks for dllName next to the image, then in each search dir.
func findDLL(dllName, baseDir string, searchDirs []string) string {
	if !strings.Contains(filepath.Base(dllName), ".") {
		dllName += ".dll"
	}

	for _, dir := range append([]string{baseDir}, searchDirs...) {
		fullPath := filepath.Join(dir, dllName)
		if st, err := os.Stat(fullPath); err == nil && !st.IsDir() {
			return fullPath
		}
	}

	return ""
}

// isSystemDLL checks if a DLL is a well-known Windows system DLL.
func isSystemDLL(dllName string) bool {
	normalized := strings.ToLower(dllName)

	if systemDLLs[normalized] {
		return true
	}

	// API sets
	return strings.HasPrefix(normalized, "api-ms-win-") || strings.HasPrefix(normalized, "ext-ms-")
}

// contains checks if a string slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
