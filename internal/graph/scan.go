package graph

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"holodex/internal/logging"
	"holodex/internal/paths"
)

// importPattern defines how to extract import targets for a language
type importPattern struct {
	extensions []string
	patterns   []*regexp.Regexp
}

var languagePatterns = map[string]*importPattern{
	"go": {
		extensions: []string{".go"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^\s*(?:[_\w]+\s+)?"([^"]+)"`),
			regexp.MustCompile(`(?m)^import\s+(?:[_\w]+\s+)?"([^"]+)"`),
		},
	},
	"python": {
		extensions: []string{".py"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)`),
			regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import`),
		},
	},
	"typescript": {
		extensions: []string{".ts", ".tsx", ".js", ".jsx"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`import\s+.*?from\s+['"]([^'"]+)['"]`),
			regexp.MustCompile(`export\s+.*?from\s+['"]([^'"]+)['"]`),
			regexp.MustCompile(`require\s*\(\s*['"]([^'"]+)['"]\s*\)`),
		},
	},
}

// Scanner builds dependency graphs by regex-scanning import
// statements. Static text analysis only; nothing is executed.
type Scanner struct {
	repoRoot string
	include  []string
	exclude  []string
	logger   *logging.Logger

	goModulePath string
}

// NewScanner creates a scanner rooted at repoRoot. Include and
// exclude are doublestar globs relative to the root.
func NewScanner(repoRoot string, include, exclude []string, logger *logging.Logger) *Scanner {
	return &Scanner{
		repoRoot:     repoRoot,
		include:      include,
		exclude:      exclude,
		logger:       logger,
		goModulePath: readGoModulePath(repoRoot),
	}
}

// Scan walks the tree and returns the dependency graph. Every scanned
// source file (or Go package directory) becomes a node even when it
// has no edges, so orphan detection sees unreferenced modules.
func (s *Scanner) Scan() (*Graph, error) {
	files, err := s.listFiles()
	if err != nil {
		return nil, err
	}

	g := New()
	fileSet := make(map[string]bool, len(files))
	for _, f := range files {
		fileSet[f] = true
		g.AddNode(s.nodeFor(f))
	}

	for _, file := range files {
		pattern := patternFor(file)
		if pattern == nil {
			continue
		}
		imports, err := s.extractImports(file, pattern)
		if err != nil {
			s.logger.Debug("Skipping unreadable file", map[string]interface{}{
				"file": file, "error": err.Error(),
			})
			continue
		}
		importer := s.nodeFor(file)
		testOnly := isTestFile(file)
		for _, imp := range imports {
			target := s.resolveImport(file, imp, fileSet)
			if target == "" {
				continue // external or unresolvable import
			}
			g.AddEdge(Edge{Importer: importer, Imported: target, TestOnly: testOnly})
		}
	}
	return g, nil
}

// listFiles returns repo-relative slash paths matching the globs
func (s *Scanner) listFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.repoRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep walking
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".holo" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.repoRoot, path)
		if err != nil {
			return nil
		}
		rel = paths.Normalize(rel)
		if s.matches(rel) {
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}

func (s *Scanner) matches(rel string) bool {
	for _, pattern := range s.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	for _, pattern := range s.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// nodeFor maps a file to its graph node. Go files collapse to their
// package directory, which is the unit Go imports address.
func (s *Scanner) nodeFor(file string) string {
	if strings.HasSuffix(file, ".go") {
		dir := filepath.ToSlash(filepath.Dir(file))
		if dir == "." {
			return file
		}
		return dir
	}
	return file
}

func (s *Scanner) extractImports(file string, pattern *importPattern) ([]string, error) {
	f, err := os.Open(filepath.Join(s.repoRoot, filepath.FromSlash(file)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var content strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		content.WriteString(scanner.Text())
		content.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	text := content.String()
	seen := make(map[string]bool)
	var imports []string
	for _, re := range pattern.patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if len(m) > 1 && !seen[m[1]] {
				seen[m[1]] = true
				imports = append(imports, m[1])
			}
		}
	}
	return imports, nil
}

// resolveImport maps an import string to an in-repo node, or "" for
// external dependencies.
func (s *Scanner) resolveImport(fromFile, imp string, fileSet map[string]bool) string {
	switch {
	case strings.HasSuffix(fromFile, ".go"):
		if s.goModulePath == "" || !strings.HasPrefix(imp, s.goModulePath) {
			return ""
		}
		rel := strings.TrimPrefix(imp, s.goModulePath)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			return ""
		}
		return rel

	case strings.HasSuffix(fromFile, ".py"):
		candidate := strings.ReplaceAll(imp, ".", "/")
		if fileSet[candidate+".py"] {
			return candidate + ".py"
		}
		if fileSet[candidate+"/__init__.py"] {
			return candidate + "/__init__.py"
		}
		return ""

	default: // typescript/javascript
		if !strings.HasPrefix(imp, ".") {
			return ""
		}
		base := filepath.ToSlash(filepath.Join(filepath.Dir(fromFile), imp))
		for _, ext := range []string{"", ".ts", ".tsx", ".js", ".jsx", "/index.ts", "/index.js"} {
			if fileSet[base+ext] {
				return base + ext
			}
		}
		return ""
	}
}

func patternFor(file string) *importPattern {
	ext := filepath.Ext(file)
	for _, p := range languagePatterns {
		for _, e := range p.extensions {
			if e == ext {
				return p
			}
		}
	}
	return nil
}

// isTestFile reports whether a path is test code. An import that only
// comes from here must not keep a module off the orphan report, nor
// put it on.
func isTestFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasSuffix(base, "_test.go") {
		return true
	}
	if strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py") {
		return true
	}
	if strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "tests" || part == "__tests__" || part == "testdata" {
			return true
		}
	}
	return false
}

func readGoModulePath(repoRoot string) string {
	data, err := os.ReadFile(filepath.Join(repoRoot, "go.mod"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "module "))
		}
	}
	return ""
}
