package index

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"holodex/internal/config"
	"holodex/internal/logging"
)

// symbolPattern extracts top-level symbols for one language
type symbolPattern struct {
	re   *regexp.Regexp
	kind func(match []string) string
}

var symbolPatterns = map[string][]symbolPattern{
	".go": {
		{re: regexp.MustCompile(`^func\s+(?:\([^)]+\)\s+)?([A-Za-z_]\w*)\s*\(`),
			kind: func([]string) string { return "function" }},
		{re: regexp.MustCompile(`^type\s+([A-Za-z_]\w*)\s+(struct|interface)`),
			kind: func(m []string) string { return m[2] }},
	},
	".py": {
		{re: regexp.MustCompile(`^def\s+([A-Za-z_]\w*)\s*\(`),
			kind: func([]string) string { return "function" }},
		{re: regexp.MustCompile(`^class\s+([A-Za-z_]\w*)`),
			kind: func([]string) string { return "class" }},
	},
	".ts": {
		{re: regexp.MustCompile(`^(?:export\s+)?function\s+([A-Za-z_$][\w$]*)`),
			kind: func([]string) string { return "function" }},
		{re: regexp.MustCompile(`^(?:export\s+)?class\s+([A-Za-z_$][\w$]*)`),
			kind: func([]string) string { return "class" }},
	},
}

func init() {
	// TS patterns cover the JS family as well
	for _, ext := range []string{".tsx", ".js", ".jsx"} {
		symbolPatterns[ext] = symbolPatterns[".ts"]
	}
}

// CodeScanner extracts indexable symbols from source files
type CodeScanner struct {
	repoRoot string
	cfg      config.IndexConfig
	logger   *logging.Logger
}

// NewCodeScanner creates the code corpus scanner
func NewCodeScanner(repoRoot string, cfg config.IndexConfig, logger *logging.Logger) *CodeScanner {
	return &CodeScanner{repoRoot: repoRoot, cfg: cfg, logger: logger}
}

// Scan walks the tree and extracts one entry per top-level symbol,
// plus one whole-file entry so files with no recognized symbols are
// still findable.
func (s *CodeScanner) Scan(ctx context.Context) ([]Entry, error) {
	files, err := walkFiles(s.repoRoot, s.cfg.CodeInclude, s.cfg.CodeExclude)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, rel := range files {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		fileEntries, err := s.scanFile(rel)
		if err != nil {
			s.logger.Debug("Skipping unreadable file", map[string]interface{}{
				"file": rel, "error": err.Error(),
			})
			continue
		}
		entries = append(entries, fileEntries...)
	}
	return entries, nil
}

// Fingerprint hashes the current file set for drift detection
func (s *CodeScanner) Fingerprint() (string, error) {
	files, err := walkFiles(s.repoRoot, s.cfg.CodeInclude, s.cfg.CodeExclude)
	if err != nil {
		return "", err
	}
	return fingerprintFiles(s.repoRoot, files)
}

func (s *CodeScanner) scanFile(rel string) ([]Entry, error) {
	patterns := symbolPatterns[filepath.Ext(rel)]

	f, err := os.Open(filepath.Join(s.repoRoot, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		entries     []Entry
		lastComment string
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		// Track the immediately preceding comment; it becomes part of
		// the symbol's summary text.
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
			lastComment = strings.TrimLeft(trimmed, "/# ")
			continue
		}

		matched := false
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := m[1]
			kind := p.kind(m)
			summary := name + " " + kind + " " + strings.TrimSpace(line)
			if lastComment != "" {
				summary += " " + lastComment
			}
			entries = append(entries, Entry{
				Path:        rel,
				SymbolName:  name,
				Kind:        kind,
				SummaryText: summary,
			})
			matched = true
			break
		}
		if !matched && trimmed != "" {
			lastComment = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	entries = append(entries, Entry{
		Path:        rel,
		SymbolName:  filepath.Base(rel),
		Kind:        "file",
		SummaryText: rel + " " + strings.ReplaceAll(filepath.ToSlash(rel), "/", " "),
	})
	return entries, nil
}
