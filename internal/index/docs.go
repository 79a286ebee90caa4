package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"holodex/internal/compression"
	"holodex/internal/config"
	"holodex/internal/logging"
)

var docIncludes = []string{"**/*.md", "**/*.txt", "**/*.rst"}

// frontMatter is the YAML header many protocol documents carry
type frontMatter struct {
	Title string   `yaml:"title"`
	Tags  []string `yaml:"tags"`
}

// DocScanner extracts indexable entries from protocol and knowledge
// documents under the configured doc roots.
type DocScanner struct {
	repoRoot string
	cfg      config.IndexConfig
	logger   *logging.Logger
}

// NewDocScanner creates the docs corpus scanner
func NewDocScanner(repoRoot string, cfg config.IndexConfig, logger *logging.Logger) *DocScanner {
	return &DocScanner{repoRoot: repoRoot, cfg: cfg, logger: logger}
}

// Scan produces one entry per document
func (s *DocScanner) Scan(ctx context.Context) ([]Entry, error) {
	files, err := s.listDocs()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, rel := range files {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		entry, err := s.scanDoc(rel)
		if err != nil {
			s.logger.Debug("Skipping unreadable document", map[string]interface{}{
				"file": rel, "error": err.Error(),
			})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Fingerprint hashes the current document set for drift detection
func (s *DocScanner) Fingerprint() (string, error) {
	files, err := s.listDocs()
	if err != nil {
		return "", err
	}
	return fingerprintFiles(s.repoRoot, files)
}

func (s *DocScanner) listDocs() ([]string, error) {
	seen := make(map[string]bool)
	var all []string
	for _, docRoot := range s.cfg.DocRoots {
		root := filepath.Join(s.repoRoot, filepath.FromSlash(docRoot))
		if _, err := os.Stat(root); err != nil {
			continue
		}
		// "." as a doc root means top-level documents only, so the
		// whole tree is not swept into the docs corpus twice.
		include := docIncludes
		if docRoot == "." {
			include = []string{"*.md", "*.txt", "*.rst"}
		}
		files, err := walkFiles(root, include, s.cfg.CodeExclude)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			rel := filepath.ToSlash(filepath.Join(docRoot, f))
			rel = strings.TrimPrefix(rel, "./")
			if !seen[rel] {
				seen[rel] = true
				all = append(all, rel)
			}
		}
	}
	return all, nil
}

func (s *DocScanner) scanDoc(rel string) (Entry, error) {
	data, err := os.ReadFile(filepath.Join(s.repoRoot, filepath.FromSlash(rel)))
	if err != nil {
		return Entry{}, err
	}

	body := string(data)
	title := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	var tags []string

	if fm, rest, ok := splitFrontMatter(body); ok {
		var meta frontMatter
		if err := yaml.Unmarshal([]byte(fm), &meta); err == nil {
			if meta.Title != "" {
				title = meta.Title
			}
			tags = meta.Tags
		}
		body = rest
	}
	if h := firstHeading(body); h != "" {
		title = h
	}

	summary := title
	if len(tags) > 0 {
		summary += " " + strings.Join(tags, " ")
	}
	body = compression.Truncate(strings.TrimSpace(body), s.cfg.SummaryBudget)
	summary += " " + body

	return Entry{
		Path:        rel,
		SymbolName:  title,
		Kind:        "document",
		SummaryText: summary,
	}, nil
}

// splitFrontMatter separates a leading "---" YAML block from the body
func splitFrontMatter(text string) (front, body string, ok bool) {
	if !strings.HasPrefix(text, "---\n") {
		return "", text, false
	}
	rest := text[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", text, false
	}
	body = rest[end+4:]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return rest[:end], body, true
}

// firstHeading returns the first markdown heading text, if any
func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		}
	}
	return ""
}
