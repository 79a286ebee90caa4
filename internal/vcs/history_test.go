package vcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"holodex/internal/logging"
)

func commitFile(t *testing.T, wt *git.Worktree, root, rel, content, msg string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add(rel); err != nil {
		t.Fatalf("add %s: %v", rel, err)
	}
	_, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit %q: %v", msg, err)
	}
}

func testHistory(t *testing.T) *History {
	t.Helper()
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}

	commitFile(t, wt, root, "messaging/sender.go", "package messaging\n", "add sender")
	commitFile(t, wt, root, "messaging/sender.go", "package messaging\n\nfunc Send() {}\n", "implement send")
	commitFile(t, wt, root, "docs/notes.md", "# notes\n", "add notes")

	h, err := Open(root, logging.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return h
}

func TestForFileCountsCommitsInWindow(t *testing.T) {
	h := testHistory(t)

	fh, err := h.ForFile("messaging/sender.go", 24*time.Hour)
	if err != nil {
		t.Fatalf("ForFile: %v", err)
	}
	if fh.ChangeCount != 2 {
		t.Errorf("ChangeCount = %d, want 2", fh.ChangeCount)
	}
	if fh.LastChanged.IsZero() {
		t.Error("LastChanged is zero, want the latest commit time")
	}
}

func TestForModuleAggregatesFilesUnderPrefix(t *testing.T) {
	h := testHistory(t)

	fh, err := h.ForModule("messaging", 24*time.Hour)
	if err != nil {
		t.Fatalf("ForModule: %v", err)
	}
	if fh.ChangeCount != 2 {
		t.Errorf("messaging ChangeCount = %d, want 2", fh.ChangeCount)
	}

	fh, err = h.ForModule("docs", 24*time.Hour)
	if err != nil {
		t.Fatalf("ForModule: %v", err)
	}
	if fh.ChangeCount != 1 {
		t.Errorf("docs ChangeCount = %d, want 1", fh.ChangeCount)
	}
}
