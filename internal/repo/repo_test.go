package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lukehenning/shepherd/internal/config"
	"github.com/lukehenning/shepherd/internal/errors"
)

// fakeExecutor records every git invocation and replies from a script
// keyed by the joined argument list.
type fakeExecutor struct {
	calls   []string
	outputs map[string]string
	fail    map[string]error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		outputs: make(map[string]string),
		fail:    make(map[string]error),
	}
}

func (f *fakeExecutor) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	key := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if err, ok := f.fail[key]; ok {
		return []byte("scripted failure"), err
	}
	return []byte(f.outputs[key]), nil
}

func newTestManager(exec CommandExecutor, path string) *Manager {
	cfg := config.RepoConfig{Path: path, MainBranch: "main"}
	comp := config.CompressionConfig{MaxFileBytes: 1024}
	return NewManagerWithExecutor(cfg, comp, exec)
}

func TestSyncMain(t *testing.T) {
	exec := newFakeExecutor()
	m := newTestManager(exec, "/repo")

	if err := m.SyncMain(context.Background()); err != nil {
		t.Fatalf("SyncMain: %v", err)
	}

	want := []string{
		"git checkout main",
		"git pull origin main",
	}
	if len(exec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", exec.calls, want)
	}
	for i, call := range want {
		if exec.calls[i] != call {
			t.Errorf("call[%d] = %q, want %q", i, exec.calls[i], call)
		}
	}
}

func TestSyncMainCheckoutFailure(t *testing.T) {
	exec := newFakeExecutor()
	exec.fail["git checkout main"] = fmt.Errorf("exit status 1")
	m := newTestManager(exec, "/repo")

	err := m.SyncMain(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var gitErr *errors.GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("expected *errors.GitError, got %T", err)
	}
	if gitErr.Output != "scripted failure" {
		t.Errorf("Output = %q, want command output attached", gitErr.Output)
	}
	if len(exec.calls) != 1 {
		t.Errorf("pull should not run after failed checkout, calls = %v", exec.calls)
	}
}

func TestMergeBranch(t *testing.T) {
	exec := newFakeExecutor()
	m := newTestManager(exec, "/repo")

	if err := m.MergeBranch(context.Background(), "feature-x"); err != nil {
		t.Fatalf("MergeBranch: %v", err)
	}

	want := []string{
		"git checkout main",
		"git merge origin/feature-x",
	}
	for i, call := range want {
		if exec.calls[i] != call {
			t.Errorf("call[%d] = %q, want %q", i, exec.calls[i], call)
		}
	}
}

func TestMergeBranchConflictAborts(t *testing.T) {
	exec := newFakeExecutor()
	exec.fail["git merge origin/feature-x"] = fmt.Errorf("exit status 1")
	m := newTestManager(exec, "/repo")

	err := m.MergeBranch(context.Background(), "feature-x")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errors.ErrMergeConflict) {
		t.Errorf("expected ErrMergeConflict, got %v", err)
	}
	var gitErr *errors.GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("expected *errors.GitError, got %T", err)
	}
	if gitErr.Branch != "feature-x" {
		t.Errorf("Branch = %q, want feature-x", gitErr.Branch)
	}

	last := exec.calls[len(exec.calls)-1]
	if last != "git merge --abort" {
		t.Errorf("conflicted merge must be aborted, last call = %q", last)
	}
}

func TestFetchBranch(t *testing.T) {
	exec := newFakeExecutor()
	m := newTestManager(exec, "/repo")

	if err := m.FetchBranch(context.Background(), "feature-x"); err != nil {
		t.Fatalf("FetchBranch: %v", err)
	}
	if exec.calls[0] != "git fetch origin feature-x" {
		t.Errorf("call = %q", exec.calls[0])
	}
}

func TestDiff(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["git diff main..origin/feature-x"] = "diff --git a/f b/f\n+added"
	m := newTestManager(exec, "/repo")

	diff, err := m.Diff(context.Background(), "feature-x")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.Contains(diff, "+added") {
		t.Errorf("diff = %q", diff)
	}
}

func TestListTrackedFiles(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["git ls-files"] = "a.go\n\ndocs/readme.md\n"
	m := newTestManager(exec, "/repo")

	files, err := m.ListTrackedFiles(context.Background())
	if err != nil {
		t.Fatalf("ListTrackedFiles: %v", err)
	}
	want := []string{
		filepath.Join("/repo", "a.go"),
		filepath.Join("/repo", "docs/readme.md"),
	}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestReadTextFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile := func(name, content string) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	writeFile("main.go", "package main\n")
	writeFile("assets/logo.bin", "binary\x00data")
	writeFile("big.txt", strings.Repeat("x", 2048))
	writeFile("vendor/dep.go", "package dep\n")

	exec := newFakeExecutor()
	exec.outputs["git ls-files"] = "main.go\nassets/logo.bin\nbig.txt\nvendor/dep.go\nmissing.txt"

	cfg := config.RepoConfig{
		Path:       dir,
		MainBranch: "main",
		Exclude:    []string{"vendor/**"},
	}
	comp := config.CompressionConfig{MaxFileBytes: 1024}
	m := NewManagerWithExecutor(cfg, comp, exec)

	contents, err := m.ReadTextFiles(context.Background())
	if err != nil {
		t.Fatalf("ReadTextFiles: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d entries, want 1: %v", len(contents), contents)
	}
	if !strings.HasPrefix(contents[0], "File: main.go\n") {
		t.Errorf("entry should carry the relative path header, got %q", contents[0][:40])
	}
}

func TestExcludePatterns(t *testing.T) {
	cfg := config.RepoConfig{
		Path:       "/repo",
		MainBranch: "main",
		Exclude:    []string{"*.lock", "node_modules/**", "[invalid"},
	}
	m := NewManager(cfg, config.CompressionConfig{MaxFileBytes: 1024})

	tests := []struct {
		rel  string
		want bool
	}{
		{"go.lock", true},
		{"node_modules/pkg/index.js", true},
		{"main.go", false},
		{"sub/go.lock", false},
	}
	for _, tt := range tests {
		if got := m.excluded(tt.rel); got != tt.want {
			t.Errorf("excluded(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}
