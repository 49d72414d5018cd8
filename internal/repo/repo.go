// Package repo controls the local working copy of the supervised
// repository through the git CLI.
//
// Every mutation happens via `git` subprocesses rooted at the configured
// repository path. The manager never writes files itself; it only syncs,
// fetches, merges, and reads tracked content for the codebase digest.
package repo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"

	"github.com/lukehenning/shepherd/internal/config"
	"github.com/lukehenning/shepherd/internal/errors"
)

// CommandExecutor abstracts git command execution for testability.
type CommandExecutor interface {
	// Run executes a command in dir and returns combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// Run executes a command in dir and returns combined output.
func (CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Manager runs git operations against the supervised working copy.
type Manager struct {
	cfg      config.RepoConfig
	comp     config.CompressionConfig
	executor CommandExecutor
	excludes []glob.Glob
}

// NewManager creates a Manager for the configured repository.
// Invalid exclude patterns are skipped rather than rejected; the digest
// is advisory and a bad pattern should not stop supervision.
func NewManager(cfg config.RepoConfig, comp config.CompressionConfig) *Manager {
	m := &Manager{
		cfg:      cfg,
		comp:     comp,
		executor: CLICommandExecutor{},
	}
	for _, pattern := range cfg.Exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			continue
		}
		m.excludes = append(m.excludes, g)
	}
	return m
}

// NewManagerWithExecutor creates a Manager with a custom executor.
// This is primarily useful for testing.
func NewManagerWithExecutor(cfg config.RepoConfig, comp config.CompressionConfig, executor CommandExecutor) *Manager {
	m := NewManager(cfg, comp)
	m.executor = executor
	return m
}

// Path returns the working copy root.
func (m *Manager) Path() string { return m.cfg.Path }

// MainBranch returns the configured main branch name.
func (m *Manager) MainBranch() string { return m.cfg.MainBranch }

func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	output, err := m.executor.Run(ctx, m.cfg.Path, "git", args...)
	if err != nil {
		return "", errors.NewGitError("git "+strings.Join(args, " "), err).
			WithOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// Validate checks that the configured path is a git working copy.
func (m *Manager) Validate(ctx context.Context) error {
	info, err := os.Stat(m.cfg.Path)
	if err != nil || !info.IsDir() {
		return errors.NewGitError("repository path does not exist", errors.ErrNotGitRepository).
			WithOutput(m.cfg.Path)
	}
	if _, err := m.git(ctx, "rev-parse", "--git-dir"); err != nil {
		return errors.NewGitError("not a git repository", errors.ErrNotGitRepository).
			WithOutput(m.cfg.Path)
	}
	return nil
}

// SyncMain checks out the main branch and pulls the latest from origin.
func (m *Manager) SyncMain(ctx context.Context) error {
	if _, err := m.git(ctx, "checkout", m.cfg.MainBranch); err != nil {
		return err
	}
	_, err := m.git(ctx, "pull", "origin", m.cfg.MainBranch)
	return err
}

// FetchBranch fetches a remote branch from origin.
func (m *Manager) FetchBranch(ctx context.Context, branch string) error {
	if _, err := m.git(ctx, "fetch", "origin", branch); err != nil {
		return errors.NewGitError("fetch failed", err).WithBranch(branch)
	}
	return nil
}

// MergeBranch merges origin/<branch> into the main branch.
// The working copy is left on main regardless of outcome; a conflicted
// merge is aborted before returning so the next cycle starts clean.
func (m *Manager) MergeBranch(ctx context.Context, branch string) error {
	if _, err := m.git(ctx, "checkout", m.cfg.MainBranch); err != nil {
		return err
	}
	if _, err := m.git(ctx, "merge", "origin/"+branch); err != nil {
		// Leave no half-merged state behind.
		_, _ = m.git(ctx, "merge", "--abort")
		return errors.NewGitError("merge failed", errors.ErrMergeConflict).
			WithBranch(branch).
			WithOutput(err.Error())
	}
	return nil
}

// Diff returns the diff between main and origin/<branch>.
func (m *Manager) Diff(ctx context.Context, branch string) (string, error) {
	out, err := m.git(ctx, "diff", m.cfg.MainBranch+"..origin/"+branch)
	if err != nil {
		return "", errors.NewGitError("diff failed", err).WithBranch(branch)
	}
	return out, nil
}

// ListTrackedFiles returns absolute paths of all git-tracked files.
func (m *Manager) ListTrackedFiles(ctx context.Context) ([]string, error) {
	out, err := m.git(ctx, "ls-files")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		files = append(files, filepath.Join(m.cfg.Path, line))
	}
	return files, nil
}

// ReadTextFiles reads every tracked text file, skipping binaries,
// oversized files, and paths matching the configured exclude globs.
// Each entry is prefixed with "File: <relative path>" so downstream
// summarization keeps file identity.
func (m *Manager) ReadTextFiles(ctx context.Context) ([]string, error) {
	paths, err := m.ListTrackedFiles(ctx)
	if err != nil {
		return nil, err
	}
	var contents []string
	for _, path := range paths {
		rel, err := filepath.Rel(m.cfg.Path, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		if m.excluded(rel) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.Size() > m.comp.MaxFileBytes {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if isBinary(data) || !utf8.Valid(data) {
			continue
		}
		contents = append(contents, "File: "+rel+"\n"+string(data))
	}
	return contents, nil
}

func (m *Manager) excluded(rel string) bool {
	for _, g := range m.excludes {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// isBinary reports whether data looks like binary content.
// A NUL byte in the first 4KB is treated as binary, matching git's
// own heuristic.
func isBinary(data []byte) bool {
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	for _, b := range sample {
		if b == 0 {
			return true
		}
	}
	return false
}
