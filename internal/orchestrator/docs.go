package orchestrator

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// loadDocs collects documentation text from the configured docs
// directory (markdown and plain text only) plus the repository README.
// Each file is prefixed with its repo-relative path. Unreadable files
// are skipped; the digest is best effort.
func loadDocs(repoPath, docsPath string, includeReadme bool) string {
	var texts []string

	dir := filepath.Join(repoPath, docsPath)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			name := strings.ToLower(d.Name())
			if !strings.HasSuffix(name, ".md") && !strings.HasSuffix(name, ".txt") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(repoPath, path)
			if err != nil {
				rel = path
			}
			texts = append(texts, "File: "+filepath.ToSlash(rel)+"\n"+string(data))
			return nil
		})
	}

	if includeReadme {
		readme := filepath.Join(repoPath, "README.md")
		if data, err := os.ReadFile(readme); err == nil {
			texts = append(texts, "File: README.md\n"+string(data))
		}
	}

	return strings.Join(texts, "\n\n")
}
