// Package git resolves workspace roots and tracked files using go-git.
package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
)

// ErrNotRepository is returned when no repository encloses the given path.
var ErrNotRepository = errors.New("not inside a git repository")

// validateRoot validates and normalizes a directory path.
// Returns the cleaned absolute path or an error if invalid.
func validateRoot(root string) (string, error) {
	if strings.ContainsRune(root, 0) {
		return "", fmt.Errorf("invalid path: contains null byte")
	}
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cannot access path %q: %w", root, err)
	}
	if !info.IsDir() {
		abs = filepath.Dir(abs)
	}
	return abs, nil
}

func open(path string) (*gogit.Repository, error) {
	dir, err := validateRoot(path)
	if err != nil {
		return nil, err
	}
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, ErrNotRepository
	}
	return repo, err
}

// Root returns the worktree root of the repository enclosing path.
func Root(path string) (string, error) {
	repo, err := open(path)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

// WorkspaceRoot returns the repository root enclosing path, or path itself
// (as an absolute directory) when it is not inside a repository.
func WorkspaceRoot(path string) (string, error) {
	if root, err := Root(path); err == nil {
		return root, nil
	}
	return validateRoot(path)
}

// TrackedFiles lists the slash-separated paths in the index of the repository
// at root, sorted.
func TrackedFiles(root string) ([]string, error) {
	repo, err := open(root)
	if err != nil {
		return nil, err
	}
	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	out := make([]string, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out, nil
}
