// Package ignore matches workspace paths against gitignore-style files.
package ignore

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName is the tool-specific ignore file looked up in the workspace root.
const FileName = ".entropyscanignore"

// Matcher reports whether a slash-separated relative path is ignored. The
// zero value ignores nothing.
type Matcher struct {
	gi     *gitignore.GitIgnore
	prefix string
}

// Match reports whether rel is ignored.
func (m Matcher) Match(rel string) bool {
	if m.gi == nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return m.gi.MatchesPath(rel)
}

// Under returns a matcher for paths relative to the subdirectory dir of the
// directory the ignore files were loaded from.
func (m Matcher) Under(dir string) Matcher {
	dir = strings.Trim(filepath.ToSlash(dir), "/")
	if dir == "." {
		dir = ""
	}
	m.prefix = path.Join(m.prefix, dir)
	return m
}

// Load reads the ignore files at paths, skipping ones that do not exist, and
// compiles them into a single matcher. Comments and blank lines are ignored.
func Load(paths ...string) (Matcher, error) {
	var lines []string
	for _, p := range paths {
		ls, err := readLines(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Matcher{}, err
		}
		lines = append(lines, ls...)
	}
	if len(lines) == 0 {
		return Matcher{}, nil
	}
	return Matcher{gi: gitignore.CompileIgnoreLines(lines...)}, nil
}

// LoadRoot loads .gitignore and FileName from root.
func LoadRoot(root string) (Matcher, error) {
	return Load(filepath.Join(root, ".gitignore"), filepath.Join(root, FileName))
}

func readLines(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
