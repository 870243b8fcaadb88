package engine

import (
	"path"
	"strings"

	doublestar "github.com/bmatcuk/doublestar/v4"
)

var defaultExcludeDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"target":       true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"out":          true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	"coverage":     true,
	".tox":         true,
	".mypy_cache":  true,
}

// Suffixes treated as binary or generated noise when default excludes are on.
var defaultExcludeFileSuffixes = []string{
	".min.js", ".map",
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg",
	".pdf", ".zip", ".gz", ".tar", ".tgz", ".7z",
	".jar", ".class", ".exe", ".dll", ".so",
	".wasm", ".pyc",
	".woff", ".woff2", ".ttf", ".ico",
}

// Lowercased base names skipped when default excludes are on.
var defaultExcludeFileNames = map[string]bool{
	"yarn.lock":         true,
	"package-lock.json": true,
	"pnpm-lock.yaml":    true,
	"composer.lock":     true,
	"poetry.lock":       true,
	".ds_store":         true,
}

// IsDefaultDirExcluded reports whether a directory with this base name is
// skipped when default excludes are on.
func IsDefaultDirExcluded(name string) bool { return isDefaultDirExcluded(name) }

func isDefaultDirExcluded(name string) bool {
	return defaultExcludeDirs[name]
}

func isDefaultFileExcluded(lowerRel string) bool {
	// fast check for any *.lock
	if strings.HasSuffix(lowerRel, ".lock") {
		return true
	}
	for _, s := range defaultExcludeFileSuffixes {
		if strings.HasSuffix(lowerRel, s) {
			return true
		}
	}
	return defaultExcludeFileNames[path.Base(lowerRel)]
}

// allowedByGlobs reports whether rel passes the comma-separated include and
// exclude globs of cfg. Includes, when present, must match; excludes are
// subtracted last. A glob matches either the full path or the base name.
func allowedByGlobs(rel string, cfg Config) bool {
	rp := strings.ReplaceAll(rel, "\\", "/")
	if includes := parseGlobsList(cfg.IncludeGlobs); len(includes) > 0 && !matchAnyGlob(rp, includes) {
		return false
	}
	if excludes := parseGlobsList(cfg.ExcludeGlobs); len(excludes) > 0 && matchAnyGlob(rp, excludes) {
		return false
	}
	return true
}

func parseGlobsList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p, trimGlobPrefix(p))
		}
	}
	return out
}

func matchAnyGlob(p string, globs []string) bool {
	base := path.Base(p)
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, base); ok {
			return true
		}
	}
	return false
}

func trimGlobPrefix(g string) string {
	s := strings.TrimPrefix(g, "./")
	for strings.HasPrefix(s, "**/") {
		s = strings.TrimPrefix(s, "**/")
	}
	return s
}
