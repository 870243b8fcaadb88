package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/redactyl/entropyscan/internal/exclusion"
)

// ErrNoExclusionFile is returned when the workspace root holds neither a
// tartufo.toml nor a pyproject.toml with a [tool.tartufo] table.
var ErrNoExclusionFile = errors.New("no tartufo configuration found")

const (
	// TartufoFile is the dedicated exclusion file name.
	TartufoFile = "tartufo.toml"
	// PyprojectFile holds exclusions under [tool.tartufo].
	PyprojectFile = "pyproject.toml"

	keySignatures      = "exclude-signatures"
	keyPathPatterns    = "exclude-path-patterns"
	keyEntropyPatterns = "exclude-entropy-patterns"
)

type tartufoDoc struct {
	Tool struct {
		Tartufo *tartufoTable `toml:"tartufo"`
	} `toml:"tool"`
}

type tartufoTable struct {
	ExcludeSignatures      []any `toml:"exclude-signatures"`
	ExcludePathPatterns    []any `toml:"exclude-path-patterns"`
	ExcludeEntropyPatterns []any `toml:"exclude-entropy-patterns"`
}

// FindExclusionFile returns tartufo.toml in root if present, otherwise
// pyproject.toml if it has a [tool.tartufo] table.
func FindExclusionFile(root string) (string, error) {
	if root == "" {
		return "", ErrNoExclusionFile
	}
	p := filepath.Join(root, TartufoFile)
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	p = filepath.Join(root, PyprojectFile)
	b, err := os.ReadFile(p)
	if err != nil {
		return "", ErrNoExclusionFile
	}
	var doc tartufoDoc
	if err := toml.Unmarshal(b, &doc); err != nil || doc.Tool.Tartufo == nil {
		return "", ErrNoExclusionFile
	}
	return p, nil
}

// LoadExclusions discovers and parses the exclusion file in root. It returns
// the file it read. On any error the returned config is empty so callers can
// reset their exclusions to it.
func LoadExclusions(root string) (exclusion.Config, string, error) {
	p, err := FindExclusionFile(root)
	if err != nil {
		return exclusion.Config{}, "", err
	}
	cfg, err := LoadExclusionsFile(p)
	return cfg, p, err
}

// ResolveExclusionsFile returns the exclusion file override resolved
// against root. It returns "" when override is empty, or when it is relative
// and root is unknown.
func ResolveExclusionsFile(root, override string) string {
	if override == "" || filepath.IsAbs(override) {
		return override
	}
	if root == "" {
		return ""
	}
	return filepath.Join(root, override)
}

// LoadExclusionsWith reads override when set, otherwise discovers the
// exclusion file in root.
func LoadExclusionsWith(root, override string) (exclusion.Config, string, error) {
	if override == "" {
		return LoadExclusions(root)
	}
	p := ResolveExclusionsFile(root, override)
	if p == "" {
		return exclusion.Config{}, override, ErrNoExclusionFile
	}
	cfg, err := LoadExclusionsFile(p)
	return cfg, p, err
}

// LoadExclusionsFile parses the [tool.tartufo] table of the TOML file at
// path. Entries of the wrong shape are skipped; a missing table yields an
// empty config.
func LoadExclusionsFile(path string) (exclusion.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return exclusion.Config{}, err
	}
	var doc tartufoDoc
	if err := toml.Unmarshal(b, &doc); err != nil {
		return exclusion.Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	t := doc.Tool.Tartufo
	if t == nil {
		return exclusion.Config{}, nil
	}
	var cfg exclusion.Config
	for _, v := range t.ExcludeSignatures {
		if s := stringOrKey(v, "signature"); s != "" {
			cfg.Signatures = append(cfg.Signatures, s)
		}
	}
	for _, v := range t.ExcludePathPatterns {
		if s := stringOrKey(v, "path-pattern"); s != "" {
			cfg.PathPatterns = append(cfg.PathPatterns, s)
		}
	}
	for _, v := range t.ExcludeEntropyPatterns {
		if p, ok := entropyPattern(v); ok {
			cfg.EntropyPatterns = append(cfg.EntropyPatterns, p)
		}
	}
	return cfg, nil
}

// stringOrKey accepts either a bare string or a table holding key.
func stringOrKey(v any, key string) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case map[string]any:
		s, _ := x[key].(string)
		return strings.TrimSpace(s)
	}
	return ""
}

// entropyPattern accepts "pathRegex::contentRegex" or a table with
// path-pattern, pattern and the optional reason, scope and match-type keys.
// match-type "match" anchors both regexes at the start.
func entropyPattern(v any) (exclusion.EntropyPattern, bool) {
	switch x := v.(type) {
	case string:
		return exclusion.ParseEntropyPattern(x)
	case map[string]any:
		path, _ := x["path-pattern"].(string)
		content, _ := x["pattern"].(string)
		if content == "" {
			return exclusion.EntropyPattern{}, false
		}
		if path == "" {
			path = ".*"
		}
		p := exclusion.EntropyPattern{PathRegex: path, ContentRegex: content, Scope: exclusion.ScopeWord}
		p.Reason, _ = x["reason"].(string)
		if s, _ := x["scope"].(string); s != "" {
			p.Scope = exclusion.Scope(strings.ToLower(s))
		}
		if mt, _ := x["match-type"].(string); strings.EqualFold(mt, "match") {
			p.PathRegex = "^(?:" + p.PathRegex + ")"
			p.ContentRegex = "^(?:" + p.ContentRegex + ")"
		}
		return p, true
	}
	return exclusion.EntropyPattern{}, false
}

// AddSignatureExclusion appends sig to exclude-signatures in the exclusion
// file of root, creating tartufo.toml when none exists. It reports the file
// written and whether sig was new.
func AddSignatureExclusion(root, sig string) (string, bool, error) {
	p, n, err := AddSignatureExclusions(root, sig)
	return p, n > 0, err
}

// AddSignatureExclusions is AddSignatureExclusion for several signatures. It
// returns the number actually added.
func AddSignatureExclusions(root string, sigs ...string) (string, int, error) {
	p, err := FindExclusionFile(root)
	if errors.Is(err, ErrNoExclusionFile) {
		if root == "" {
			return "", 0, errors.New("no workspace root")
		}
		p = filepath.Join(root, TartufoFile)
	}
	n, err := AppendSignatures(p, sigs...)
	return p, n, err
}

// AppendSignatures adds sigs to exclude-signatures in the TOML file at path,
// skipping ones already listed. A missing file is created. Existing files are
// edited in place, so comments, key order and unrelated tables are untouched.
// A dedicated exclusion file (anything but pyproject.toml) without
// exclude-path-patterns gets a glob for its own name seeded there so the
// signatures it holds are not reported themselves.
func AppendSignatures(path string, sigs ...string) (int, error) {
	base := filepath.Base(path)
	src, err := os.ReadFile(path)
	missing := errors.Is(err, os.ErrNotExist)
	if err != nil && !missing {
		return 0, err
	}
	var doc tartufoDoc
	if err := toml.Unmarshal(src, &doc); err != nil {
		return 0, fmt.Errorf("parse %s: %w", base, err)
	}

	seen := map[string]bool{}
	listed := 0
	if t := doc.Tool.Tartufo; t != nil {
		listed = len(t.ExcludeSignatures)
		for _, v := range t.ExcludeSignatures {
			seen[stringOrKey(v, "signature")] = true
		}
	}
	var fresh []string
	for _, s := range sigs {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		fresh = append(fresh, s)
	}
	if len(fresh) == 0 && !missing {
		return 0, nil
	}

	headers, entries := scanTOML(src)
	var sigEntry *tomlEntry
	hasPatterns := false
	for i := range entries {
		switch entries[i].path {
		case "tool.tartufo." + keySignatures:
			sigEntry = &entries[i]
		case "tool.tartufo." + keyPathPatterns:
			hasPatterns = true
		}
	}
	var header *tomlHeader
	for i := range headers {
		if headers[i].name == "tool.tartufo" {
			header = &headers[i]
			break
		}
	}
	canAddKeys := header != nil || doc.Tool.Tartufo == nil

	var ins []tomlInsert
	var keys []string
	if !hasPatterns && base != PyprojectFile && canAddKeys {
		keys = append(keys, keyPathPatterns+" = ["+tomlQuote("**/"+base)+"]")
	}
	switch {
	case sigEntry != nil:
		end := sigEntry.valueEnd - 1
		if src[sigEntry.valueStart] != '[' || end < 0 || src[end] != ']' {
			return 0, fmt.Errorf("update %s: %s is not an array", base, keySignatures)
		}
		ins = appendToArray(src, sigEntry.valueStart, end, fresh)
	case canAddKeys:
		keys = append(keys, keySignatures+" = "+tomlArray(fresh))
	default:
		return 0, fmt.Errorf("update %s: [tool.tartufo] is not a standalone table", base)
	}

	if len(keys) > 0 {
		block := strings.Join(keys, "\n") + "\n"
		switch {
		case header != nil:
			if header.end == len(src) && !bytes.HasSuffix(src, []byte("\n")) {
				block = "\n" + block
			}
			ins = append(ins, tomlInsert{at: header.end, text: block})
		default:
			prefix := ""
			if len(src) > 0 {
				if !bytes.HasSuffix(src, []byte("\n")) {
					prefix = "\n"
				}
				prefix += "\n"
			}
			ins = append(ins, tomlInsert{at: len(src), text: prefix + "[tool.tartufo]\n" + block})
		}
	}

	out := applyInserts(src, ins)
	var check tartufoDoc
	if err := toml.Unmarshal(out, &check); err != nil || check.Tool.Tartufo == nil ||
		len(check.Tool.Tartufo.ExcludeSignatures) != listed+len(fresh) {
		return 0, fmt.Errorf("update %s: could not edit %s in place", base, keySignatures)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return 0, err
	}
	return len(fresh), nil
}
