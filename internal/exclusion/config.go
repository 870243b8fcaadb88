package exclusion

import "strings"

// PatternSeparator splits the string form "pathRegex::contentRegex".
const PatternSeparator = "::"

// Scope selects which text a content regex is tested against, in addition to
// the finding itself.
type Scope string

const (
	// ScopeMatch tests only the finding text.
	ScopeMatch Scope = "match"
	// ScopeWord also tests the whitespace-delimited word holding the finding.
	ScopeWord Scope = "word"
	// ScopeLine also tests the full line holding the finding.
	ScopeLine Scope = "line"
)

// EntropyPattern suppresses findings whose text matches ContentRegex in files
// whose relative path matches PathRegex.
type EntropyPattern struct {
	PathRegex    string
	ContentRegex string
	Scope        Scope
	Reason       string
}

// Config is the typed exclusion configuration. A zero Config excludes nothing.
type Config struct {
	Signatures      []string
	PathPatterns    []string
	EntropyPatterns []EntropyPattern
}

// ParseEntropyPattern parses the "pathRegex::contentRegex" string form. The
// split happens at the first separator so content regexes may contain "::".
func ParseEntropyPattern(s string) (EntropyPattern, bool) {
	path, content, ok := strings.Cut(s, PatternSeparator)
	if !ok {
		return EntropyPattern{}, false
	}
	return EntropyPattern{PathRegex: path, ContentRegex: content, Scope: ScopeWord}, true
}

// String renders p in the "pathRegex::contentRegex" form.
func (p EntropyPattern) String() string {
	return p.PathRegex + PatternSeparator + p.ContentRegex
}

// Empty reports whether c excludes nothing.
func (c Config) Empty() bool {
	return len(c.Signatures) == 0 && len(c.PathPatterns) == 0 && len(c.EntropyPatterns) == 0
}
