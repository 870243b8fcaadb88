package exclusion

import (
	"path"
	"regexp"
	"strings"

	doublestar "github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
)

// Snapshot is a compiled, immutable exclusion configuration.
type Snapshot struct {
	signatures map[string]struct{}
	globs      []string
	patterns   []compiledPattern
	dropped    int
}

type compiledPattern struct {
	path    *regexp.Regexp
	content *regexp.Regexp
	scope   Scope
}

// Candidate is a finding together with the text surrounding it.
type Candidate struct {
	Text string
	Word string
	Line string
}

var empty = &Snapshot{signatures: map[string]struct{}{}}

// Compile validates cfg and builds a Snapshot. Malformed globs and regexes are
// dropped with a warning; the remaining entries still load.
func Compile(cfg Config, log zerolog.Logger) *Snapshot {
	s := &Snapshot{signatures: make(map[string]struct{}, len(cfg.Signatures))}
	for _, sig := range cfg.Signatures {
		sig = strings.TrimSpace(sig)
		if sig != "" {
			s.signatures[sig] = struct{}{}
		}
	}
	for _, g := range cfg.PathPatterns {
		g = strings.TrimPrefix(strings.TrimSpace(g), "./")
		if g == "" {
			continue
		}
		if !doublestar.ValidatePattern(g) {
			log.Warn().Str("pattern", g).Msg("dropping malformed path pattern")
			s.dropped++
			continue
		}
		s.globs = append(s.globs, g)
	}
	for _, p := range cfg.EntropyPatterns {
		pr, err := regexp.Compile(p.PathRegex)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p.String()).Msg("dropping entropy pattern with malformed path regex")
			s.dropped++
			continue
		}
		cr, err := regexp.Compile(p.ContentRegex)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p.String()).Msg("dropping entropy pattern with malformed content regex")
			s.dropped++
			continue
		}
		scope := p.Scope
		if scope == "" {
			scope = ScopeWord
		}
		s.patterns = append(s.patterns, compiledPattern{path: pr, content: cr, scope: scope})
	}
	return s
}

// ShouldScanPath reports whether a document at rel should be scanned. ok is
// false when no workspace-relative path could be resolved; such documents are
// always scanned.
func (s *Snapshot) ShouldScanPath(rel string, ok bool) bool {
	if !ok || len(s.globs) == 0 {
		return true
	}
	rel = path.Clean(strings.TrimPrefix(rel, "./"))
	for _, g := range s.globs {
		if m, _ := doublestar.Match(g, rel); m {
			return false
		}
	}
	return true
}

// IsSignatureExcluded reports exact membership in the signature list.
func (s *Snapshot) IsSignatureExcluded(sig string) bool {
	if sig == "" {
		return false
	}
	_, ok := s.signatures[sig]
	return ok
}

// IsEntropyPatternExcluded reports whether any entropy pattern whose path
// regex matches rel also matches findingText.
func (s *Snapshot) IsEntropyPatternExcluded(rel, findingText string) bool {
	return s.IsCandidateExcluded(rel, Candidate{Text: findingText})
}

// IsCandidateExcluded is IsEntropyPatternExcluded with the surrounding word
// and line available to patterns scoped to them. All matching pairs are
// considered, not only the first.
func (s *Snapshot) IsCandidateExcluded(rel string, c Candidate) bool {
	for _, p := range s.patterns {
		if !p.path.MatchString(rel) {
			continue
		}
		if p.content.MatchString(c.Text) {
			return true
		}
		switch p.scope {
		case ScopeWord:
			if c.Word != "" && p.content.MatchString(c.Word) {
				return true
			}
		case ScopeLine:
			if c.Line != "" && p.content.MatchString(c.Line) {
				return true
			}
		}
	}
	return false
}

// Len returns the number of loaded signatures, path patterns and entropy
// patterns.
func (s *Snapshot) Len() (signatures, paths, patterns int) {
	return len(s.signatures), len(s.globs), len(s.patterns)
}

// Dropped returns how many malformed entries were skipped while compiling.
func (s *Snapshot) Dropped() int { return s.dropped }
