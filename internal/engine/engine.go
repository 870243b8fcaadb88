package engine

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/redactyl/entropyscan/internal/detectors"
	"github.com/redactyl/entropyscan/internal/exclusion"
	"github.com/redactyl/entropyscan/internal/signature"
	"github.com/redactyl/entropyscan/internal/types"
)

// Result is the outcome of scanning one document. Findings is never nil; an
// empty slice means the document has nothing to report.
type Result struct {
	Path         string          `json:"path"`
	RelPath      string          `json:"rel_path,omitempty"`
	Findings     []types.Finding `json:"findings"`
	Suppressed   int             `json:"suppressed"`
	PathExcluded bool            `json:"path_excluded,omitempty"`
}

// Empty reports whether the result carries no findings.
func (r Result) Empty() bool { return len(r.Findings) == 0 }

func emptyResult(path string) Result {
	return Result{Path: path, Findings: []types.Finding{}}
}

// Engine scans documents against a workspace root and an exclusion overlay.
// It is safe for concurrent use.
type Engine struct {
	classifier *detectors.Classifier
	overlay    *exclusion.Overlay
	log        zerolog.Logger

	mu   sync.RWMutex
	root string
}

// Option configures an Engine.
type Option func(*Engine)

// WithAlphabets replaces the default base64 and hex alphabets.
func WithAlphabets(alphabets ...detectors.Alphabet) Option {
	return func(e *Engine) {
		e.classifier = detectors.NewClassifier(alphabets...)
	}
}

// WithOverlay shares an existing exclusion overlay.
func WithOverlay(o *exclusion.Overlay) Option {
	return func(e *Engine) {
		e.overlay = o
	}
}

// WithLogger sets the logger used by the engine and its default overlay.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithRoot sets the workspace root used to resolve relative paths.
func WithRoot(root string) Option {
	return func(e *Engine) {
		e.root = cleanRoot(root)
	}
}

// New returns an Engine with an empty exclusion overlay unless one is given.
func New(opts ...Option) *Engine {
	e := &Engine{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.classifier == nil {
		e.classifier = detectors.NewClassifier()
	}
	if e.overlay == nil {
		e.overlay = exclusion.NewOverlay(e.log)
	}
	return e
}

// Overlay returns the exclusion overlay the engine reads from.
func (e *Engine) Overlay() *exclusion.Overlay { return e.overlay }

// Alphabets returns the alphabets the engine classifies with.
func (e *Engine) Alphabets() []detectors.Alphabet { return e.classifier.Alphabets() }

// Root returns the workspace root, or "" when none is known.
func (e *Engine) Root() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.root
}

// SetRoot changes the workspace root. An empty root disables path resolution.
func (e *Engine) SetRoot(root string) {
	e.mu.Lock()
	e.root = cleanRoot(root)
	e.mu.Unlock()
}

func cleanRoot(root string) string {
	if root == "" {
		return ""
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return filepath.Clean(root)
}

// RelativePath resolves docPath against the workspace root and returns a
// slash-separated relative path. ok is false when there is no root, when
// docPath is not absolute (unsaved buffers, stdin) or when it lies outside
// the root.
func (e *Engine) RelativePath(docPath string) (rel string, ok bool) {
	return relativeTo(e.Root(), docPath)
}

func relativeTo(root, docPath string) (string, bool) {
	if root == "" || docPath == "" {
		return "", false
	}
	p := filepath.FromSlash(docPath)
	if !filepath.IsAbs(p) {
		return "", false
	}
	r, err := filepath.Rel(root, filepath.Clean(p))
	if err != nil {
		return "", false
	}
	r = filepath.ToSlash(r)
	if r == "." || r == ".." || strings.HasPrefix(r, "../") {
		return "", false
	}
	return r, true
}

// ShouldScan reports whether docPath passes the path exclusions of the
// current snapshot.
func (e *Engine) ShouldScan(docPath string) bool {
	rel, ok := e.RelativePath(docPath)
	return e.overlay.Snapshot().ShouldScanPath(rel, ok)
}

// Scan classifies text and filters the findings through the current
// exclusion snapshot. The same snapshot is used for the whole call.
func (e *Engine) Scan(text, docPath string) Result {
	return e.scanWith(e.overlay.Snapshot(), e.Root(), text, docPath)
}

func (e *Engine) scanWith(snap *exclusion.Snapshot, root, text, docPath string) Result {
	res := emptyResult(docPath)
	rel, ok := relativeTo(root, docPath)
	res.RelPath = rel
	if !snap.ShouldScanPath(rel, ok) {
		res.PathExcluded = true
		return res
	}
	for _, f := range e.classifier.Classify(text) {
		f.Path = docPath
		if ok {
			f.Path = rel
			f.Signature = signature.Of(f.Match, rel)
			if snap.IsSignatureExcluded(f.Signature) {
				res.Suppressed++
				continue
			}
			if snap.IsCandidateExcluded(rel, candidate(text, f)) {
				res.Suppressed++
				continue
			}
		}
		res.Findings = append(res.Findings, f)
	}
	if res.Suppressed > 0 {
		e.log.Debug().Str("path", docPath).Int("suppressed", res.Suppressed).Msg("findings excluded")
	}
	return res
}

// candidate returns f with the whitespace-delimited word and the line it was
// found in.
func candidate(text string, f types.Finding) exclusion.Candidate {
	start, end := f.Offset, f.End()
	ls := strings.LastIndexByte(text[:start], '\n') + 1
	le := strings.IndexByte(text[end:], '\n')
	if le < 0 {
		le = len(text)
	} else {
		le += end
	}
	ws := start
	for ws > ls && !isSpace(text[ws-1]) {
		ws--
	}
	we := end
	for we < le && !isSpace(text[we]) {
		we++
	}
	return exclusion.Candidate{
		Text: f.Match,
		Word: text[ws:we],
		Line: strings.TrimSuffix(text[ls:le], "\r"),
	}
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\v', '\f':
		return true
	}
	return false
}
