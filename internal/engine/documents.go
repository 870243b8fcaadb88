package engine

import (
	"sort"
	"sync"

	xxhash "github.com/cespare/xxhash/v2"

	"github.com/redactyl/entropyscan/internal/exclusion"
)

// Publisher receives every result Documents produces. An empty result
// retracts whatever was previously published for the path. Publish is called
// with the Documents lock held and must not call back into Documents.
type Publisher interface {
	Publish(Result)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Result)

// Publish calls f(r).
func (f PublisherFunc) Publish(r Result) { f(r) }

// State is the scan state of a tracked document.
type State int

const (
	// Unscanned documents are unknown, closed, or path-excluded.
	Unscanned State = iota
	// Scanned documents have a current result.
	Scanned
)

func (s State) String() string {
	if s == Scanned {
		return "scanned"
	}
	return "unscanned"
}

type document struct {
	text   string
	hash   string
	gen    uint64
	root   string
	state  State
	result Result
}

// Documents tracks open documents and keeps their published results in step
// with edits, exclusion reloads and workspace root changes.
type Documents struct {
	engine *Engine
	pub    Publisher

	mu   sync.Mutex
	docs map[string]*document
}

// NewDocuments returns a Documents that scans with e and publishes to pub.
func NewDocuments(e *Engine, pub Publisher) *Documents {
	if pub == nil {
		pub = PublisherFunc(func(Result) {})
	}
	return &Documents{engine: e, pub: pub, docs: map[string]*document{}}
}

// Engine returns the engine used for scanning.
func (d *Documents) Engine() *Engine { return d.engine }

// Open starts tracking path and publishes its scan result.
func (d *Documents) Open(path, text string) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc := &document{text: text}
	d.docs[path] = doc
	return d.scanLocked(path, doc)
}

// Change replaces the text of path and publishes the new result. Unknown
// paths are opened.
func (d *Documents) Change(path, text string) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[path]
	if !ok {
		doc = &document{}
		d.docs[path] = doc
	}
	doc.text = text
	return d.scanLocked(path, doc)
}

// Close stops tracking path and publishes an empty result for it.
func (d *Documents) Close(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.docs, path)
	d.pub.Publish(emptyResult(path))
}

// Reload replaces the exclusion configuration and re-scans every open
// document.
func (d *Documents) Reload(cfg exclusion.Config) {
	d.engine.overlay.Replace(cfg)
	d.Rescan()
}

// ResetConfig clears all exclusions and re-scans every open document.
func (d *Documents) ResetConfig() {
	d.engine.overlay.Reset()
	d.Rescan()
}

// SetRoot changes the workspace root and re-scans every open document.
func (d *Documents) SetRoot(root string) {
	d.engine.SetRoot(root)
	d.Rescan()
}

// Rescan re-scans and republishes every open document in path order.
func (d *Documents) Rescan() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pathsLocked() {
		d.scanLocked(p, d.docs[p])
	}
}

// Result returns the last result produced for path.
func (d *Documents) Result(path string) (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[path]
	if !ok {
		return Result{}, false
	}
	return doc.result, true
}

// State returns the scan state of path.
func (d *Documents) State(path string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if doc, ok := d.docs[path]; ok {
		return doc.state
	}
	return Unscanned
}

// Paths returns the tracked document paths, sorted.
func (d *Documents) Paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pathsLocked()
}

func (d *Documents) pathsLocked() []string {
	out := make([]string, 0, len(d.docs))
	for p := range d.docs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (d *Documents) scanLocked(path string, doc *document) Result {
	// The generation is read before the snapshot so a concurrent reload can
	// only make the cached stamp look stale, never fresh.
	gen := d.engine.overlay.Generation()
	snap := d.engine.overlay.Snapshot()
	root := d.engine.Root()
	h := fastHash([]byte(doc.text))

	if doc.state != Scanned || doc.hash != h || doc.gen != gen || doc.root != root {
		res := d.engine.scanWith(snap, root, doc.text, path)
		doc.result = res
		doc.hash, doc.gen, doc.root = h, gen, root
		if res.PathExcluded {
			doc.state = Unscanned
		} else {
			doc.state = Scanned
		}
	}
	d.pub.Publish(doc.result)
	return doc.result
}

func fastHash(b []byte) string {
	if len(b) == 0 {
		return "0000000000000000"
	}
	sum := xxhash.Sum64(b)
	var buf [16]byte
	const hex = "0123456789abcdef"
	for i := 15; i >= 0; i-- {
		buf[i] = hex[sum&0xF]
		sum >>= 4
	}
	return string(buf[:])
}
