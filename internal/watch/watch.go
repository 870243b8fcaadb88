// Package watch reports debounced file changes under a workspace root.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits for a burst of changes to
// settle before reporting it.
const DefaultDebounce = 200 * time.Millisecond

// Event is a change to one file. Events for the same path within a debounce
// window are merged.
type Event struct {
	Path    string // absolute
	Rel     string // slash-separated, relative to the root
	Removed bool
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	log      zerolog.Logger
	debounce time.Duration
	skipDir  func(name string) bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// WithDebounce sets the settle interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithSkipDir excludes directories whose base name satisfies skip.
func WithSkipDir(skip func(name string) bool) Option {
	return func(w *Watcher) { w.skipDir = skip }
}

// New starts watching root and every directory below it.
func New(root string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     abs,
		fsw:      fsw,
		log:      zerolog.Nop(),
		debounce: DefaultDebounce,
		skipDir:  func(name string) bool { return name == ".git" },
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addTree(abs); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the absolute watched root.
func (w *Watcher) Root() string { return w.root }

// Close stops the underlying watcher. Run returns once it notices.
func (w *Watcher) Close() error { return w.fsw.Close() }

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.log.Warn().Err(err).Str("dir", p).Msg("cannot watch directory")
		}
		return nil
	})
}

// Run delivers batches of changes to handle until ctx is done or the watcher
// is closed. Batches are sorted by path. handle runs on the Run goroutine.
func (w *Watcher) Run(ctx context.Context, handle func([]Event)) error {
	pending := map[string]Event{}
	var timer *time.Timer
	var fire <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]Event, 0, len(pending))
		for _, ev := range pending {
			batch = append(batch, ev)
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
		pending = map[string]Event{}
		handle(batch)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-fire:
			fire = nil
			flush()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				flush()
				return nil
			}
			if !w.accept(ev) {
				continue
			}
			rel, err := filepath.Rel(w.root, ev.Name)
			if err != nil {
				continue
			}
			pending[ev.Name] = Event{
				Path:    ev.Name,
				Rel:     filepath.ToSlash(rel),
				Removed: ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename),
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				flush()
				return nil
			}
			w.log.Warn().Err(err).Msg("file watcher error")
		}
	}
}

// accept filters out chmod-only events and registers new directories.
func (w *Watcher) accept(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.skipDir(filepath.Base(ev.Name)) {
				if err := w.addTree(ev.Name); err != nil {
					w.log.Warn().Err(err).Str("dir", ev.Name).Msg("cannot watch new directory")
				}
			}
			return false
		}
	}
	w.log.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("file changed")
	return true
}
