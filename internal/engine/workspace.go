package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redactyl/entropyscan/internal/git"
	"github.com/redactyl/entropyscan/internal/ignore"
	"github.com/redactyl/entropyscan/internal/types"
)

// Config controls a workspace scan: scope, filters and parallelism.
type Config struct {
	Root            string
	IncludeGlobs    string
	ExcludeGlobs    string
	MaxBytes        int64
	Threads         int
	DefaultExcludes bool
	TrackedOnly     bool
	Progress        func()
}

// WorkspaceResult collects the per-file results of a workspace scan in walk
// order, with basic statistics.
type WorkspaceResult struct {
	Files        []Result
	FilesScanned int
	PathExcluded int
	Suppressed   int
	Duration     time.Duration
}

// Findings returns every finding across all files, in walk order.
func (w WorkspaceResult) Findings() []types.Finding {
	out := []types.Finding{}
	for _, r := range w.Files {
		out = append(out, r.Findings...)
	}
	return out
}

// ScanWorkspace walks cfg.Root and scans every eligible file with at most
// cfg.Threads files in flight. The engine root is used for signatures and,
// when cfg.Root lies below it, for the ignore files. Cancellation is checked
// between files.
func (e *Engine) ScanWorkspace(ctx context.Context, cfg Config) (WorkspaceResult, error) {
	var out WorkspaceResult
	started := time.Now()
	if cfg.Root == "" {
		cfg.Root = e.Root()
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return out, fmt.Errorf("resolve root: %w", err)
	}
	cfg.Root = root
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.GOMAXPROCS(0)
	}

	engineRoot := e.Root()
	if engineRoot == "" {
		engineRoot = root
	}
	ignRoot, sub := root, ""
	if p, ok := relativeTo(engineRoot, root); ok {
		ignRoot, sub = engineRoot, p
	}
	ign, err := ignore.LoadRoot(ignRoot)
	if err != nil {
		e.log.Warn().Err(err).Msg("ignore files unreadable; continuing without them")
	}
	ign = ign.Under(sub)
	var tracked map[string]bool
	if cfg.TrackedOnly {
		tracked, err = trackedUnder(root)
		if err != nil {
			return out, fmt.Errorf("list tracked files: %w", err)
		}
	}

	var paths []string
	if err := Walk(ctx, cfg, ign, tracked, func(rel string) { paths = append(paths, rel) }); err != nil {
		return out, err
	}

	type slot struct {
		res     Result
		scanned bool
	}
	slots := make([]slot, len(paths))
	snap := e.overlay.Snapshot()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Threads)
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			abs := filepath.Join(root, filepath.FromSlash(rel))
			if cfg.Progress != nil {
				defer cfg.Progress()
			}
			if docRel, ok := relativeTo(engineRoot, abs); !snap.ShouldScanPath(docRel, ok) {
				slots[i] = slot{res: Result{Path: abs, RelPath: docRel, Findings: []types.Finding{}, PathExcluded: true}}
				return nil
			}
			text, ok := ReadText(abs)
			if !ok {
				return nil
			}
			slots[i] = slot{res: e.scanWith(snap, engineRoot, text, abs), scanned: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	for _, s := range slots {
		switch {
		case s.res.PathExcluded:
			out.PathExcluded++
		case s.scanned:
			out.FilesScanned++
			out.Suppressed += s.res.Suppressed
			out.Files = append(out.Files, s.res)
		}
	}
	out.Duration = time.Since(started)
	e.log.Debug().Int("files", out.FilesScanned).Int("path_excluded", out.PathExcluded).
		Int("suppressed", out.Suppressed).Dur("duration", out.Duration).Msg("workspace scanned")
	return out, nil
}

// trackedUnder returns the tracked files below dir, relative to dir. dir may
// be a subdirectory of the work tree.
func trackedUnder(dir string) (map[string]bool, error) {
	repoRoot, err := git.Root(dir)
	if err != nil {
		return nil, err
	}
	files, err := git.TrackedFiles(repoRoot)
	if err != nil {
		return nil, err
	}
	prefix, err := filepath.Rel(repoRoot, dir)
	if err != nil {
		return nil, err
	}
	prefix = filepath.ToSlash(prefix)
	out := make(map[string]bool, len(files))
	for _, f := range files {
		if prefix == "." {
			out[f] = true
			continue
		}
		if rest, ok := strings.CutPrefix(f, prefix+"/"); ok {
			out[rest] = true
		}
	}
	return out, nil
}
