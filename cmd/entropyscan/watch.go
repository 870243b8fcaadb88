package entropyscan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/redactyl/entropyscan/internal/config"
	"github.com/redactyl/entropyscan/internal/engine"
	"github.com/redactyl/entropyscan/internal/ignore"
	"github.com/redactyl/entropyscan/internal/report"
	"github.com/redactyl/entropyscan/internal/types"
	"github.com/redactyl/entropyscan/internal/watch"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Scan the workspace and re-scan files as they change",
		Long: "watch runs a full scan, then re-scans each file written under the workspace. " +
			"Changes to the exclusion file reload exclusions and re-scan everything.",
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
	rootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := resolveRoot(flagPath)
	if err != nil {
		return err
	}
	lcfg, gcfg := loadFileConfigs(root)
	override := pickString(flagExclusionsFile, lcfg.ExclusionsFile, gcfg.ExclusionsFile)
	eng := newEngine(root, override)
	cfg := workspaceConfig(cmd, root, lcfg, gcfg)
	opts := report.PrintOptions{NoColor: colorDisabled(pickBool(flagNoColor, lcfg.NoColor, gcfg.NoColor))}

	w, err := watch.New(root, watch.WithLogger(log), watch.WithSkipDir(func(name string) bool {
		return name == ".git" || (cfg.DefaultExcludes && engine.IsDefaultDirExcluded(name))
	}))
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	defer w.Close()

	s := newWatchSession(eng, cfg, config.ResolveExclusionsFile(root, override), cmd.OutOrStdout(), opts)
	if err := s.fullScan(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to stop)\n", root)
	err = w.Run(ctx, func(events []watch.Event) { s.handle(ctx, events) })
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watchSession re-scans changed files through a document tracker. A reload
// of the exclusion file triggers a full workspace scan instead.
type watchSession struct {
	eng      *engine.Engine
	docs     *engine.Documents
	printer  *resultPrinter
	cfg      engine.Config
	ign      ignore.Matcher
	override string
	out      io.Writer
	opts     report.PrintOptions
}

func newWatchSession(eng *engine.Engine, cfg engine.Config, override string, out io.Writer, opts report.PrintOptions) *watchSession {
	s := &watchSession{eng: eng, cfg: cfg, override: override, out: out, opts: opts}
	s.printer = &resultPrinter{eng: eng, out: out, opts: opts, reported: map[string]bool{}}
	s.docs = engine.NewDocuments(eng, s.printer)
	s.loadIgnores()
	return s
}

func (s *watchSession) loadIgnores() {
	ign, err := ignore.LoadRoot(s.eng.Root())
	if err != nil {
		log.Warn().Err(err).Msg("ignore files unreadable; continuing without them")
	}
	s.ign = ign
}

func (s *watchSession) fullScan(ctx context.Context) error {
	res, err := s.eng.ScanWorkspace(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("scan error: %w", err)
	}
	for _, r := range res.Files {
		s.printer.remember(r)
	}
	opts := s.opts
	opts.Duration = res.Duration
	opts.FilesScanned = res.FilesScanned
	opts.Suppressed = res.Suppressed
	opts.PathExcluded = res.PathExcluded
	report.PrintText(s.out, res.Findings(), opts)
	return nil
}

func (s *watchSession) handle(ctx context.Context, events []watch.Event) {
	reload := false
	for _, ev := range events {
		if s.isExclusionFile(ev) {
			reload = true
		}
		if name := path.Base(ev.Rel); name == ".gitignore" || name == ignore.FileName {
			s.loadIgnores()
		}
	}
	if reload {
		log.Info().Msg("exclusion file changed; reloading")
		reloadExclusions(s.eng, s.override)
		if err := s.fullScan(ctx); err != nil {
			log.Error().Err(err).Msg("re-scan failed")
		}
		return
	}
	for _, ev := range events {
		if ev.Removed {
			if s.docs.State(ev.Path) == engine.Scanned {
				s.docs.Close(ev.Path)
			} else {
				s.printer.Publish(engine.Result{Path: ev.Path, RelPath: ev.Rel})
			}
			continue
		}
		info, err := os.Stat(ev.Path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if !engine.Eligible(s.cfg, s.ign, ev.Rel, info.Size()) {
			continue
		}
		text, ok := engine.ReadText(ev.Path)
		if !ok {
			continue
		}
		s.docs.Change(ev.Path, text)
	}
}

func (s *watchSession) isExclusionFile(ev watch.Event) bool {
	if s.override != "" {
		return ev.Path == s.override
	}
	return ev.Rel == config.TartufoFile || ev.Rel == config.PyprojectFile
}

// resultPrinter prints each published result that has findings, and a clean
// notice for files that previously had findings.
type resultPrinter struct {
	mu       sync.Mutex
	eng      *engine.Engine
	out      io.Writer
	opts     report.PrintOptions
	reported map[string]bool
}

func (p *resultPrinter) remember(r engine.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reported[r.Path] = !r.Empty()
}

func (p *resultPrinter) Publish(r engine.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	had := p.reported[r.Path]
	p.reported[r.Path] = !r.Empty()
	name := r.RelPath
	if name == "" {
		name = r.Path
		if rel, ok := p.eng.RelativePath(r.Path); ok {
			name = rel
		}
	}
	switch {
	case !r.Empty():
		report.PrintText(p.out, append([]types.Finding(nil), r.Findings...), p.opts)
	case had:
		fmt.Fprintf(p.out, "%s: no high-entropy strings\n", name)
	}
}
