package entropyscan

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/redactyl/entropyscan/internal/config"
	"github.com/redactyl/entropyscan/internal/detectors"
	"github.com/redactyl/entropyscan/internal/engine"
	"github.com/redactyl/entropyscan/internal/report"
	"github.com/redactyl/entropyscan/internal/types"
)

const defaultMaxBytes = 1 << 20

var (
	flagStdin           bool
	flagStdinPath       string
	flagInclude         string
	flagExclude         string
	flagMaxBytes        int64
	flagThreads         int
	flagTracked         bool
	flagJSON            bool
	flagSARIF           bool
	flagText            bool
	flagFail            bool
	flagShowMatch       bool
	flagDefaultExcludes bool
	flagMinEntropy      float64
)

func init() {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the workspace (or stdin) for high-entropy strings",
		Args:  cobra.NoArgs,
		RunE:  runScan,
		Example: `
# Scan the current repository
entropyscan scan

# Scan a buffer as if it were a file in the workspace
cat config.py | entropyscan scan --stdin --stdin-path config.py

# CI: SARIF output, exit 1 on findings
entropyscan scan --sarif --fail > entropyscan.sarif
`,
	}
	rootCmd.AddCommand(cmd)

	cmd.Flags().BoolVar(&flagStdin, "stdin", false, "scan text read from stdin")
	cmd.Flags().StringVar(&flagStdinPath, "stdin-path", "", "workspace path to attribute stdin text to (enables signatures and path exclusions)")
	cmd.Flags().StringVar(&flagInclude, "include", "", "comma-separated include globs")
	cmd.Flags().StringVar(&flagExclude, "exclude", "", "comma-separated exclude globs")
	cmd.Flags().Int64Var(&flagMaxBytes, "max-bytes", 0, "skip files larger than this (default 1MiB)")
	cmd.Flags().IntVar(&flagThreads, "threads", 0, "worker count (0 = GOMAXPROCS)")
	cmd.Flags().BoolVar(&flagTracked, "tracked", false, "only scan files tracked by git")
	cmd.Flags().BoolVar(&flagJSON, "json", false, "emit JSON")
	cmd.Flags().BoolVar(&flagSARIF, "sarif", false, "emit SARIF 2.1.0")
	cmd.Flags().BoolVar(&flagText, "text", false, "output in plain text columnar format")
	cmd.Flags().BoolVar(&flagFail, "fail", false, "exit 1 when findings are present")
	cmd.Flags().BoolVar(&flagShowMatch, "show-match", false, "print matches unmasked")
	cmd.Flags().BoolVar(&flagDefaultExcludes, "default-excludes", true, "apply built-in exclude list (node_modules, dist, images, etc.)")
	cmd.Flags().Float64Var(&flagMinEntropy, "min-entropy", 0, "with --fail, only fail on findings at or above this entropy")
}

func runScan(cmd *cobra.Command, _ []string) error {
	root, err := resolveRoot(flagPath)
	if err != nil {
		return err
	}
	lcfg, gcfg := loadFileConfigs(root)
	eng := newEngine(root, pickString(flagExclusionsFile, lcfg.ExclusionsFile, gcfg.ExclusionsFile))

	var (
		findings []types.Finding
		stats    *report.Stats
		opts     = report.PrintOptions{
			NoColor:   colorDisabled(pickBool(flagNoColor, lcfg.NoColor, gcfg.NoColor)),
			ShowMatch: flagShowMatch,
		}
	)
	if flagStdin {
		findings, err = scanStdin(eng, cmd.InOrStdin(), root)
		if err != nil {
			return err
		}
	} else {
		res, err := scanWorkspace(cmd, eng, lcfg, gcfg)
		if err != nil {
			return err
		}
		findings = res.Findings()
		stats = &report.Stats{
			FilesScanned: res.FilesScanned,
			Suppressed:   res.Suppressed,
			PathExcluded: res.PathExcluded,
			DurationSec:  res.Duration.Seconds(),
		}
		opts.Duration = res.Duration
		opts.FilesScanned = res.FilesScanned
		opts.Suppressed = res.Suppressed
		opts.PathExcluded = res.PathExcluded
	}

	if err := writeFindings(cmd.OutOrStdout(), findings, stats, opts, detectors.Names(eng.Alphabets())); err != nil {
		return err
	}
	if pickBool(flagFail, lcfg.Fail, gcfg.Fail) && report.ShouldFail(findings, flagMinEntropy) {
		return errFindings
	}
	return nil
}

// scanStdin scans r as a single document. A relative --stdin-path is taken
// relative to the workspace root.
func scanStdin(eng *engine.Engine, r io.Reader, root string) ([]types.Finding, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	docPath := flagStdinPath
	if docPath != "" && !filepath.IsAbs(docPath) {
		docPath = filepath.Join(root, docPath)
	}
	res := eng.Scan(string(b), docPath)
	if res.PathExcluded {
		log.Info().Str("path", res.RelPath).Msg("path excluded; nothing scanned")
	}
	return res.Findings, nil
}

func scanWorkspace(cmd *cobra.Command, eng *engine.Engine, lcfg, gcfg config.FileConfig) (engine.WorkspaceResult, error) {
	target, err := filepath.Abs(flagPath)
	if err != nil {
		return engine.WorkspaceResult{}, fmt.Errorf("resolve path: %w", err)
	}
	if info, err := os.Stat(target); err != nil {
		return engine.WorkspaceResult{}, fmt.Errorf("scan path: %w", err)
	} else if !info.IsDir() {
		return scanSingleFile(eng, target)
	}

	cfg := workspaceConfig(cmd, target, lcfg, gcfg)

	human := !flagJSON && !flagSARIF
	progress := human && isTerminal(os.Stderr)
	var scanned atomic.Int64
	if progress {
		fmt.Fprintf(os.Stderr, "Scanning %s for high-entropy strings...\n", target)
		cfg.Progress = func() {
			if n := scanned.Add(1); n%25 == 0 {
				fmt.Fprintf(os.Stderr, "\r%d files", n)
			}
		}
	}
	res, err := eng.ScanWorkspace(cmd.Context(), cfg)
	if progress && scanned.Load() >= 25 {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return res, fmt.Errorf("scan error: %w", err)
	}
	return res, nil
}

// workspaceConfig layers scan flags over the local and global config files.
func workspaceConfig(cmd *cobra.Command, target string, lcfg, gcfg config.FileConfig) engine.Config {
	defaultExcludes := flagDefaultExcludes
	if !cmd.Flags().Changed("default-excludes") {
		if lcfg.DefaultExcludes != nil {
			defaultExcludes = *lcfg.DefaultExcludes
		} else if gcfg.DefaultExcludes != nil {
			defaultExcludes = *gcfg.DefaultExcludes
		}
	}
	maxBytes := pickInt64(flagMaxBytes, lcfg.MaxBytes, gcfg.MaxBytes)
	if maxBytes == 0 {
		maxBytes = defaultMaxBytes
	}
	return engine.Config{
		Root:            target,
		IncludeGlobs:    pickString(flagInclude, lcfg.Include, gcfg.Include),
		ExcludeGlobs:    pickString(flagExclude, lcfg.Exclude, gcfg.Exclude),
		MaxBytes:        maxBytes,
		Threads:         pickInt(flagThreads, lcfg.Threads, gcfg.Threads),
		DefaultExcludes: defaultExcludes,
		TrackedOnly:     pickBool(flagTracked, lcfg.Tracked, gcfg.Tracked),
	}
}

func scanSingleFile(eng *engine.Engine, path string) (engine.WorkspaceResult, error) {
	var out engine.WorkspaceResult
	if !eng.ShouldScan(path) {
		out.PathExcluded = 1
		return out, nil
	}
	text, ok := engine.ReadText(path)
	if !ok {
		return out, nil
	}
	res := eng.Scan(text, path)
	out.Files = []engine.Result{res}
	out.FilesScanned = 1
	out.Suppressed = res.Suppressed
	return out, nil
}

func writeFindings(w io.Writer, findings []types.Finding, stats *report.Stats, opts report.PrintOptions, alphabets []string) error {
	if findings == nil {
		findings = []types.Finding{}
	}
	switch {
	case flagSARIF:
		var counts map[string]int
		if stats != nil {
			counts = map[string]int{
				"filesScanned": stats.FilesScanned,
				"suppressed":   stats.Suppressed,
				"pathExcluded": stats.PathExcluded,
			}
		}
		if err := report.WriteSARIFWithStats(w, findings, version, alphabets, counts); err != nil {
			return fmt.Errorf("sarif error: %w", err)
		}
	case flagJSON:
		return report.WriteJSON(w, findings, stats)
	case flagText:
		report.PrintText(w, findings, opts)
	default:
		return report.PrintTable(w, findings, opts)
	}
	return nil
}
