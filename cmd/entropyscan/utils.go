package entropyscan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/redactyl/entropyscan/internal/config"
	"github.com/redactyl/entropyscan/internal/engine"
	"github.com/redactyl/entropyscan/internal/git"
)

func newLogger(level string, noColor bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: noColor || !isTerminal(os.Stderr)}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// loadFileConfigs returns the repo-local and global config layers. Missing
// or unreadable files yield empty layers.
func loadFileConfigs(path string) (local, global config.FileConfig) {
	abs, _ := filepath.Abs(path)
	if c, err := config.LoadGlobal(); err == nil {
		global = c
	} else if !errors.Is(err, config.ErrNoConfig) {
		log.Warn().Err(err).Str("file", config.GlobalPath()).Msg("global config unreadable")
	}
	if c, err := config.LoadLocal(abs); err == nil {
		local = c
	} else if !errors.Is(err, config.ErrNoConfig) {
		log.Warn().Err(err).Str("dir", abs).Msg("local config unreadable")
	}
	return local, global
}

// resolveRoot maps path to the workspace root: the enclosing git work tree,
// or the directory itself outside a repository.
func resolveRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		abs = filepath.Dir(abs)
	}
	root, err := git.WorkspaceRoot(abs)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	return root, nil
}

// newEngine builds an engine rooted at root with the workspace exclusions
// loaded. Exclusion errors leave the overlay empty.
func newEngine(root, exclusionsFile string) *engine.Engine {
	eng := engine.New(engine.WithRoot(root), engine.WithLogger(log))
	reloadExclusions(eng, exclusionsFile)
	return eng
}

func reloadExclusions(eng *engine.Engine, exclusionsFile string) {
	cfg, path, err := config.LoadExclusionsWith(eng.Root(), exclusionsFile)
	switch {
	case errors.Is(err, config.ErrNoExclusionFile):
		log.Debug().Str("root", eng.Root()).Msg("no exclusion file")
		eng.Overlay().Reset()
	case err != nil:
		log.Warn().Err(err).Str("file", path).Msg("exclusion file unreadable; exclusions cleared")
		eng.Overlay().Reset()
	default:
		snap := eng.Overlay().Replace(cfg)
		sigs, paths, patterns := snap.Len()
		log.Debug().Str("file", path).Int("signatures", sigs).Int("path_patterns", paths).
			Int("entropy_patterns", patterns).Msg("exclusions loaded")
	}
}

func colorDisabled(noColor bool) bool {
	return noColor || os.Getenv("NO_COLOR") != "" || !isTerminal(os.Stdout)
}

func pickString(cli string, local, global *string) string {
	if cli != "" {
		return cli
	}
	if local != nil && *local != "" {
		return *local
	}
	if global != nil && *global != "" {
		return *global
	}
	return ""
}

func pickInt(cli int, local, global *int) int {
	if cli != 0 {
		return cli
	}
	if local != nil && *local != 0 {
		return *local
	}
	if global != nil && *global != 0 {
		return *global
	}
	return 0
}

func pickInt64(cli int64, local, global *int64) int64 {
	if cli != 0 {
		return cli
	}
	if local != nil && *local != 0 {
		return *local
	}
	if global != nil && *global != 0 {
		return *global
	}
	return 0
}

func pickBool(cli bool, local, global *bool) bool {
	if cli {
		return true
	}
	if local != nil {
		return *local
	}
	if global != nil {
		return *global
	}
	return false
}
