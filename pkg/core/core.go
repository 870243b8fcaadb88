package core

import (
	"context"

	"github.com/redactyl/entropyscan/internal/config"
	"github.com/redactyl/entropyscan/internal/detectors"
	"github.com/redactyl/entropyscan/internal/engine"
	"github.com/redactyl/entropyscan/internal/exclusion"
	"github.com/redactyl/entropyscan/internal/signature"
	"github.com/redactyl/entropyscan/internal/types"
)

// Re-export selected internal types as a stable public API surface.
type (
	Config          = engine.Config
	Finding         = types.Finding
	Result          = engine.Result
	WorkspaceResult = engine.WorkspaceResult
	Exclusions      = exclusion.Config
)

// ScanText classifies text with the default alphabets. No exclusions apply
// and findings carry no signature.
func ScanText(text string) []Finding {
	return engine.New().Scan(text, "").Findings
}

// ScanDocument scans text as the file docPath inside the workspace root,
// applying excl. docPath must be absolute for signatures and path
// exclusions to apply.
func ScanDocument(root, docPath, text string, excl Exclusions) Result {
	e := engine.New(engine.WithRoot(root))
	e.Overlay().Replace(excl)
	return e.Scan(text, docPath)
}

// Scan walks cfg.Root with the exclusions found in its tartufo.toml or
// pyproject.toml and returns every finding in walk order.
func Scan(ctx context.Context, cfg Config) ([]Finding, error) {
	res, err := ScanWithStats(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return res.Findings(), nil
}

// ScanWithStats is Scan returning per-file results and counters.
func ScanWithStats(ctx context.Context, cfg Config) (WorkspaceResult, error) {
	e := engine.New(engine.WithRoot(cfg.Root))
	if excl, _, err := config.LoadExclusions(e.Root()); err == nil {
		e.Overlay().Replace(excl)
	}
	return e.ScanWorkspace(ctx, cfg)
}

// Signature returns the tartufo exclusion signature of text found in the
// file at the slash-separated workspace-relative relPath.
func Signature(text, relPath string) string { return signature.Of(text, relPath) }

// Alphabets lists the names of the alphabets findings are reported under.
func Alphabets() []string { return detectors.Names(detectors.DefaultAlphabets()) }
