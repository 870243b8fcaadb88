package report

import (
	"encoding/json"
	"io"

	"github.com/redactyl/entropyscan/internal/types"
)

// Stats summarises a workspace scan in JSON output.
type Stats struct {
	FilesScanned int     `json:"files_scanned"`
	Suppressed   int     `json:"suppressed"`
	PathExcluded int     `json:"path_excluded"`
	DurationSec  float64 `json:"duration_seconds"`
}

// JSONReport is the document written by WriteJSON.
type JSONReport struct {
	Findings []types.Finding `json:"findings"`
	Stats    *Stats          `json:"stats,omitempty"`
}

// WriteJSON writes findings and optional stats as indented JSON. Findings
// is always an array.
func WriteJSON(w io.Writer, findings []types.Finding, stats *Stats) error {
	if findings == nil {
		findings = []types.Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(JSONReport{Findings: findings, Stats: stats})
}
