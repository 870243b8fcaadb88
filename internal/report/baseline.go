package report

import (
	"sort"

	"github.com/redactyl/entropyscan/internal/types"
)

// Signatures returns the distinct non-empty signatures of findings, sorted.
// Findings without a workspace-relative path have no signature and cannot be
// baselined.
func Signatures(findings []types.Finding) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range findings {
		if f.Signature == "" || seen[f.Signature] {
			continue
		}
		seen[f.Signature] = true
		out = append(out, f.Signature)
	}
	sort.Strings(out)
	return out
}

// ShouldFail reports whether any finding reaches minEntropy. A zero
// threshold fails on any finding.
func ShouldFail(findings []types.Finding, minEntropy float64) bool {
	for _, f := range findings {
		if f.Entropy >= minEntropy {
			return true
		}
	}
	return false
}
