package lsp

import (
	"strings"

	"go.lsp.dev/protocol"

	"github.com/redactyl/entropyscan/internal/engine"
)

const (
	diagnosticMessage = "String has a high entropy."
	stringPrefix      = "String: "
	signaturePrefix   = "Tartufo Exclusion Signature: "
)

// diagnostics converts a scan result for the document at uri into LSP
// diagnostics. related adds the matched string and its signature as related
// information for clients that render it.
func diagnostics(uri, text string, res engine.Result, related bool) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(res.Findings))
	if len(res.Findings) == 0 {
		return out
	}
	idx := newLineIndex(text)
	for _, f := range res.Findings {
		rng := idx.RangeOf(f.Offset, f.End())
		d := protocol.Diagnostic{
			Range:    rng,
			Severity: protocol.DiagnosticSeverityWarning,
			Code:     DiagnosticCode,
			Source:   f.Reason,
			Message:  diagnosticMessage,
			Data:     &DiagnosticData{Signature: f.Signature, Match: f.Match, Entropy: f.Entropy},
		}
		if related {
			loc := protocol.Location{URI: protocol.DocumentURI(uri), Range: rng}
			d.RelatedInformation = append(d.RelatedInformation, protocol.DiagnosticRelatedInformation{
				Location: loc, Message: stringPrefix + f.Match,
			})
			if f.Signature != "" {
				d.RelatedInformation = append(d.RelatedInformation, protocol.DiagnosticRelatedInformation{
					Location: loc, Message: signaturePrefix + f.Signature,
				})
			}
		}
		out = append(out, d)
	}
	return out
}

// signatureOf recovers the signature a diagnostic was published with, from
// its data or from its related information.
func signatureOf(d protocol.Diagnostic) string {
	if sig := dataSignature(d.Data); sig != "" {
		return sig
	}
	for _, ri := range d.RelatedInformation {
		if sig, ok := strings.CutPrefix(ri.Message, signaturePrefix); ok {
			return strings.TrimSpace(sig)
		}
	}
	return ""
}
