package lsp

// DiagnosticCode marks diagnostics produced for high-entropy strings.
const DiagnosticCode = "high_entropy_string"

// ExcludeSignatureCommand appends a signature to the exclusion file.
const ExcludeSignatureCommand = "entropy-scanner.exclude-signature"

// CodeServerNotInitialized is the LSP error code for requests that arrive
// before initialize.
const CodeServerNotInitialized int64 = -32002

// DiagnosticData travels with a diagnostic and back in code action requests.
type DiagnosticData struct {
	Signature string  `json:"signature,omitempty"`
	Match     string  `json:"match"`
	Entropy   float64 `json:"entropy"`
}

// dataSignature reads the signature from diagnostic data, either as
// published or as decoded from a client request.
func dataSignature(v any) string {
	switch d := v.(type) {
	case *DiagnosticData:
		if d != nil {
			return d.Signature
		}
	case map[string]any:
		s, _ := d["signature"].(string)
		return s
	}
	return ""
}
