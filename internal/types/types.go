package types

// Finding describes a high-entropy substring detected in a document. Match,
// Reason and Offset come from the classifier; the remaining fields are filled
// in by the engine for presentation.
type Finding struct {
	Path      string  `json:"path,omitempty"`
	Line      int     `json:"line"`
	Column    int     `json:"column"` // 1-based byte column
	Offset    int     `json:"offset"` // byte offset within the scanned document
	Match     string  `json:"match"`
	Reason    string  `json:"reason"` // alphabet name, e.g. "base64"
	Entropy   float64 `json:"entropy"`
	Signature string  `json:"signature,omitempty"` // empty when no workspace-relative path is known
}

// End returns the byte offset just past the match.
func (f Finding) End() int { return f.Offset + len(f.Match) }
