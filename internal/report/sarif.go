package report

import (
	"encoding/json"
	"io"

	"github.com/redactyl/entropyscan/internal/types"
)

// SARIFFingerprintKey names the signature in partialFingerprints.
const SARIFFingerprintKey = "tartufoSignature/v1"

type sarif struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool       sarifTool      `json:"tool"`
	Results    []sarifResult  `json:"results"`
	Properties map[string]int `json:"properties,omitempty"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version,omitempty"`
	InformationURI string      `json:"informationUri,omitempty"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	ShortDescription sarifMessage `json:"shortDescription"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level"`
	Message             sarifMessage      `json:"message"`
	Locations           []sarifLoc        `json:"locations"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLoc struct {
	PhysicalLocation sarifPhys `json:"physicalLocation"`
}

type sarifPhys struct {
	ArtifactLocation sarifArt    `json:"artifactLocation"`
	Region           sarifRegion `json:"region"`
}

type sarifArt struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndColumn   int `json:"endColumn"`
}

// RuleID returns the SARIF rule id for an alphabet name.
func RuleID(reason string) string { return "high-entropy-" + reason }

// WriteSARIF writes findings as SARIF 2.1.0 with one rule per alphabet.
func WriteSARIF(w io.Writer, findings []types.Finding, version string, alphabets []string) error {
	return WriteSARIFWithStats(w, findings, version, alphabets, nil)
}

// WriteSARIFWithStats is WriteSARIF with run-level counters attached as
// properties.
func WriteSARIFWithStats(w io.Writer, findings []types.Finding, version string, alphabets []string, stats map[string]int) error {
	run := sarifRun{
		Tool: sarifTool{Driver: sarifDriver{
			Name:           "entropyscan",
			Version:        version,
			InformationURI: "https://github.com/redactyl/entropyscan",
			Rules:          []sarifRule{},
		}},
		Results:    []sarifResult{},
		Properties: stats,
	}
	for _, a := range alphabets {
		run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, sarifRule{
			ID:               RuleID(a),
			Name:             "HighEntropyString",
			ShortDescription: sarifMessage{Text: "High-entropy " + a + " string"},
		})
	}
	for _, f := range findings {
		r := sarifResult{
			RuleID:  RuleID(f.Reason),
			Level:   "warning",
			Message: sarifMessage{Text: "String has a high entropy."},
			Locations: []sarifLoc{{
				PhysicalLocation: sarifPhys{
					ArtifactLocation: sarifArt{URI: f.Path},
					Region: sarifRegion{
						StartLine:   f.Line,
						StartColumn: f.Column,
						EndColumn:   f.Column + len(f.Match),
					},
				},
			}},
		}
		if f.Signature != "" {
			r.PartialFingerprints = map[string]string{SARIFFingerprintKey: f.Signature}
		}
		run.Results = append(run.Results, r)
	}
	doc := sarif{
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Version: "2.1.0",
		Runs:    []sarifRun{run},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
