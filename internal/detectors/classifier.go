package detectors

import (
	"strings"

	"github.com/redactyl/entropyscan/internal/types"
)

// Classifier flags high-entropy runs for a fixed list of alphabets.
type Classifier struct {
	alphabets []Alphabet
}

// NewClassifier returns a Classifier over the given alphabets, or over
// DefaultAlphabets when none are given. Alphabet order determines the order
// of findings within a word.
func NewClassifier(alphabets ...Alphabet) *Classifier {
	if len(alphabets) == 0 {
		alphabets = DefaultAlphabets()
	}
	return &Classifier{alphabets: append([]Alphabet(nil), alphabets...)}
}

// Alphabets returns a copy of the configured alphabets.
func (c *Classifier) Alphabets() []Alphabet {
	return append([]Alphabet(nil), c.alphabets...)
}

// Classify scans text and returns findings in document order: line, word,
// alphabet, run. Offsets, lines and columns refer to the original text.
func (c *Classifier) Classify(text string) []types.Finding {
	var out []types.Finding
	lineStart := 0
	lineNo := 0
	for lineStart <= len(text) {
		lineNo++
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
		}
		out = c.classifyLine(out, text[lineStart:lineEnd], lineStart, lineNo)
		lineStart = lineEnd + 1
	}
	return out
}

func (c *Classifier) classifyLine(out []types.Finding, line string, base, lineNo int) []types.Finding {
	i := 0
	for i < len(line) {
		if isSpace(line[i]) {
			i++
			continue
		}
		j := i
		for j < len(line) && !isSpace(line[j]) {
			j++
		}
		word := line[i:j]
		for _, a := range c.alphabets {
			for _, r := range Runs(word, a) {
				h := Shannon(r.Text, a)
				if h <= a.Cutoff {
					continue
				}
				col := i + r.Offset
				out = append(out, types.Finding{
					Line:    lineNo,
					Column:  col + 1,
					Offset:  base + col,
					Match:   r.Text,
					Reason:  a.Name,
					Entropy: h,
				})
			}
		}
		i = j
	}
	return out
}

// isSpace treats ASCII whitespace as word separators. A trailing '\r' from
// CRLF line endings is therefore never part of a word.
func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\v', '\f':
		return true
	}
	return false
}
