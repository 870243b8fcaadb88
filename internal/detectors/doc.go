// Package detectors implements entropy-based secret detection. Text is split
// into whitespace-delimited words, each word into runs of a known alphabet
// (base64, hex), and runs whose Shannon entropy exceeds the alphabet's cutoff
// are reported as findings.
package detectors
