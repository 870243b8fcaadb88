package detectors

import "math"

// Shannon returns the Shannon entropy of s, in bits, counting only symbols
// of a. The denominator is the byte length of s, which equals its character
// length because alphabet symbols are single bytes.
func Shannon(s string, a Alphabet) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	var counts [256]int
	for i := 0; i < n; i++ {
		counts[s[i]]++
	}
	H := 0.0
	for i := 0; i < len(a.Symbols); i++ {
		c := counts[a.Symbols[i]]
		if c == 0 {
			continue
		}
		p := float64(c) / float64(n)
		H += -p * math.Log2(p)
	}
	return H
}
