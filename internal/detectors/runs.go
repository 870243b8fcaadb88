package detectors

// Run is a maximal span of alphabet characters inside a word.
type Run struct {
	Text   string
	Offset int // byte offset of Text within the word
}

// Runs returns the runs of a's symbols in word that are longer than
// a.MinRunLength, in order of appearance.
func Runs(word string, a Alphabet) []Run {
	var out []Run
	start := -1
	closeRun := func(end int) {
		if start >= 0 && end-start > a.MinRunLength {
			out = append(out, Run{Text: word[start:end], Offset: start})
		}
		start = -1
	}
	for i := 0; i < len(word); i++ {
		if a.Contains(word[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		closeRun(i)
	}
	closeRun(len(word))
	return out
}
