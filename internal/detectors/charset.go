package detectors

// Alphabet is a named character set with the thresholds used to flag runs
// drawn from it. Every symbol must be a single ASCII byte.
type Alphabet struct {
	Name         string
	Symbols      string
	MinRunLength int     // runs must be strictly longer than this
	Cutoff       float64 // entropy in bits a run must strictly exceed

	member [256]bool
}

// NewAlphabet builds an Alphabet and its membership table.
func NewAlphabet(name, symbols string, minRunLength int, cutoff float64) Alphabet {
	a := Alphabet{Name: name, Symbols: symbols, MinRunLength: minRunLength, Cutoff: cutoff}
	for i := 0; i < len(symbols); i++ {
		a.member[symbols[i]] = true
	}
	return a
}

// Contains reports whether b is a symbol of the alphabet.
func (a Alphabet) Contains(b byte) bool { return a.member[b] }

const defaultMinRunLength = 20

var (
	// Base64 covers the standard base64 alphabet including padding.
	Base64 = NewAlphabet("base64",
		"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=",
		defaultMinRunLength, 4.5)

	// Hex covers hexadecimal digits in either case.
	Hex = NewAlphabet("hex", "1234567890abcdefABCDEF", defaultMinRunLength, 3.0)
)

// DefaultAlphabets returns the built-in alphabets in declaration order.
func DefaultAlphabets() []Alphabet {
	return []Alphabet{Base64, Hex}
}

// Names returns the names of the given alphabets in order.
func Names(alphabets []Alphabet) []string {
	out := make([]string, 0, len(alphabets))
	for _, a := range alphabets {
		out = append(out, a.Name)
	}
	return out
}
