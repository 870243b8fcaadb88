package config

import (
	"bytes"
	"slices"
	"sort"
	"strings"
)

// tomlHeader is a [table] or [[array]] header line.
type tomlHeader struct {
	name       string
	start, end int // end is just past the line break
}

// tomlEntry is a key/value pair. valueStart and valueEnd bound the raw value.
type tomlEntry struct {
	path       string // table name joined with the dotted key
	valueStart int
	valueEnd   int
}

// scanTOML locates headers and top-level entries of a document that already
// parses. It only tracks byte offsets so edits can leave every other byte,
// comments included, in place.
func scanTOML(src []byte) ([]tomlHeader, []tomlEntry) {
	var (
		headers []tomlHeader
		entries []tomlEntry
		table   string
	)
	for i := 0; i < len(src); {
		lineStart := i
		i = skipBlank(src, i)
		if i >= len(src) {
			break
		}
		switch src[i] {
		case '\n', '\r':
			i++
		case '#':
			i = nextLine(src, i)
		case '[':
			end := nextLine(src, i)
			table = headerName(src[i:end])
			headers = append(headers, tomlHeader{name: table, start: lineStart, end: end})
			i = end
		default:
			eq := findEquals(src, i)
			if eq < 0 {
				i = nextLine(src, i)
				continue
			}
			key := normalizeKey(src[i:eq])
			if table != "" {
				key = table + "." + key
			}
			v := skipBlank(src, eq+1)
			end := skipValue(src, v)
			entries = append(entries, tomlEntry{path: key, valueStart: v, valueEnd: end})
			i = nextLine(src, end)
		}
	}
	return headers, entries
}

func skipBlank(src []byte, i int) int {
	for i < len(src) && (src[i] == ' ' || src[i] == '\t') {
		i++
	}
	return i
}

func nextLine(src []byte, i int) int {
	if j := bytes.IndexByte(src[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(src)
}

func lineStartOf(src []byte, i int) int {
	return bytes.LastIndexByte(src[:i], '\n') + 1
}

func headerName(line []byte) string {
	s := strings.TrimLeft(string(line), "[ \t")
	if j := strings.IndexByte(s, ']'); j >= 0 {
		s = s[:j]
	}
	return normalizeKey([]byte(s))
}

// normalizeKey drops whitespace and quoting from a dotted key.
func normalizeKey(b []byte) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '"', '\'':
			return -1
		}
		return r
	}, string(b))
}

func findEquals(src []byte, i int) int {
	for i < len(src) {
		switch src[i] {
		case '"', '\'':
			i = skipString(src, i)
			continue
		case '=':
			return i
		case '\n':
			return -1
		}
		i++
	}
	return -1
}

// skipString returns the offset just past the string literal starting at i.
func skipString(src []byte, i int) int {
	q := src[i]
	triple := []byte{q, q, q}
	if bytes.HasPrefix(src[i:], triple) {
		for j := i + 3; j < len(src); j++ {
			if q == '"' && src[j] == '\\' {
				j++
				continue
			}
			if bytes.HasPrefix(src[j:], triple) {
				j += 3
				for n := 0; n < 2 && j < len(src) && src[j] == q; n++ {
					j++
				}
				return j
			}
		}
		return len(src)
	}
	for j := i + 1; j < len(src); j++ {
		switch {
		case q == '"' && src[j] == '\\':
			j++
		case src[j] == q:
			return j + 1
		case src[j] == '\n':
			return j
		}
	}
	return len(src)
}

// skipValue returns the offset just past the value starting at i. Arrays and
// inline tables may span lines.
func skipValue(src []byte, i int) int {
	depth := 0
	for i < len(src) {
		switch src[i] {
		case '"', '\'':
			i = skipString(src, i)
			continue
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth <= 0 {
				return i + 1
			}
		case '#':
			if depth == 0 {
				return i
			}
			i = nextLine(src, i)
			continue
		case '\n', '\r':
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return i
}

// lastSignificant returns the offset of the last byte between open and rbrack
// that is neither whitespace nor part of a comment.
func lastSignificant(src []byte, open, rbrack int) int {
	last := open
	for j := open + 1; j < rbrack; {
		switch src[j] {
		case ' ', '\t', '\r', '\n':
			j++
		case '#':
			j = nextLine(src, j)
		case '"', '\'':
			j = skipString(src, j)
			last = j - 1
		default:
			last = j
			j++
		}
	}
	return last
}

type tomlInsert struct {
	at   int
	text string
}

// applyInserts applies non-overlapping inserts, highest offset first.
func applyInserts(src []byte, ins []tomlInsert) []byte {
	sort.Slice(ins, func(i, j int) bool { return ins[i].at > ins[j].at })
	out := append([]byte(nil), src...)
	for _, in := range ins {
		out = slices.Insert(out, in.at, []byte(in.text)...)
	}
	return out
}

var tomlEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func tomlQuote(s string) string {
	return `"` + tomlEscaper.Replace(s) + `"`
}

// tomlArray renders values as a multi-line array.
func tomlArray(values []string) string {
	var b strings.Builder
	b.WriteString("[\n")
	for _, v := range values {
		b.WriteString("    " + tomlQuote(v) + ",\n")
	}
	b.WriteString("]")
	return b.String()
}

// appendToArray returns the inserts that add values to the array spanning
// src[open:rbrack+1], keeping its layout.
func appendToArray(src []byte, open, rbrack int, values []string) []tomlInsert {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = tomlQuote(v)
	}
	last := lastSignificant(src, open, rbrack)
	ls := lineStartOf(src, rbrack)
	multiline := bytes.IndexByte(src[open:rbrack], '\n') >= 0
	if multiline && len(bytes.TrimSpace(src[ls:rbrack])) == 0 && last < ls {
		indent := "    "
		if last != open {
			if l := lineStartOf(src, last); l > open {
				indent = string(src[l:skipBlank(src, l)])
			}
		}
		var b strings.Builder
		for _, q := range quoted {
			b.WriteString(indent + q + ",\n")
		}
		ins := []tomlInsert{{at: ls, text: b.String()}}
		if c := src[last]; c != '[' && c != ',' {
			ins = append(ins, tomlInsert{at: last + 1, text: ","})
		}
		return ins
	}
	text := strings.Join(quoted, ", ")
	switch src[last] {
	case '[':
	case ',':
		text = " " + text
	default:
		text = ", " + text
	}
	return []tomlInsert{{at: last + 1, text: text}}
}
