package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/redactyl/entropyscan/internal/types"
)

// PrintOptions controls the human-readable renderers.
type PrintOptions struct {
	NoColor      bool
	ShowMatch    bool // print matches unmasked
	Duration     time.Duration
	FilesScanned int
	Suppressed   int
	PathExcluded int
}

var (
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	reasonStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	matchStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

func paint(s lipgloss.Style, text string, opts PrintOptions) string {
	if opts.NoColor {
		return text
	}
	return s.Render(text)
}

// SortFindings orders findings by path, then offset.
func SortFindings(findings []types.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Path == findings[j].Path {
			return findings[i].Offset < findings[j].Offset
		}
		return findings[i].Path < findings[j].Path
	})
}

// PrintTable renders findings as a table followed by the summary footer.
func PrintTable(w io.Writer, findings []types.Finding, opts PrintOptions) error {
	SortFindings(findings)
	if len(findings) == 0 {
		fmt.Fprintln(w, paint(successStyle, "No high-entropy strings found", opts))
	} else {
		table := tablewriter.NewWriter(w)
		table.Header("PATH", "LINE", "COL", "TYPE", "ENTROPY", "MATCH", "SIGNATURE")
		for _, f := range findings {
			if err := table.Append([]string{
				f.Path,
				strconv.Itoa(f.Line),
				strconv.Itoa(f.Column),
				f.Reason,
				strconv.FormatFloat(f.Entropy, 'f', 2, 64),
				displayMatch(f.Match, opts),
				f.Signature,
			}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	printFooter(w, len(findings), opts)
	return nil
}

// PrintText renders one line per finding.
func PrintText(w io.Writer, findings []types.Finding, opts PrintOptions) {
	SortFindings(findings)
	if len(findings) == 0 {
		fmt.Fprintln(w, paint(successStyle, "No high-entropy strings found", opts))
	} else {
		fmt.Fprintf(w, "Findings: %d\n", len(findings))
		for _, f := range findings {
			loc := fmt.Sprintf("%s:%d:%d", f.Path, f.Line, f.Column)
			fmt.Fprintf(w, "%s  %-6s %.2f  %s",
				paint(pathStyle, loc, opts),
				paint(reasonStyle, f.Reason, opts),
				f.Entropy,
				paint(matchStyle, displayMatch(f.Match, opts), opts))
			if f.Signature != "" {
				fmt.Fprintf(w, "  %s", paint(dimStyle, f.Signature, opts))
			}
			fmt.Fprintln(w)
		}
	}
	printFooter(w, len(findings), opts)
}

func printFooter(w io.Writer, n int, opts PrintOptions) {
	if opts.Duration <= 0 && opts.FilesScanned <= 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Findings: %d (suppressed: %d, excluded files: %d)\n", n, opts.Suppressed, opts.PathExcluded)
	if opts.Duration > 0 {
		fmt.Fprintf(w, "Scan duration: %.2fs\n", opts.Duration.Seconds())
	}
	if opts.FilesScanned > 0 {
		fmt.Fprintf(w, "Files scanned: %d\n", opts.FilesScanned)
	}
}

func displayMatch(s string, opts PrintOptions) string {
	if opts.ShowMatch {
		return s
	}
	return maskValue(s)
}

func maskValue(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "…" + s[len(s)-4:]
}
