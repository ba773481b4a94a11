// Package report prints walk results for humans.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/thiagokokada/bundle-blame/internal/git"
	"github.com/thiagokokada/bundle-blame/internal/stats"
	"github.com/thiagokokada/bundle-blame/internal/walker"
)

type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ColorAuto:
		return ColorAuto, nil
	case ColorAlways, ColorNever:
		return m, nil
	default:
		return "", fmt.Errorf("invalid color mode %q (want auto, always or never)", s)
	}
}

// SGR sequences. Only the basic eight colors are used so every terminal
// renders them.
const (
	sgrReset  = "\x1b[0m"
	sgrRed    = "\x1b[31m"
	sgrGreen  = "\x1b[32m"
	sgrYellow = "\x1b[33m"
	sgrBlue   = "\x1b[34m"
)

type Writer struct {
	out   io.Writer
	color bool
}

// NewWriter returns a Writer on out. In auto mode color is used only when out
// is a terminal and NO_COLOR is unset or empty.
func NewWriter(out io.Writer, mode ColorMode) *Writer {
	return &Writer{out: out, color: useColor(out, mode, os.Getenv)}
}

func useColor(out io.Writer, mode ColorMode, getenv func(string) string) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (w *Writer) paint(sgr, s string) string {
	if !w.color {
		return s
	}
	return sgr + s + sgrReset
}

func (w *Writer) revision(r git.Revision) string {
	return fmt.Sprintf("\"%s\" (%s)", w.paint(sgrGreen, r.Message), w.paint(sgrYellow, r.Identity))
}

// Write prints one block: a header naming both revisions, a line per changed
// unit, and a blank line.
func (w *Writer) Write(r walker.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s vs %s:\n", w.revision(r.From), w.revision(r.To))
	for _, d := range r.Differences {
		fmt.Fprintf(&b, "%s: %s\n", w.paint(sgrBlue, d.Unit), w.change(d))
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w.out, b.String())
	return err
}

func (w *Writer) WriteAll(reports []walker.Report) error {
	for _, r := range reports {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) change(d stats.Difference) string {
	verb := w.paint(sgrRed, "increased")
	if d.Delta < 0 {
		verb = w.paint(sgrGreen, "decreased")
	}
	return fmt.Sprintf("%s by %s (%+d B)", verb, FormatBytes(d.Delta), d.Delta)
}

// FormatBytes renders the magnitude of n in SI units, e.g. 1.2 kB.
func FormatBytes(n int64) string {
	if n < 0 {
		n = -n
	}
	return humanize.Bytes(uint64(n))
}
