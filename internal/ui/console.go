// Package ui renders CLI output: styled status lines, key/value
// summaries, and an in-place progress line for sync passes.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Console writes formatted CLI output. Color is decided once at
// construction: a TTY with neither NO_COLOR nor a CI environment set
// gets the lime palette, everything else gets plain text.
type Console struct {
	out    io.Writer
	styles Styles
	color  bool
}

func NewConsole(out io.Writer) *Console {
	color := IsTTY(out) && !DetectNoColor() && !DetectCI()
	styles := NoColorStyles()
	if color {
		styles = DefaultStyles()
	}
	return &Console{out: out, styles: styles, color: color}
}

// NewPlainConsole returns a console that never uses color.
func NewPlainConsole(out io.Writer) *Console {
	return &Console{out: out, styles: NoColorStyles()}
}

// Write errors are ignored throughout; console output is best effort.

func (c *Console) Header(msg string) {
	_, _ = fmt.Fprintln(c.out, c.styles.Header.Render(msg))
}

func (c *Console) Println(msg string) {
	_, _ = fmt.Fprintln(c.out, msg)
}

func (c *Console) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) Success(msg string) {
	_, _ = fmt.Fprintln(c.out, c.styles.Success.Render("✓")+" "+msg)
}

func (c *Console) Successf(format string, args ...any) {
	c.Success(fmt.Sprintf(format, args...))
}

func (c *Console) Warning(msg string) {
	_, _ = fmt.Fprintln(c.out, c.styles.Warning.Render("!")+" "+msg)
}

func (c *Console) Warningf(format string, args ...any) {
	c.Warning(fmt.Sprintf(format, args...))
}

func (c *Console) Error(msg string) {
	_, _ = fmt.Fprintln(c.out, c.styles.Error.Render("✗")+" "+msg)
}

func (c *Console) Errorf(format string, args ...any) {
	c.Error(fmt.Sprintf(format, args...))
}

func (c *Console) Dim(msg string) {
	_, _ = fmt.Fprintln(c.out, c.styles.Dim.Render(msg))
}

// KeyValue prints an aligned "label: value" row for status output.
func (c *Console) KeyValue(label, value string) {
	_, _ = fmt.Fprintf(c.out, "  %s %s\n", c.styles.Label.Render(fmt.Sprintf("%-16s", label+":")), value)
}

func (c *Console) Newline() {
	_, _ = fmt.Fprintln(c.out)
}

// Progress draws an in-place progress line. On non-TTY output each
// update is a full line so logs stay readable.
func (c *Console) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	bar := renderBar(current, total, 30)

	if c.color {
		_, _ = fmt.Fprintf(c.out, "\r[%s] %3.0f%% %s", c.styles.Score.Render(bar), pct, msg)
		if current >= total {
			_, _ = fmt.Fprintln(c.out)
		}
		return
	}
	_, _ = fmt.Fprintf(c.out, "[%s] %3.0f%% %s\n", bar, pct, msg)
}

func renderBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether the NO_COLOR convention is in effect.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether we are running under a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
