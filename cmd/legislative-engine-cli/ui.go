package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI provides user-friendly terminal output. In JSON mode every method except
// JSON is silent so stdout stays machine readable.
type UI struct {
	out      io.Writer
	progress *mpb.Progress
	noColor  bool
	jsonMode bool
}

// NewUI creates a new UI instance writing to stdout.
func NewUI(jsonMode, noColor bool) *UI {
	if noColor {
		color.NoColor = true
	}
	return &UI{out: os.Stdout, noColor: noColor, jsonMode: jsonMode}
}

// Close waits for any progress bars to finish rendering.
func (ui *UI) Close() {
	if ui.progress == nil {
		return
	}
	// Piped output never renders bars, and Wait may hang on them.
	if IsTerminal() {
		ui.progress.Wait()
	} else {
		ui.progress.Shutdown()
	}
	ui.progress = nil
}

func (ui *UI) line(c color.Attribute, symbol, format string, args ...any) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if ui.noColor {
		fmt.Fprintf(ui.out, "%s %s\n", symbol, msg)
		return
	}
	color.New(c).Fprintf(ui.out, "%s %s\n", symbol, msg)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...any) { ui.line(color.FgGreen, "✓", format, args...) }

// Error prints an error message.
func (ui *UI) Error(format string, args ...any) { ui.line(color.FgRed, "✗", format, args...) }

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...any) { ui.line(color.FgYellow, "⚠", format, args...) }

// Info prints an info message.
func (ui *UI) Info(format string, args ...any) { ui.line(color.FgCyan, "ℹ", format, args...) }

// Step prints a step message.
func (ui *UI) Step(format string, args ...any) { ui.line(color.FgBlue, "→", format, args...) }

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out)
	header := fmt.Sprintf("━━━ %s ━━━", strings.ToUpper(title))
	if ui.noColor {
		fmt.Fprintln(ui.out, header)
	} else {
		color.New(color.FgMagenta, color.Bold).Fprintln(ui.out, header)
	}
}

// KeyValue prints a key-value pair.
func (ui *UI) KeyValue(key string, value any) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Fprintf(ui.out, "  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Fprintf(ui.out, "  %s: ", key)
	fmt.Fprintf(ui.out, "%v\n", value)
}

// Text prints a block of text as is.
func (ui *UI) Text(s string) {
	if !ui.jsonMode {
		fmt.Fprintln(ui.out, s)
	}
}

// Table prints a simple aligned table.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	render := func(cells []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		return "  " + strings.Join(parts, "  ")
	}

	head := render(headers)
	if ui.noColor {
		fmt.Fprintln(ui.out, head)
	} else {
		color.New(color.FgCyan, color.Bold).Fprintln(ui.out, head)
	}
	for _, row := range rows {
		fmt.Fprintln(ui.out, render(row))
	}
}

// ProgressBar adds a progress bar. It returns nil in JSON mode.
func (ui *UI) ProgressBar(name string, total int64) *mpb.Bar {
	if ui.jsonMode {
		return nil
	}
	if ui.progress == nil {
		ui.progress = mpb.New(mpb.WithWidth(48), mpb.WithOutput(os.Stderr))
	}
	return ui.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 8}), " done"),
		),
	)
}

// Spinner starts a spinner on stderr. The returned stop func is never nil.
func (ui *UI) Spinner(message string) (stop func()) {
	if ui.jsonMode || !IsTerminal() {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return s.Stop
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Newline prints a newline.
func (ui *UI) Newline() {
	if !ui.jsonMode {
		fmt.Fprintln(ui.out)
	}
}
