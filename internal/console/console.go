package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/mailherd/mailherd/pkg/batch"
)

const defaultWidth = 80

// Printer writes human-facing progress lines and summaries. Log lines go to
// slog; the Printer is what an operator watches during a run.
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	theme Theme
	width int
}

// New builds a Printer for out. Colors are dropped when out is not a
// terminal or NO_COLOR is set, following the usual convention.
func New(out io.Writer) *Printer {
	theme := MonoTheme()
	width := defaultWidth
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if os.Getenv("NO_COLOR") == "" {
			theme = DefaultTheme()
		}
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	return NewWithTheme(out, theme, width)
}

// NewWithTheme builds a Printer with an explicit theme and width.
func NewWithTheme(out io.Writer, theme Theme, width int) *Printer {
	if width <= 0 {
		width = defaultWidth
	}
	return &Printer{out: out, theme: theme, width: width}
}

// Headline prints a bold line announcing what the run is about to do.
func (p *Printer) Headline(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.theme.Bold.Render(text))
}

// Line prints one finished item as "[12/40] ✓ alice@example.com (302ms)".
// Failed items carry their error text. A non-positive total drops the
// counter, for callers following an unbounded stream.
func (p *Printer) Line(status batch.Status, key, errText string, durationMs int64, completed, total int) {
	prefix := ""
	counterWidth := 0
	if total > 0 {
		counter := fmt.Sprintf("[%*d/%d]", len(strconv.Itoa(total)), completed, total)
		counterWidth = len(counter) + 1
		prefix = p.theme.Muted.Render(counter) + " "
	}

	icon, style := p.statusIconStyle(status)

	detail := ""
	if errText != "" {
		budget := p.width - counterWidth - len(icon) - len(key) - 16
		detail = ": " + truncate(errText, budget)
	}

	duration := ""
	if durationMs > 0 {
		duration = " " + p.theme.Muted.Render("("+fmtDuration(durationMs)+")")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s%s %s%s%s\n",
		prefix,
		style.Render(icon),
		key,
		style.Render(detail),
		duration,
	)
}

// List prints plain result rows indented under the preceding headline.
func (p *Printer) List(rows []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, row := range rows {
		fmt.Fprintf(p.out, "  %s\n", row)
	}
}

// Summary prints the end-of-run block with aligned counts.
func (p *Printer) Summary(s batch.Summary, elapsed time.Duration) {
	width := len(strconv.Itoa(s.Total))

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.theme.Bold.Render("Summary"))
	fmt.Fprintf(p.out, "  %s %s\n", p.theme.Success.Render(p.theme.Icons.Pass),
		fmt.Sprintf("successful %*d", width, s.Successful))
	fmt.Fprintf(p.out, "  %s %s\n", p.theme.Error.Render(p.theme.Icons.Fail),
		fmt.Sprintf("failed     %*d", width, s.Failed))
	fmt.Fprintf(p.out, "  %s %s\n", p.theme.Warning.Render(p.theme.Icons.Skip),
		fmt.Sprintf("skipped    %*d", width, s.Skipped))
	fmt.Fprintf(p.out, "  %s %s\n", p.theme.Muted.Render(p.theme.Icons.Bullet),
		p.theme.Muted.Render(fmt.Sprintf("%d items in %s", s.Total, fmtDuration(elapsed.Milliseconds()))))
}

// Observer adapts the Printer into an engine observer. keyOf resolves an
// outcome index to the label printed for it, at delivery time — callers may
// hand over a closure whose backing slice is still being assembled when the
// observer is built.
func Observer[T any](p *Printer, keyOf func(int) string) func(batch.Outcome[T], int, int) {
	return func(oc batch.Outcome[T], completed, total int) {
		p.Line(oc.Status, keyOf(oc.Index), oc.Error, oc.DurationMs, completed, total)
	}
}

func (p *Printer) statusIconStyle(status batch.Status) (string, lipgloss.Style) {
	switch status {
	case batch.StatusSuccess:
		return p.theme.Icons.Pass, p.theme.Success
	case batch.StatusFailed:
		return p.theme.Icons.Fail, p.theme.Error
	case batch.StatusSkipped:
		return p.theme.Icons.Skip, p.theme.Warning
	default:
		return p.theme.Icons.Bullet, p.theme.Muted
	}
}

// fmtDuration renders a millisecond count the way a human reads it:
// "302ms", "2.4s", "1m5s".
func fmtDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d < time.Second:
		return d.String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return "..."
	}
	return s[:max-3] + "..."
}
