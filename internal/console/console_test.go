package console

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailherd/mailherd/pkg/batch"
)

func monoPrinter(buf *bytes.Buffer) *Printer {
	return NewWithTheme(buf, MonoTheme(), 80)
}

func TestNew_NonTerminalGetsMonoTheme(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	assert.Equal(t, "mono", p.theme.Name)
	assert.Equal(t, defaultWidth, p.width)
}

func TestPrinter_Line_Success(t *testing.T) {
	var buf bytes.Buffer
	p := monoPrinter(&buf)

	p.Line(batch.StatusSuccess, "alice@example.com", "", 302, 1, 40)

	got := buf.String()
	assert.Contains(t, got, "[ 1/40]")
	assert.Contains(t, got, "+ alice@example.com")
	assert.Contains(t, got, "(302ms)")
}

func TestPrinter_Line_FailedShowsError(t *testing.T) {
	var buf bytes.Buffer
	p := monoPrinter(&buf)

	p.Line(batch.StatusFailed, "bob@example.com", "quota exceeded", 87, 23, 40)

	got := buf.String()
	assert.Contains(t, got, "[23/40]")
	assert.Contains(t, got, "x bob@example.com: quota exceeded")
}

func TestPrinter_Line_TruncatesLongErrors(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithTheme(&buf, MonoTheme(), 60)

	p.Line(batch.StatusFailed, "bob@example.com", strings.Repeat("e", 200), 0, 1, 1)

	got := strings.TrimRight(buf.String(), "\n")
	assert.Contains(t, got, "...")
	assert.Less(t, len(got), 100)
}

func TestPrinter_Line_SkippedUsesSkipIcon(t *testing.T) {
	var buf bytes.Buffer
	p := monoPrinter(&buf)

	p.Line(batch.StatusSkipped, "carol@example.com", "", 0, 2, 3)

	assert.Contains(t, buf.String(), "~ carol@example.com")
}

func TestPrinter_Summary(t *testing.T) {
	var buf bytes.Buffer
	p := monoPrinter(&buf)

	p.Summary(batch.Summary{Total: 40, Successful: 37, Failed: 2, Skipped: 1}, 12300*time.Millisecond)

	got := buf.String()
	assert.Contains(t, got, "Summary")
	assert.Contains(t, got, "successful 37")
	assert.Contains(t, got, "failed      2")
	assert.Contains(t, got, "skipped     1")
	assert.Contains(t, got, "40 items in 12.3s")
}

func TestObserver_AdaptsOutcomes(t *testing.T) {
	var buf bytes.Buffer
	p := monoPrinter(&buf)
	items := []string{"a@example.com", "b@example.com"}

	observe := Observer[string](p, func(i int) string { return items[i] })
	observe(batch.Outcome[string]{Index: 1, Status: batch.StatusFailed, Error: "boom", DurationMs: 5}, 1, 2)

	got := buf.String()
	assert.Contains(t, got, "b@example.com: boom")
	assert.Contains(t, got, "[1/2]")
}

func TestLine_NoCounterForUnboundedStreams(t *testing.T) {
	var buf bytes.Buffer
	p := monoPrinter(&buf)

	p.Line(batch.StatusSuccess, "alice@example.com", "", 302, 0, 0)

	got := buf.String()
	assert.NotContains(t, got, "[")
	assert.Contains(t, got, "+ alice@example.com (302ms)")
}

func TestList_IndentsRows(t *testing.T) {
	var buf bytes.Buffer
	p := monoPrinter(&buf)

	p.List([]string{"alice@a.com", "bob@a.com"})

	assert.Equal(t, "  alice@a.com\n  bob@a.com\n", buf.String())
}

func TestFmtDuration(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{302, "302ms"},
		{2437, "2.4s"},
		{65000, "1m5s"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, fmtDuration(tc.ms))
	}
}
