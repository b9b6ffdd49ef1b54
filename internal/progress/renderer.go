package progress

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/mattn/go-isatty"
)

var stageOrder = []Stage{StageLoad, StagePlan, StageGenerate, StageSave, StageUpload}

// BatchRenderer shows the state of a generation batch. On a terminal it
// redraws a stage line, a bar with conversation counts and an ETA, and the
// running accept/reject totals. Elsewhere it prints one line per stage and
// about one per tenth of the generate stage.
type BatchRenderer struct {
	out   io.Writer
	tty   bool
	width int
	now   func() time.Time
	start time.Time

	genStart time.Time
	last     Event
	printed  Event
	drawn    int
}

// NewBatchRenderer creates a renderer for out, detecting TTY mode and width.
func NewBatchRenderer(out *os.File) *BatchRenderer {
	tty := isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	width := 80
	if tty {
		if w, _, err := term.GetSize(out.Fd()); err == nil && w > 0 {
			width = w
		}
	}
	return newRenderer(out, tty, width, time.Now)
}

func newRenderer(out io.Writer, tty bool, width int, now func() time.Time) *BatchRenderer {
	return &BatchRenderer{out: out, tty: tty, width: width, now: now, start: now()}
}

// Handle satisfies Callback.
func (r *BatchRenderer) Handle(e Event) {
	now := r.now()
	e.Elapsed = now.Sub(r.start)
	if e.Stage == StageComplete {
		e.Percent = 1
	}
	if e.Stage == StageGenerate && r.genStart.IsZero() {
		r.genStart = now
	}
	r.last = e

	if r.tty {
		r.draw(e, now)
	} else {
		r.print(e, now)
	}
}

// Finish clears the live display and prints the batch summary.
func (r *BatchRenderer) Finish() {
	e := r.last
	if r.tty {
		r.clear()
	}

	if e.Error != nil {
		fmt.Fprintf(r.out, "\n  Batch failed during %s: %v\n", e.Stage, e.Error)
		return
	}
	if e.Stage != StageComplete {
		return
	}

	label := "Dataset"
	if e.Partial {
		label = "Partial dataset"
	}
	fmt.Fprintln(r.out)
	if e.OutputFile != "" {
		fmt.Fprintf(r.out, "  %s: %s\n", label, e.OutputFile)
	} else if e.Message != "" {
		fmt.Fprintf(r.out, "  %s\n", e.Message)
	}
	fmt.Fprintf(r.out, "  Conversations: %d accepted, %d rejected%s\n", e.Accepted, e.Rejected, acceptRate(e))
	if e.ReportFile != "" {
		fmt.Fprintf(r.out, "  Diversity report: %s\n", e.ReportFile)
	}
	fmt.Fprintf(r.out, "  Elapsed: %s\n", formatElapsed(e.Elapsed))
}

func (r *BatchRenderer) draw(e Event, now time.Time) {
	r.clear()

	lines := []string{"  " + stageLabel(e.Stage) + " " + e.Message}
	bar := fmt.Sprintf("  %s %3d%%", renderBar(e.Percent, r.barWidth()), int(e.Percent*100))
	if e.Stage == StageGenerate && e.Total > 0 {
		bar += fmt.Sprintf("  %d/%d", e.Done, e.Total)
		if eta, ok := r.eta(e, now); ok {
			bar += "  ETA " + formatElapsed(eta)
		}
		lines = append(lines, bar,
			fmt.Sprintf("  accepted %d  rejected %d%s  elapsed %s", e.Accepted, e.Rejected, acceptRate(e), formatElapsed(e.Elapsed)))
	} else {
		lines = append(lines, bar+"  "+formatElapsed(e.Elapsed))
	}

	fmt.Fprint(r.out, strings.Join(lines, "\n"))
	r.drawn = len(lines)
}

func (r *BatchRenderer) print(e Event, now time.Time) {
	if e.Stage == StageGenerate && e.Total > 0 {
		if r.printed.Stage == StageGenerate && e.Done < e.Total && e.Percent-r.printed.Percent < 0.1 {
			return
		}
		r.printed = e
		line := fmt.Sprintf("[%s] %s %d/%d accepted %d rejected %d", formatElapsed(e.Elapsed), e.Stage, e.Done, e.Total, e.Accepted, e.Rejected)
		if eta, ok := r.eta(e, now); ok {
			line += " eta " + formatElapsed(eta)
		}
		fmt.Fprintln(r.out, line)
		return
	}
	r.printed = e
	fmt.Fprintf(r.out, "[%s] %s %s\n", formatElapsed(e.Elapsed), e.Stage, e.Message)
}

// eta extrapolates the generate stage's pace so far over the units left.
func (r *BatchRenderer) eta(e Event, now time.Time) (time.Duration, bool) {
	if e.Done == 0 || e.Done >= e.Total || r.genStart.IsZero() {
		return 0, false
	}
	perUnit := now.Sub(r.genStart) / time.Duration(e.Done)
	return perUnit * time.Duration(e.Total-e.Done), true
}

func (r *BatchRenderer) clear() {
	if r.drawn == 0 {
		return
	}
	fmt.Fprint(r.out, "\r\033[2K")
	for i := 1; i < r.drawn; i++ {
		fmt.Fprint(r.out, "\033[A\033[2K")
	}
	fmt.Fprint(r.out, "\r")
	r.drawn = 0
}

// barWidth leaves room for the percent, counts and ETA after the bar.
func (r *BatchRenderer) barWidth() int {
	return min(max(r.width-36, 20), 50)
}

func stageLabel(s Stage) string {
	if i := slices.Index(stageOrder, s); i >= 0 {
		return fmt.Sprintf("[%d/%d]", i+1, len(stageOrder))
	}
	return "[done]"
}

func acceptRate(e Event) string {
	n := e.Accepted + e.Rejected
	if n == 0 {
		return ""
	}
	return fmt.Sprintf(" (%d%% accepted)", e.Accepted*100/n)
}

// renderBar draws a [####....] bar of the given width.
func renderBar(pct float64, width int) string {
	pct = min(max(pct, 0), 1)
	filled := min(int(pct*float64(width)), width)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// formatElapsed formats a duration as M:SS.
func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
