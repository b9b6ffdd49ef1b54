package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestPlainRendererThrottlesGenerateEvents(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false, 80, stepClock(time.Second))

	r.Handle(Event{Stage: StagePlan, Message: "Planned 20 conversations"})
	for done := 1; done <= 20; done++ {
		r.Handle(Event{Stage: StageGenerate, Done: done, Total: 20, Accepted: done - 1, Rejected: 1, Percent: float64(done) / 20})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Contains(t, lines[0], "plan Planned 20 conversations")
	assert.Contains(t, lines[1], "generate 1/20")
	assert.Contains(t, lines[1], "eta ", "pace is known after the first unit")
	assert.Less(t, len(lines), 21)
	last := lines[len(lines)-1]
	assert.Contains(t, last, "20/20 accepted 19 rejected 1")
	assert.NotContains(t, last, "eta")
}

func TestTTYRendererDrawsCountsAndETA(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, true, 100, stepClock(2*time.Second))

	r.Handle(Event{Stage: StageGenerate, Message: "Generating conversations", Done: 0, Total: 10})
	buf.Reset()
	r.Handle(Event{Stage: StageGenerate, Message: "Generating conversations", Done: 2, Total: 10, Accepted: 2, Percent: 0.2})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\r\033[2K\033[A\033[2K\033[A\033[2K\r"), "previous three lines are cleared")
	assert.Contains(t, out, "[3/5] Generating conversations")
	assert.Contains(t, out, " 20%  2/10  ETA 0:08")
	assert.Contains(t, out, "accepted 2  rejected 0 (100% accepted)")
}

func TestFinishSummary(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false, 80, stepClock(30*time.Second))
	r.Handle(Event{Stage: StageComplete, OutputFile: "out/dataset.json", ReportFile: "out/diversity.xlsx", Accepted: 9, Rejected: 1, Partial: true})
	buf.Reset()

	r.Finish()
	assert.Equal(t, "\n"+
		"  Partial dataset: out/dataset.json\n"+
		"  Conversations: 9 accepted, 1 rejected (90% accepted)\n"+
		"  Diversity report: out/diversity.xlsx\n"+
		"  Elapsed: 0:30\n", buf.String())
}

func TestFinishError(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false, 80, time.Now)
	r.Handle(Event{Stage: StageLoad, Error: errors.New("no seeds")})
	buf.Reset()

	r.Finish()
	assert.Equal(t, "\n  Batch failed during load: no seeds\n", buf.String())
}

func TestStageLabel(t *testing.T) {
	assert.Equal(t, "[1/5]", stageLabel(StageLoad))
	assert.Equal(t, "[5/5]", stageLabel(StageUpload))
	assert.Equal(t, "[done]", stageLabel(StageComplete))
}

func TestRenderBar(t *testing.T) {
	assert.Equal(t, "[##........]", renderBar(0.25, 10))
	assert.Equal(t, "[##########]", renderBar(1.7, 10))
	assert.Equal(t, "[..........]", renderBar(-1, 10))
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "0:00", formatElapsed(0))
	assert.Equal(t, "2:05", formatElapsed(125*time.Second))
	require.Equal(t, "", acceptRate(Event{}))
}
