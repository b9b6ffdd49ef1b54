package assembly

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls [][]string
	list  string
	fail  error
}

// run fakes ffmpeg: it writes a non-empty file at the last argument.
func (r *recorder) run(ctx context.Context, args ...string) error {
	r.calls = append(r.calls, args)
	if r.fail != nil {
		return r.fail
	}
	if i := slices.Index(args, "-i"); i >= 0 && strings.HasSuffix(args[i+1], "concat.txt") {
		data, err := os.ReadFile(args[i+1])
		if err != nil {
			return err
		}
		r.list = string(data)
	}
	return os.WriteFile(args[len(args)-1], []byte("mp3"), 0644)
}

func TestMixPhoneProfile(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMixer(ProfilePhone, 250*time.Millisecond)
	require.NoError(t, err)
	rec := &recorder{}
	m.run = rec.run

	turns := []string{filepath.Join(dir, "001_caller.mp3"), filepath.Join(dir, "002_callee.mp3")}
	out := filepath.Join(dir, "calls", "conv-1.mp3")
	require.NoError(t, m.Mix(context.Background(), turns, out))

	require.Len(t, rec.calls, 2)
	assert.Contains(t, rec.calls[0], "0.250")
	assert.Contains(t, rec.calls[1], "highpass=f=300,lowpass=f=3400")
	assert.Contains(t, rec.calls[1], "8000")
	assert.Equal(t, out, rec.calls[1][len(rec.calls[1])-1])

	lines := strings.Split(strings.TrimSpace(rec.list), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "001_caller.mp3")
	assert.Contains(t, lines[1], "gap.mp3")
	assert.Contains(t, lines[2], "002_callee.mp3")

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "scratch directory is removed")
}

func TestMixWithoutGap(t *testing.T) {
	m, err := NewMixer("", 0)
	require.NoError(t, err)
	assert.Equal(t, ProfileStudio, m.Profile)
	rec := &recorder{}
	m.run = rec.run

	require.NoError(t, m.Mix(context.Background(), []string{"a.mp3", "b.mp3"}, filepath.Join(t.TempDir(), "out.mp3")))
	require.Len(t, rec.calls, 1)
	assert.NotContains(t, rec.list, "gap.mp3")
	assert.Contains(t, rec.calls[0], "44100")
}

func TestMixErrors(t *testing.T) {
	_, err := NewMixer("radio", 0)
	assert.ErrorContains(t, err, "unknown audio profile")

	m, err := NewMixer(ProfileStudio, DefaultGap)
	require.NoError(t, err)
	assert.ErrorContains(t, m.Mix(context.Background(), nil, "out.mp3"), "no turn audio")

	m.run = (&recorder{fail: errors.New("exit status 1")}).run
	err = m.Mix(context.Background(), []string{"a.mp3"}, filepath.Join(t.TempDir(), "out.mp3"))
	assert.ErrorContains(t, err, "generate gap")
}

func TestConcatListEscapesQuotes(t *testing.T) {
	list := concatList([]string{"/audio/it's.mp3"}, "")
	assert.Equal(t, "file '/audio/it'\\''s.mp3'\n", list)
}
