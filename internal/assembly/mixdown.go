// Package assembly joins the per-turn clips of a voiced conversation into a
// single call recording with FFmpeg.
package assembly

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Profile selects the output encoding of a mixdown.
type Profile string

const (
	// ProfileStudio keeps the provider's full-band audio.
	ProfileStudio Profile = "studio"
	// ProfilePhone band-limits to 300-3400 Hz at 8 kHz mono, like a PSTN call.
	ProfilePhone Profile = "phone"
)

const (
	studioBitrate    = "192k"
	studioSampleRate = "44100"
	phoneBitrate     = "32k"
	phoneSampleRate  = "8000"
	audioCodec       = "libmp3lame"
)

// DefaultGap is the pause inserted between turns.
const DefaultGap = 400 * time.Millisecond

// Runner executes ffmpeg with args.
type Runner func(ctx context.Context, args ...string) error

// Mixer merges turn clips into one file.
type Mixer struct {
	Profile Profile
	Gap     time.Duration
	run     Runner
}

// NewMixer returns a Mixer that shells out to ffmpeg on PATH.
func NewMixer(profile Profile, gap time.Duration) (*Mixer, error) {
	switch profile {
	case ProfileStudio, ProfilePhone:
	case "":
		profile = ProfileStudio
	default:
		return nil, fmt.Errorf("unknown audio profile %q (want studio or phone)", profile)
	}
	if gap < 0 {
		gap = 0
	}
	return &Mixer{Profile: profile, Gap: gap, run: runFFmpeg}, nil
}

// Mix writes turns, in order and separated by the gap, to output. Scratch
// files go to a temporary directory next to output.
func (m *Mixer) Mix(ctx context.Context, turns []string, output string) error {
	if len(turns) == 0 {
		return fmt.Errorf("no turn audio to mix")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmpDir, err := os.MkdirTemp(filepath.Dir(output), ".mix-*")
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var gapPath string
	if m.Gap > 0 {
		gapPath = filepath.Join(tmpDir, "gap.mp3")
		if err := m.run(ctx, m.silenceArgs(gapPath)...); err != nil {
			return fmt.Errorf("generate gap: %w", err)
		}
	}

	listPath := filepath.Join(tmpDir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(concatList(turns, gapPath)), 0644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	if err := m.run(ctx, m.concatArgs(listPath, output)...); err != nil {
		return fmt.Errorf("concat turns: %w", err)
	}

	info, err := os.Stat(output)
	if err != nil {
		return fmt.Errorf("output file not created: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output file is empty")
	}
	return nil
}

func (m *Mixer) encodeArgs() []string {
	if m.Profile == ProfilePhone {
		return []string{
			"-af", "highpass=f=300,lowpass=f=3400",
			"-c:a", audioCodec, "-b:a", phoneBitrate,
			"-ar", phoneSampleRate, "-ac", "1",
		}
	}
	return []string{
		"-c:a", audioCodec, "-b:a", studioBitrate,
		"-ar", studioSampleRate, "-ac", "2",
	}
}

func (m *Mixer) silenceArgs(output string) []string {
	args := []string{
		"-f", "lavfi",
		"-i", "anullsrc=r=" + studioSampleRate + ":cl=stereo",
		"-t", fmt.Sprintf("%.3f", m.Gap.Seconds()),
	}
	args = append(args, m.encodeArgs()...)
	return append(args, "-y", output)
}

func (m *Mixer) concatArgs(listPath, output string) []string {
	args := []string{"-f", "concat", "-safe", "0", "-i", listPath}
	args = append(args, m.encodeArgs()...)
	return append(args, "-y", output)
}

// concatList renders an ffmpeg concat demuxer script. Single quotes in paths
// are escaped the way the demuxer expects.
func concatList(turns []string, gapPath string) string {
	var b strings.Builder
	for i, t := range turns {
		fmt.Fprintf(&b, "file '%s'\n", escapeQuote(t))
		if gapPath != "" && i < len(turns)-1 {
			fmt.Fprintf(&b, "file '%s'\n", escapeQuote(gapPath))
		}
	}
	return b.String()
}

func escapeQuote(p string) string {
	abs, err := filepath.Abs(p)
	if err == nil {
		p = abs
	}
	return strings.ReplaceAll(p, "'", `'\''`)
}

func runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w\n%s", err, stderr.String())
	}
	return nil
}
