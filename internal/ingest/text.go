package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextReader reads a scenario list: one scenario per non-empty line, with
// '#' lines ignored.
type TextReader struct{}

func (t *TextReader) Read(ctx context.Context, source string) (*Document, error) {
	if err := validateFile(source); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("could not read file %s: %w", source, err)
	}

	var scenarios []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		scenarios = append(scenarios, line)
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("file %s has no scenarios", source)
	}

	return &Document{
		Source:    filepath.Base(source),
		Title:     titleFromText(scenarios[0], 80),
		Scenarios: scenarios,
		WordCount: wordCount(string(data)),
	}, nil
}
