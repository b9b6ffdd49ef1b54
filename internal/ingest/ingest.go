// Package ingest turns scam reports, advisories and scenario lists into
// draft seed records.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

type SourceType string

const (
	SourceURL  SourceType = "url"
	SourcePDF  SourceType = "pdf"
	SourceText SourceType = "text"

	// maxInputSize is the maximum allowed size for input content (25 MB).
	maxInputSize = 25 * 1024 * 1024

	// maxScenarioRunes caps how much of an article goes into one prompt.
	maxScenarioRunes = 6000
)

// Document is the scenario text read from one source.
type Document struct {
	Source    string
	Title     string
	Scenarios []string
	WordCount int
}

// Reader reads scenario text from a source.
type Reader interface {
	Read(ctx context.Context, source string) (*Document, error)
}

func DetectSource(input string) SourceType {
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return SourceURL
	}
	if strings.HasSuffix(strings.ToLower(input), ".pdf") {
		return SourcePDF
	}
	return SourceText
}

// NewReader picks a Reader for input. client is used for URLs; nil means a
// client with a 30s timeout.
func NewReader(input string, client *http.Client) Reader {
	switch DetectSource(input) {
	case SourceURL:
		if client == nil {
			client = &http.Client{Timeout: 30 * time.Second}
		}
		return &URLReader{Client: client}
	case SourcePDF:
		return &PDFReader{}
	default:
		return &TextReader{}
	}
}

// ReadAll reads every source in order.
func ReadAll(ctx context.Context, sources []string, client *http.Client) ([]*Document, error) {
	docs := make([]*Document, 0, len(sources))
	for _, src := range sources {
		doc, err := NewReader(src, client).Read(ctx, src)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// packScenarios joins consecutive blocks (pages, paragraphs) into scenarios
// of at most maxScenarioRunes. A block longer than that is cut to fit.
func packScenarios(blocks []string) []string {
	var out []string
	var cur []string
	size := 0
	for _, b := range blocks {
		b = articleScenario(b)
		n := utf8.RuneCountInString(b)
		if n == 0 {
			continue
		}
		if size > 0 && size+1+n > maxScenarioRunes {
			out = append(out, strings.Join(cur, " "))
			cur, size = nil, 0
		}
		if size > 0 {
			size++
		}
		cur = append(cur, b)
		size += n
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

// paragraphs splits text on blank lines.
func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n\n")
}

// articleScenario collapses whitespace and caps text at maxScenarioRunes.
func articleScenario(text string) string {
	text = strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
	if r := []rune(text); len(r) > maxScenarioRunes {
		text = string(r[:maxScenarioRunes])
	}
	return text
}

func wordCount(text string) int {
	return len(strings.FieldsFunc(text, unicode.IsSpace))
}

func titleFromText(text string, maxLen int) string {
	line := text
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		line = text[:idx]
	}
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > maxLen {
		line = string(r[:maxLen]) + "..."
	}
	if line == "" {
		return "Untitled"
	}
	return line
}

func validateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}
	if info.Size() > maxInputSize {
		return fmt.Errorf("%s is too large (%d MB, max %d MB)", path, info.Size()/(1024*1024), maxInputSize/(1024*1024))
	}
	return nil
}
