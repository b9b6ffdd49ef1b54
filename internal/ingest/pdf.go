package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFReader reads advisory bulletins. Pages are packed into scenarios, so a
// bulletin that lists many cases drafts several seeds.
type PDFReader struct{}

func (PDFReader) Read(ctx context.Context, source string) (*Document, error) {
	if err := validateFile(source); err != nil {
		return nil, err
	}
	f, r, err := pdf.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open PDF %s: %w", source, err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for n := 1; n <= r.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(n)
		if p.V.IsNull() {
			continue
		}
		// Pages that fail to extract are usually images; skip them.
		if text, err := p.GetPlainText(nil); err == nil && strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no text in PDF %s (scanned or image-only?)", source)
	}

	all := strings.Join(pages, "\n")
	return &Document{
		Source:    filepath.Base(source),
		Title:     titleFromText(strings.TrimSpace(pages[0]), 80),
		Scenarios: packScenarios(pages),
		WordCount: wordCount(all),
	}, nil
}
