package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

const userAgent = "callsynth-ingest/1.0"

// URLReader fetches a news report or advisory page and keeps the main
// article, dropping navigation and boilerplate.
type URLReader struct {
	Client *http.Client
}

func (u *URLReader) Read(ctx context.Context, source string) (*Document, error) {
	pageURL, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse URL %s: %w", source, err)
	}
	body, err := u.fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	article, err := readability.FromReader(io.LimitReader(body, maxInputSize), pageURL)
	if err != nil {
		return nil, fmt.Errorf("extract article from %s: %w", source, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, fmt.Errorf("%s has no readable article text", source)
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = titleFromText(text, 80)
	}
	return &Document{
		Source:    source,
		Title:     title,
		Scenarios: packScenarios(paragraphs(text)),
		WordCount: wordCount(text),
	}, nil
}

func (u *URLReader) fetch(ctx context.Context, source string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	res, err := u.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", source, res.Status)
	}
	return res.Body, nil
}
