package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apresai/callsynth/internal/llm"
	"github.com/apresai/callsynth/internal/seed"
)

func TestDetectSource(t *testing.T) {
	assert.Equal(t, SourceURL, DetectSource("https://example.com/advisory"))
	assert.Equal(t, SourcePDF, DetectSource("reports/Q3.PDF"))
	assert.Equal(t, SourceText, DetectSource("scenarios.txt"))
	assert.IsType(t, &URLReader{}, NewReader("http://x", nil))
}

func TestTextReaderOneScenarioPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.txt")
	content := "# collected from hotline reports\nFake courier says a parcel holds drugs\n\n  Bank fraud team asks to move savings to a safe account  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	doc, err := (&TextReader{}).Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "scenarios.txt", doc.Source)
	assert.Equal(t, []string{
		"Fake courier says a parcel holds drugs",
		"Bank fraud team asks to move savings to a safe account",
	}, doc.Scenarios)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0644))
	_, err = (&TextReader{}).Read(context.Background(), empty)
	assert.ErrorContains(t, err, "no scenarios")

	_, err = (&TextReader{}).Read(context.Background(), t.TempDir())
	assert.ErrorContains(t, err, "is a directory")
}

const advisoryPage = `<html><head><title>Police warn of parcel scam calls</title></head><body>
<nav>Home | News | Contact</nav>
<article>
<h1>Police warn of parcel scam calls</h1>
<p>Police have received dozens of reports of calls from people claiming to be courier staff. The caller says a parcel in the victim's name was found to contain illegal items and transfers the call to a fake police officer.</p>
<p>The fake officer then threatens arrest unless the victim moves money into a so-called safe account for investigation. Victims are told not to tell anyone, including family members, while the case is open.</p>
<p>Authorities remind the public that no agency will ask for money transfers over the phone, and urge anyone who receives such a call to hang up and report it.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestURLReaderExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, advisoryPage)
	}))
	defer srv.Close()

	docs, err := ReadAll(context.Background(), []string{srv.URL + "/advisory"}, srv.Client())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	doc := docs[0]
	assert.Equal(t, "Police warn of parcel scam calls", doc.Title)
	require.Len(t, doc.Scenarios, 1)
	assert.Contains(t, doc.Scenarios[0], "safe account")
	assert.NotContains(t, doc.Scenarios[0], "\n")

	_, err = ReadAll(context.Background(), []string{srv.URL + "/missing"}, srv.Client())
	assert.ErrorContains(t, err, "404 Not Found")
}

func TestPDFReaderMissingFile(t *testing.T) {
	_, err := (&PDFReader{}).Read(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	assert.ErrorContains(t, err, "cannot access")
}

func TestArticleScenarioCapsLength(t *testing.T) {
	long := strings.Repeat("kata ", maxScenarioRunes)
	got := articleScenario(long)
	assert.Len(t, []rune(got), maxScenarioRunes)
	assert.Equal(t, "a b", articleScenario("  a\n\n\tb "))
}

func TestPackScenariosSplitsLongDocuments(t *testing.T) {
	half := strings.Repeat("x", maxScenarioRunes/2)
	got := packScenarios([]string{"case one", "case\ntwo", "  ", half, half})
	require.Len(t, got, 2)
	assert.Equal(t, "case one case two "+half, got[0])
	assert.Equal(t, half, got[1])

	assert.Equal(t, []string{"a", "b\nc"}, paragraphs("a\r\n\r\nb\nc"))
}

type fakeLLM struct {
	mu      sync.Mutex
	replies map[string]string
	prompts []string
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Prompt)
	for key, reply := range f.replies {
		if strings.Contains(req.Prompt, key) {
			if reply == "" {
				return llm.Response{}, errors.New("overloaded")
			}
			return llm.Response{Text: reply}, nil
		}
	}
	return llm.Response{Text: "not json"}, nil
}

func TestDraftAll(t *testing.T) {
	client := &fakeLLM{replies: map[string]string{
		"courier": "```json\n{\"type\":\"Consumer Services\",\"summary\":\"Fake courier\",\"meta_tag\":\"Parcel Drugs - Fake Police\",\"seed\":\"The caller claims a parcel holds illegal items.\"}\n```",
		"bank":    `{"type":"Banking","summary":"Safe account","meta_tag":"safe_account","seed":"The caller poses as the bank's fraud team."}`,
		"lottery": "",
	}}
	docs := []*Document{
		{Source: "list.txt", Scenarios: []string{"courier call", "lottery win", "bank fraud team"}},
		{Source: "other.txt", Scenarios: []string{"gibberish"}},
	}

	d := &Drafter{Client: client, Concurrency: 3, Quality: 75, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	seeds, failures, err := d.DraftAll(context.Background(), docs, "draft-")
	require.NoError(t, err)

	require.Len(t, seeds, 2)
	assert.Equal(t, "draft-0001", seeds[0].ID)
	assert.Equal(t, "Consumer Services", seeds[0].Category)
	assert.Equal(t, "parcel_drugs_fake_police", seeds[0].MetaTag)
	assert.Equal(t, 75.0, seeds[0].QualityScore)
	assert.Equal(t, "draft-0002", seeds[1].ID)
	assert.Equal(t, "Other", seeds[1].Category, "unknown categories fall back to Other")

	require.Len(t, failures, 2)
	assert.Equal(t, DraftFailure{Source: "list.txt", Index: 1, Error: "overloaded"}, failures[0])
	assert.Equal(t, "other.txt", failures[1].Source)
	assert.Len(t, client.prompts, 4)

	path := filepath.Join(t.TempDir(), "seeds.json")
	require.NoError(t, SaveSeeds(path, seeds))
	store, err := seed.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestDraftAllStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &Drafter{Client: &fakeLLM{}}
	_, _, err := d.DraftAll(ctx, []*Document{{Source: "a", Scenarios: []string{"x"}}}, "s")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetaTag(t *testing.T) {
	assert.Equal(t, "tax_authority_payment", metaTag("  Tax Authority / Payment!! "))
	assert.Equal(t, "", metaTag("--"))
}
