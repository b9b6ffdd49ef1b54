package dialogue

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports raw LLM output that could not be turned into turns.
type ParseError struct {
	Reason  string
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	msg := "parse dialogue: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Snippet != "" {
		msg += fmt.Sprintf(" (first chars: %q)", e.Snippet)
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

type rawTurn struct {
	Role    string `json:"role"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type envelope struct {
	Dialogue []rawTurn `json:"dialogue"`
	Turns    []rawTurn `json:"turns"`
}

// Parse decodes LLM output into turns. The whole text is first decoded as
// strict JSON; if that fails, scratchpad blocks and markdown fences are
// stripped and each balanced JSON value is tried in order until one holds
// dialogue turns.
func Parse(raw string) ([]Turn, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, &ParseError{Reason: "empty response"}
	}

	turns, strictErr := decodeTurns(text)
	if strictErr == nil {
		return turns, nil
	}

	candidates := jsonCandidates(stripMarkdownFences(stripScratchpad(text)))
	if len(candidates) == 0 {
		return nil, &ParseError{Reason: "no JSON content found", Snippet: truncate(raw, 200)}
	}

	var firstErr error
	var firstText string
	for _, c := range candidates {
		turns, err := decodeTurns(c)
		if err == nil {
			return turns, nil
		}
		if firstErr == nil {
			firstErr, firstText = err, c
		}
	}
	return nil, &ParseError{Reason: "invalid dialogue JSON", Snippet: truncate(firstText, 200), Err: firstErr}
}

func decodeTurns(text string) ([]Turn, error) {
	var raws []rawTurn
	switch {
	case strings.HasPrefix(text, "["):
		if err := json.Unmarshal([]byte(text), &raws); err != nil {
			return nil, err
		}
	case strings.HasPrefix(text, "{"):
		var env envelope
		if err := json.Unmarshal([]byte(text), &env); err != nil {
			return nil, err
		}
		raws = env.Dialogue
		if len(raws) == 0 {
			raws = env.Turns
		}
	default:
		return nil, fmt.Errorf("not a JSON object or array")
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("no dialogue turns")
	}

	turns := make([]Turn, len(raws))
	for i, r := range raws {
		role := r.Role
		if role == "" {
			role = r.Speaker
		}
		turns[i] = Turn{
			Index: i,
			Role:  Role(strings.ToLower(strings.TrimSpace(role))),
			Text:  strings.TrimSpace(r.Text),
		}
	}
	return turns, nil
}

var (
	scratchpadRe = regexp.MustCompile(`(?s)<scratchpad>.*?</scratchpad>`)
	fenceRe      = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\n?```")
)

func stripScratchpad(text string) string {
	return scratchpadRe.ReplaceAllString(text, "")
}

func stripMarkdownFences(text string) string {
	if m := fenceRe.FindStringSubmatch(text); len(m) > 1 {
		return m[1]
	}
	return text
}

// maxCandidates bounds how many bracket positions are tried per response.
const maxCandidates = 64

// jsonCandidates returns the balanced {...} and [...] spans of text in order
// of their opening bracket, skipping brackets inside string literals. The
// span between the first '{' and the last '}' comes last when it is not
// already listed.
func jsonCandidates(text string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for start := 0; start < len(text) && len(out) < maxCandidates; start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		if end := balancedEnd(text, start); end > 0 {
			add(text[start:end])
		}
	}

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first >= 0 && last > first {
		add(text[first : last+1])
	}
	return out
}

// balancedEnd returns the index just past the bracket closing text[start],
// or -1 when it never closes.
func balancedEnd(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// DecodeJSON decodes the first JSON value in LLM output into v, tolerating
// scratchpad blocks, markdown fences and surrounding prose.
func DecodeJSON(raw string, v any) error {
	text := strings.TrimSpace(raw)
	if text == "" {
		return &ParseError{Reason: "empty response"}
	}
	if json.Unmarshal([]byte(text), v) == nil {
		return nil
	}
	candidates := jsonCandidates(stripMarkdownFences(stripScratchpad(text)))
	if len(candidates) == 0 {
		return &ParseError{Reason: "no JSON content found", Snippet: truncate(raw, 200)}
	}
	var firstErr error
	for _, c := range candidates {
		if !json.Valid([]byte(c)) {
			if firstErr == nil {
				firstErr = &ParseError{Reason: "invalid JSON", Snippet: truncate(c, 200), Err: json.Unmarshal([]byte(c), new(any))}
			}
			continue
		}
		err := json.Unmarshal([]byte(c), v)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = &ParseError{Reason: "invalid JSON", Snippet: truncate(c, 200), Err: err}
		}
	}
	return firstErr
}
