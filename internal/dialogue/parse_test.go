package dialogue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		roles []Role
		texts []string
	}{
		{
			name:  "strict object",
			raw:   `{"dialogue":[{"role":"caller","text":"Hello"},{"role":"callee","text":"Hi"}]}`,
			roles: []Role{RoleCaller, RoleCallee},
			texts: []string{"Hello", "Hi"},
		},
		{
			name:  "bare array",
			raw:   `[{"role":"caller","text":"Hello"}]`,
			roles: []Role{RoleCaller},
			texts: []string{"Hello"},
		},
		{
			name:  "speaker alias and casing",
			raw:   `{"turns":[{"speaker":" Caller ","text":" Hello "}]}`,
			roles: []Role{RoleCaller},
			texts: []string{"Hello"},
		},
		{
			name: "fenced with scratchpad",
			raw: "<scratchpad>plan {not json}</scratchpad>\n```json\n" +
				`{"dialogue":[{"role":"caller","text":"A"},{"role":"callee","text":"B"}]}` + "\n```",
			roles: []Role{RoleCaller, RoleCallee},
			texts: []string{"A", "B"},
		},
		{
			name:  "prose around json",
			raw:   `Sure! Here is the dialogue: {"dialogue":[{"role":"caller","text":"A"}]} Let me know if you need more.`,
			roles: []Role{RoleCaller},
			texts: []string{"A"},
		},
		{
			name:  "bracketed preamble before json",
			raw:   "[Draft] Here is the dialogue:\n" + `{"dialogue":[{"role":"caller","text":"A"},{"role":"callee","text":"B"}]}`,
			roles: []Role{RoleCaller, RoleCallee},
			texts: []string{"A", "B"},
		},
		{
			name:  "unrelated object before dialogue",
			raw:   `Using {"locale": "ms-my"} as requested: {"dialogue":[{"role":"caller","text":"A"}]}`,
			roles: []Role{RoleCaller},
			texts: []string{"A"},
		},
		{
			name:  "brackets inside strings",
			raw:   `Output: {"dialogue":[{"role":"caller","text":"Pay {00001} now } ]"}]} trailing }`,
			roles: []Role{RoleCaller},
			texts: []string{"Pay {00001} now } ]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns, err := Parse(tt.raw)
			require.NoError(t, err)
			require.Len(t, turns, len(tt.roles))
			for i, turn := range turns {
				assert.Equal(t, i, turn.Index)
				assert.Equal(t, tt.roles[i], turn.Role)
				assert.Equal(t, tt.texts[i], turn.Text)
			}
		})
	}
}

func TestParseFailures(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot help with that.",
		`{"dialogue": []}`,
		`{"dialogue": [{"role": "caller", "text": }`,
		`{"title": "no turns here"}`,
		"[Draft] {\"dialogue\": [{\"role\": \"caller\"",
		`[Draft] then [Final] {"note": "no turns"}`,
	} {
		_, err := Parse(raw)
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), "raw %q: %v", raw, err)
	}
}

func TestJSONCandidatesFirstSpan(t *testing.T) {
	first := func(text string) string {
		if c := jsonCandidates(text); len(c) > 0 {
			return c[0]
		}
		return ""
	}
	assert.Equal(t, `{"a":"}"}`, first(`x {"a":"}"} y`))
	assert.Equal(t, `[1,[2]]`, first(`[1,[2]] {}`))
	assert.Equal(t, `{"a":"\"}"}`, first(`{"a":"\"}"}`))
	assert.Equal(t, "", first("no json"))
}

func TestJSONCandidatesInOrder(t *testing.T) {
	assert.Equal(t, []string{`[Draft]`, `{"a":[1]}`, `[1]`}, jsonCandidates(`[Draft] {"a":[1]}`))
	assert.Equal(t, []string{`{ {"a":1} x }`, `{"a":1}`}, jsonCandidates(`{ {"a":1} x }`))
	assert.Empty(t, jsonCandidates("plain"))
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Type    string `json:"type"`
		Summary string `json:"summary"`
	}
	raw := "Here is the record:\n```json\n{\"type\": \"Workplace\", \"summary\": \"Fake HR {call}\"}\n```"
	require.NoError(t, DecodeJSON(raw, &out))
	assert.Equal(t, "Workplace", out.Type)
	assert.Equal(t, "Fake HR {call}", out.Summary)

	out.Type = ""
	require.NoError(t, DecodeJSON(`[v2] Record: {"type": "Courier", "summary": "Parcel held"}`, &out))
	assert.Equal(t, "Courier", out.Type)

	var pe *ParseError
	require.ErrorAs(t, DecodeJSON("no json here", &out), &pe)
	assert.Equal(t, "no JSON content found", pe.Reason)
	assert.Error(t, DecodeJSON("   ", &out))
}
