package dialogue

import (
	"fmt"
	"sort"
	"strings"

	"github.com/apresai/callsynth/internal/llm"
	"github.com/apresai/callsynth/internal/scenario"
)

// Guidance carries locale and length settings shared by every prompt in a
// batch.
type Guidance struct {
	Language  string
	Region    string
	Tolerance int
}

// PromptSpec is a fully built prompt for one conversation.
type PromptSpec struct {
	Kind   Kind
	System string
	User   string
}

// Request turns the prompt into an LLM request.
func (p PromptSpec) Request(model string, maxTokens int32, temperature float32) llm.Request {
	return llm.Request{
		Model:       model,
		System:      []string{p.System},
		Prompt:      p.User,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		JSON:        true,
		Schema:      dialogueSchema,
	}
}

// dialogueSchema is the structured form of outputFormat.
var dialogueSchema = func() *llm.Schema {
	s := llm.Object(map[string]*llm.Schema{
		"dialogue": llm.ArrayOf(llm.Object(map[string]*llm.Schema{
			"role": llm.String("Who speaks this turn", string(RoleCaller), string(RoleCallee)),
			"text": llm.String("What is said, one or two short sentences"),
		}, "role", "text")),
	}, "dialogue")
	s.Name = "record_dialogue"
	s.Description = "Record the generated phone conversation as alternating turns."
	return s
}()

const outputFormat = `OUTPUT FORMAT:
Return ONLY valid JSON matching this exact structure (no markdown fences, no extra text):
{
  "dialogue": [
    {"role": "caller", "text": "..."},
    {"role": "callee", "text": "..."}
  ]
}`

const scamSystem = `You are a dialogue generator for creating realistic phone conversations used to train scam detection models.
Your task is to generate structured dialogues with alternating turns between caller and callee.

ROLES:
- caller: the scammer. Stays in character, applies pressure appropriate to the scenario, and never admits to the scam.
- callee: the person receiving the call. Reacts according to the stated awareness level.

RULES:
1. Turns strictly alternate, starting with "caller"
2. Target %s turns in total (acceptable range %d-%d)
3. Each turn is 1-2 short spoken sentences; shorter sentences are preferred
4. %s
5. Institutions, agencies, and procedures must be plausible for %s; never mix in institutions from other countries
6. Keep every name, organization, number, and amount consistent across turns
7. Preserve any special codes in the input exactly as written

` + outputFormat

const legitSystem = `You are a dialogue generator for creating realistic phone conversations.
Your task is to generate structured dialogues for legitimate (non-scam) phone calls with alternating turns between caller and callee.
The conversations should be natural, contextually appropriate, and culturally relevant.

RULES:
1. Turns strictly alternate, starting with "caller"
2. Target %s turns in total (acceptable range %d-%d)
3. Each turn is 1-2 short spoken sentences; shorter sentences are preferred
4. %s
5. Avoid overly generic or repetitive phrasing
6. To protect privacy, use synthetic but realistic-looking values instead of real personal data

` + outputFormat

// BuildScamPrompt assembles the prompt for a scam unit. seedText must already
// have its placeholders substituted with values.
func BuildScamPrompt(u Unit, seedText string, values map[string]string, g Guidance) PromptSpec {
	tr := u.Template.Turns
	system := fmt.Sprintf(scamSystem,
		tr.String(), max(tr.Min-g.Tolerance, 1), tr.Max+g.Tolerance,
		languageRule(g), regionName(u.Locale, g),
	)

	var b strings.Builder
	fmt.Fprintf(&b, "Continue the scam phone call dialogue between the caller (scammer) and callee (victim). The victim is %s.\n\n", awarenessDescription(u.Template.Awareness))
	fmt.Fprintf(&b, "SCAM CATEGORY: %s\n\n", displayCategory(u.Template.Category))
	writeCharacters(&b, u)

	b.WriteString("FIRST SENTENCE:\n")
	b.WriteString("The conversation must begin with a shortened version of this sentence, preserving its intent and every concrete value in it:\n")
	fmt.Fprintf(&b, "%q\n\n", seedText)

	if len(values) > 0 {
		b.WriteString("FIXED VALUES (reuse exactly, wherever the conversation refers to them; do not invent new ones):\n")
		for _, tag := range sortedKeys(values) {
			fmt.Fprintf(&b, "- %s: %s\n", tag, values[tag])
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Generate exactly %d dialogue turns, starting with \"caller\" role.", tr.Target())

	return PromptSpec{Kind: KindScam, System: system, User: b.String()}
}

// BuildLegitPrompt assembles the prompt for a legitimate-call unit.
func BuildLegitPrompt(u Unit, g Guidance) PromptSpec {
	tr := u.Template.Turns
	system := fmt.Sprintf(legitSystem,
		tr.String(), max(tr.Min-g.Tolerance, 1), tr.Max+g.Tolerance,
		languageRule(g),
	)

	var b strings.Builder
	lang := g.Language
	if lang == "" {
		lang = "natural"
	}
	fmt.Fprintf(&b, "Generate a realistic %s phone call dialogue between a caller and a callee from %s.\n", lang, regionName(u.Locale, g))
	fmt.Fprintf(&b, "The call content is about %s.\n\n", displayCategory(u.Template.Category))
	writeCharacters(&b, u)
	fmt.Fprintf(&b, "Generate exactly %d dialogue turns, starting with \"caller\" role.", tr.Target())

	return PromptSpec{Kind: KindLegit, System: system, User: b.String()}
}

func writeCharacters(b *strings.Builder, u Unit) {
	if u.Pair.Caller.ID != "" {
		b.WriteString("CALLER: ")
		b.WriteString(u.Pair.Caller.Describe())
		b.WriteString("\n")
	}
	if u.Pair.Callee.ID != "" {
		b.WriteString("CALLEE: ")
		b.WriteString(u.Pair.Callee.Describe())
		b.WriteString("\n")
	}
}

func languageRule(g Guidance) string {
	if g.Language == "" {
		return "Write in natural, colloquial spoken language for the locale"
	}
	return fmt.Sprintf("Write entirely in natural, colloquial spoken %s as used in %s", g.Language, regionOr(g.Region, "the region"))
}

func regionName(locale string, g Guidance) string {
	return regionOr(g.Region, locale)
}

func regionOr(region, fallback string) string {
	if region != "" {
		return region
	}
	return fallback
}

func awarenessDescription(a scenario.Awareness) string {
	switch a {
	case scenario.AwarenessTiny:
		return "tiny aware of the scam: slightly suspicious but mostly goes along"
	case scenario.AwarenessVery:
		return "very aware of the scam: recognizes it early, resists, and may end the call"
	default:
		return "not aware of the scam: trusting and cooperative"
	}
}

// displayCategory turns "government_impersonation" into "Government Impersonation".
func displayCategory(category string) string {
	words := strings.Fields(strings.ReplaceAll(category, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
