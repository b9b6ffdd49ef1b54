package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apresai/callsynth/internal/scenario"
)

func TestBuildScamPrompt(t *testing.T) {
	u := scamUnit()
	u.Template.Turns = scenario.TurnRange{Min: 20, Max: 24}
	values := map[string]string{"bank_name_local": "Maybank", "00001": "Officer Tan"}

	p := BuildScamPrompt(u, "This is Officer Tan from Maybank.", values, Guidance{Language: "Malay", Region: "Malaysia", Tolerance: 2})

	assert.Equal(t, KindScam, p.Kind)
	assert.Contains(t, p.System, "Target 20-24 turns in total (acceptable range 18-26)")
	assert.Contains(t, p.System, "spoken Malay as used in Malaysia")
	assert.Contains(t, p.User, "tiny aware of the scam")
	assert.Contains(t, p.User, "SCAM CATEGORY: Government Impersonation")
	assert.Contains(t, p.User, `"This is Officer Tan from Maybank."`)
	assert.Contains(t, p.User, "- 00001: Officer Tan\n- bank_name_local: Maybank\n")
	assert.Contains(t, p.User, "CALLER: Officer (scammer_a)")
	assert.Contains(t, p.User, "Generate exactly 22 dialogue turns")
}

func TestBuildScamPromptWithoutValues(t *testing.T) {
	p := BuildScamPrompt(scamUnit(), "Hello there.", nil, Guidance{})
	assert.NotContains(t, p.User, "FIXED VALUES")
	assert.Contains(t, p.System, "natural, colloquial spoken language for the locale")
}

func TestDisplayCategory(t *testing.T) {
	assert.Equal(t, "Government Impersonation", displayCategory("government_impersonation"))
	assert.Equal(t, "E-commerce Fraud", displayCategory("E-commerce Fraud"))
	assert.Equal(t, "", displayCategory(""))
}
