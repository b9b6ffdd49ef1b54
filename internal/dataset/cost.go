package dataset

import (
	"strings"

	"github.com/apresai/callsynth/internal/llm"
)

// price is USD per million tokens.
type price struct {
	input  float64
	output float64
}

// Rough list prices, matched by substring of the resolved model id.
var prices = []struct {
	match string
	price price
}{
	{"haiku", price{0.80, 4.00}},
	{"sonnet", price{3.00, 15.00}},
	{"opus", price{15.00, 75.00}},
	{"nova-2-lite", price{0.06, 0.24}},
	{"gemini-2.5-flash", price{0.075, 0.30}},
	{"gemini-2.5-pro", price{1.25, 10.00}},
}

// EstimateCost returns the approximate USD cost of usage on model. Unknown
// models cost zero.
func EstimateCost(model string, usage llm.Usage) float64 {
	m := strings.ToLower(model)
	for _, p := range prices {
		if strings.Contains(m, p.match) {
			return float64(usage.InputTokens)*p.price.input/1_000_000 +
				float64(usage.OutputTokens)*p.price.output/1_000_000
		}
	}
	return 0
}
