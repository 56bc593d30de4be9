// Package pricing estimates the monetary cost of completed Perplexity
// calls from the model identifier and token usage. Estimation is
// best-effort: an unrecognized model yields no estimate, never an error.
package pricing

import "math"

// Precision is the number of decimal places cost figures are rounded to,
// keeping floating-point noise out of logs.
const Precision = 4

// Currency is the currency all table entries are denominated in.
const Currency = "USD"

// ModelPricing is the per-model entry of the pricing table.
type ModelPricing struct {
	// InputPerMTok is the price in USD per million input tokens.
	InputPerMTok float64 `yaml:"input_per_mtok"`

	// OutputPerMTok is the price in USD per million output tokens.
	OutputPerMTok float64 `yaml:"output_per_mtok"`

	// SearchSurcharge maps a search mode to a flat per-request fee in USD.
	SearchSurcharge map[string]float64 `yaml:"search_surcharge,omitempty"`
}

// Table maps model identifiers to their pricing. Read-only at call time.
type Table map[string]ModelPricing

// DefaultTable returns the built-in Perplexity price list.
func DefaultTable() Table {
	searchFees := map[string]float64{
		"low":    0.005,
		"medium": 0.008,
		"high":   0.012,
	}
	return Table{
		"sonar": {
			InputPerMTok:    1,
			OutputPerMTok:   1,
			SearchSurcharge: searchFees,
		},
		"sonar-pro": {
			InputPerMTok:    3,
			OutputPerMTok:   15,
			SearchSurcharge: searchFees,
		},
		"sonar-reasoning": {
			InputPerMTok:    1,
			OutputPerMTok:   5,
			SearchSurcharge: searchFees,
		},
		"sonar-reasoning-pro": {
			InputPerMTok:    2,
			OutputPerMTok:   8,
			SearchSurcharge: searchFees,
		},
		"sonar-deep-research": {
			InputPerMTok:  2,
			OutputPerMTok: 8,
		},
	}
}

// Usage is the token usage reported for one completed call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Cost is an estimate for one call, each figure rounded to Precision
// decimal places.
type Cost struct {
	Input     float64 `json:"input_cost"`
	Output    float64 `json:"output_cost"`
	Surcharge float64 `json:"surcharge,omitempty"`
	Total     float64 `json:"total_cost"`
	Currency  string  `json:"currency"`
}

// Calculator estimates costs against a pricing table.
type Calculator struct {
	table Table
}

// NewCalculator creates a Calculator. A nil table uses DefaultTable.
func NewCalculator(table Table) *Calculator {
	if table == nil {
		table = DefaultTable()
	}
	return &Calculator{table: table}
}

// Pricing returns the table entry for a model.
func (c *Calculator) Pricing(model string) (ModelPricing, bool) {
	p, ok := c.table[model]
	return p, ok
}

// Estimate computes the cost of a completed call. It returns nil for a
// model not present in the table — cost estimation must never fail a
// successful API call. searchMode adds the flat surcharge the table prices
// for it; an unpriced mode adds nothing.
func (c *Calculator) Estimate(model string, usage Usage, searchMode string) *Cost {
	p, ok := c.table[model]
	if !ok {
		return nil
	}

	input := float64(usage.InputTokens) * p.InputPerMTok / 1e6
	output := float64(usage.OutputTokens) * p.OutputPerMTok / 1e6

	var surcharge float64
	if searchMode != "" {
		surcharge = p.SearchSurcharge[searchMode]
	}

	return &Cost{
		Input:     round(input),
		Output:    round(output),
		Surcharge: round(surcharge),
		Total:     round(input + output + surcharge),
		Currency:  Currency,
	}
}

func round(x float64) float64 {
	shift := math.Pow10(Precision)
	return math.Round(x*shift) / shift
}
