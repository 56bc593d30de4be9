package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateUnknownModelReturnsNil(t *testing.T) {
	c := NewCalculator(nil)

	cost := c.Estimate("unknown-model", Usage{InputTokens: 1000, OutputTokens: 1000}, "")
	assert.Nil(t, cost)
}

func TestEstimateInputOnly(t *testing.T) {
	c := NewCalculator(nil)

	cost := c.Estimate("sonar", Usage{InputTokens: 1_000_000}, "")
	require.NotNil(t, cost)

	// One million input tokens cost exactly the per-MTok input price.
	assert.Equal(t, 1.0, cost.Input)
	assert.Equal(t, 0.0, cost.Output)
	assert.Equal(t, 1.0, cost.Total)
	assert.Equal(t, "USD", cost.Currency)
}

func TestEstimateCombined(t *testing.T) {
	c := NewCalculator(nil)

	cost := c.Estimate("sonar-pro", Usage{InputTokens: 500_000, OutputTokens: 200_000}, "")
	require.NotNil(t, cost)

	assert.Equal(t, 1.5, cost.Input)  // 0.5 MTok * $3
	assert.Equal(t, 3.0, cost.Output) // 0.2 MTok * $15
	assert.Equal(t, 4.5, cost.Total)
}

func TestEstimateSearchModeSurcharge(t *testing.T) {
	c := NewCalculator(nil)

	without := c.Estimate("sonar", Usage{InputTokens: 1000}, "")
	with := c.Estimate("sonar", Usage{InputTokens: 1000}, "high")
	require.NotNil(t, without)
	require.NotNil(t, with)

	assert.Equal(t, 0.012, with.Surcharge)
	assert.InDelta(t, without.Total+0.012, with.Total, 1e-9)
}

func TestEstimateUnpricedSearchMode(t *testing.T) {
	c := NewCalculator(nil)

	cost := c.Estimate("sonar-deep-research", Usage{InputTokens: 1000}, "high")
	require.NotNil(t, cost)
	assert.Zero(t, cost.Surcharge)
}

func TestEstimateRounding(t *testing.T) {
	c := NewCalculator(Table{
		"m": {InputPerMTok: 1, OutputPerMTok: 1},
	})

	// 333 tokens at $1/MTok is $0.000333, which rounds to 4 places.
	cost := c.Estimate("m", Usage{InputTokens: 333}, "")
	require.NotNil(t, cost)
	assert.Equal(t, 0.0003, cost.Input)
}

func TestEstimateZeroUsage(t *testing.T) {
	c := NewCalculator(nil)

	cost := c.Estimate("sonar", Usage{}, "")
	require.NotNil(t, cost)
	assert.Zero(t, cost.Total)
}

func TestCustomTable(t *testing.T) {
	c := NewCalculator(Table{
		"house-model": {InputPerMTok: 0.5, OutputPerMTok: 2},
	})

	cost := c.Estimate("house-model", Usage{InputTokens: 2_000_000, OutputTokens: 1_000_000}, "")
	require.NotNil(t, cost)
	assert.Equal(t, 1.0, cost.Input)
	assert.Equal(t, 2.0, cost.Output)
	assert.Equal(t, 3.0, cost.Total)

	assert.Nil(t, c.Estimate("sonar", Usage{InputTokens: 1}, ""))

	p, ok := c.Pricing("house-model")
	require.True(t, ok)
	assert.Equal(t, 0.5, p.InputPerMTok)
}
