package holdings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() []Holding {
	return []Holding{
		{Symbol: "BTC", Name: "Bitcoin", ValueUSD: 45000, Provider: "binance"},
		{Symbol: "ETH", Name: "Ethereum", ValueUSD: 2000, Provider: "binance"},
		{Symbol: "DOGE", Name: "Dogecoin", ValueUSD: 0.42, Provider: "kraken"},
		{Symbol: "SOL", Name: "Solana", ValueUSD: 150, Provider: "kraken"},
	}
}

func TestFilter_Dust(t *testing.T) {
	out := Filter(sampleRows(), Options{MinValueUSD: 1})

	require.Len(t, out, 3)
	for _, row := range out {
		assert.NotEqual(t, "DOGE", row.Symbol)
	}
}

func TestFilter_DustBoundaryKept(t *testing.T) {
	rows := []Holding{{Symbol: "X", ValueUSD: 1.0}}

	// Strictly below drops; equal stays.
	out := Filter(rows, Options{MinValueUSD: 1.0})
	assert.Len(t, out, 1)
}

func TestFilter_Query(t *testing.T) {
	t.Run("matches symbol case-insensitively", func(t *testing.T) {
		out := Filter(sampleRows(), Options{Query: "btc"})
		require.Len(t, out, 1)
		assert.Equal(t, "BTC", out[0].Symbol)
	})

	t.Run("matches name substring", func(t *testing.T) {
		out := Filter(sampleRows(), Options{Query: "coin"})
		// Bitcoin and Dogecoin
		require.Len(t, out, 2)
	})

	t.Run("whitespace-only query is inactive", func(t *testing.T) {
		out := Filter(sampleRows(), Options{Query: "   "})
		assert.Len(t, out, 4)
	})
}

func TestFilter_Provider(t *testing.T) {
	out := Filter(sampleRows(), Options{Provider: "kraken"})

	require.Len(t, out, 2)
	assert.Equal(t, "DOGE", out[0].Symbol)
	assert.Equal(t, "SOL", out[1].Symbol)
}

func TestFilter_Combined(t *testing.T) {
	out := Filter(sampleRows(), Options{
		MinValueUSD: 1,
		Provider:    "kraken",
	})

	require.Len(t, out, 1)
	assert.Equal(t, "SOL", out[0].Symbol)
}

func TestFilter_NoOptions(t *testing.T) {
	out := Filter(sampleRows(), Options{})
	assert.Equal(t, sampleRows(), out)
}

func TestGroupByProvider(t *testing.T) {
	groups := GroupByProvider(sampleRows())

	require.Len(t, groups, 2)

	assert.Equal(t, "binance", groups[0].Provider)
	assert.Len(t, groups[0].Holdings, 2)
	assert.InDelta(t, 47000.0, groups[0].ValueUSD, 1e-9)

	assert.Equal(t, "kraken", groups[1].Provider)
	assert.Len(t, groups[1].Holdings, 2)
	assert.InDelta(t, 150.42, groups[1].ValueUSD, 1e-9)
}

func TestGroupByProvider_NoMerging(t *testing.T) {
	rows := []Holding{
		{Symbol: "BTC", ValueUSD: 100, Provider: "binance", IntegrationName: "Main"},
		{Symbol: "BTC", ValueUSD: 200, Provider: "binance", IntegrationName: "Spot"},
	}

	groups := GroupByProvider(rows)
	require.Len(t, groups, 1)
	// Both rows survive; partitioning never merges symbols.
	require.Len(t, groups[0].Holdings, 2)
	assert.Equal(t, "Main", groups[0].Holdings[0].IntegrationName)
	assert.Equal(t, "Spot", groups[0].Holdings[1].IntegrationName)
}

func TestGroupByProvider_Empty(t *testing.T) {
	assert.Empty(t, GroupByProvider(nil))
}
