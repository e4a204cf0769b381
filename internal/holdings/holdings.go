// Package holdings turns per-integration holding rows into the
// symbol-level view the dashboard presents: aggregation across
// integrations, filtering, provider grouping, and allocation shares.
package holdings

import "fmt"

// MultipleProviders is the integration display name substituted on
// aggregates, since a merged row can no longer claim a single source.
const MultipleProviders = "Multiple"

// Holding is one asset position. The backend reports one row per
// integration; an aggregated holding represents a symbol across all of
// them.
type Holding struct {
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	PriceUSD        float64 `json:"price_usd"`
	Currency        string  `json:"currency"`
	Balance         float64 `json:"balance"`
	ValueUSD        float64 `json:"value_usd"`
	Change24h       float64 `json:"change_24h"`
	IconURL         string  `json:"icon_url"`
	IntegrationID   int     `json:"integration_id"`
	IntegrationName string  `json:"integration_name"`
	Provider        string  `json:"provider"`
}

// Validate rejects rows that cannot participate in aggregation.
func (h *Holding) Validate() error {
	if h.Symbol == "" {
		return fmt.Errorf("holding symbol is required")
	}
	return nil
}

// TotalValueUSD sums the USD value of all rows.
func TotalValueUSD(rows []Holding) float64 {
	var total float64
	for _, row := range rows {
		total += row.ValueUSD
	}
	return total
}
