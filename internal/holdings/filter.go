package holdings

import "strings"

// Options selects rows from a holding list. Zero-valued fields are
// inactive criteria.
type Options struct {
	// MinValueUSD drops rows whose USD value is strictly below the
	// threshold (dust).
	MinValueUSD float64

	// Query keeps rows whose symbol or name contains the text,
	// case-insensitively.
	Query string

	// Provider keeps rows from exactly this provider.
	Provider string
}

// Filter returns the rows passing every active criterion, in input order.
func Filter(rows []Holding, opts Options) []Holding {
	query := strings.ToLower(strings.TrimSpace(opts.Query))

	out := make([]Holding, 0, len(rows))
	for _, row := range rows {
		if opts.MinValueUSD > 0 && row.ValueUSD < opts.MinValueUSD {
			continue
		}
		if query != "" {
			symbol := strings.ToLower(row.Symbol)
			name := strings.ToLower(row.Name)
			if !strings.Contains(symbol, query) && !strings.Contains(name, query) {
				continue
			}
		}
		if opts.Provider != "" && row.Provider != opts.Provider {
			continue
		}
		out = append(out, row)
	}
	return out
}

// ProviderGroup is one partition of a holding list by provider.
type ProviderGroup struct {
	Provider string    `json:"provider"`
	Holdings []Holding `json:"holdings"`
	ValueUSD float64   `json:"value_usd"`
}

// GroupByProvider partitions rows by provider in first-appearance order.
// Rows are not merged; each group carries its USD value subtotal.
func GroupByProvider(rows []Holding) []ProviderGroup {
	index := make(map[string]int)
	groups := make([]ProviderGroup, 0)

	for _, row := range rows {
		i, seen := index[row.Provider]
		if !seen {
			i = len(groups)
			index[row.Provider] = i
			groups = append(groups, ProviderGroup{Provider: row.Provider})
		}
		groups[i].Holdings = append(groups[i].Holdings, row)
		groups[i].ValueUSD += row.ValueUSD
	}

	return groups
}
