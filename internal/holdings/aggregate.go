package holdings

// Aggregate merges rows into one holding per symbol. The fold keeps the
// first-occurrence order of symbols, so running it again on its own
// output is a no-op.
//
// The first row for a symbol seeds the aggregate with its integration
// name replaced by MultipleProviders. Every further row with the same
// symbol folds in: USD values and balances sum, the 24h change is
// weighted by USD value, the USD price is re-implied from the new totals,
// and a missing icon is filled from the incoming row.
func Aggregate(rows []Holding) []Holding {
	index := make(map[string]int, len(rows))
	out := make([]Holding, 0, len(rows))

	for _, row := range rows {
		i, seen := index[row.Symbol]
		if !seen {
			seed := row
			seed.IntegrationName = MultipleProviders
			index[row.Symbol] = len(out)
			out = append(out, seed)
			continue
		}
		out[i] = merge(out[i], row)
	}

	return out
}

// merge folds one row into an existing aggregate.
func merge(agg, row Holding) Holding {
	combined := agg.ValueUSD + row.ValueUSD

	// Weighted by USD value; a worthless position carries no change signal.
	if combined > 0 {
		agg.Change24h = (agg.Change24h*agg.ValueUSD + row.Change24h*row.ValueUSD) / combined
	} else {
		agg.Change24h = 0
	}

	agg.ValueUSD = combined
	agg.Balance += row.Balance

	// Implied price from the merged totals. A zero balance keeps the
	// previous price rather than dividing by it.
	if agg.Balance > 0 {
		agg.PriceUSD = agg.ValueUSD / agg.Balance
	}

	if agg.IconURL == "" && row.IconURL != "" {
		agg.IconURL = row.IconURL
	}

	return agg
}
