package holdings

import "sort"

// OtherBucket names the allocation slice that absorbs everything past the
// top entries.
const OtherBucket = "Other"

// Slice is one allocation entry: an asset's share of the total value.
type Slice struct {
	Name     string  `json:"name"`
	ValueUSD float64 `json:"value_usd"`
	Percent  float64 `json:"percent"`
}

// Allocation computes value shares per symbol: rows are aggregated first
// so a symbol held through several integrations counts once, then sorted
// by value. The top topN symbols get their own slice and the remainder is
// folded into OtherBucket. A non-positive topN keeps every symbol.
func Allocation(rows []Holding, topN int) []Slice {
	agg := Aggregate(rows)
	sort.SliceStable(agg, func(i, j int) bool {
		return agg[i].ValueUSD > agg[j].ValueUSD
	})

	total := TotalValueUSD(agg)

	percent := func(value float64) float64 {
		if total <= 0 {
			return 0
		}
		return value / total * 100
	}

	if topN <= 0 || len(agg) <= topN {
		slices := make([]Slice, 0, len(agg))
		for _, h := range agg {
			slices = append(slices, Slice{Name: h.Symbol, ValueUSD: h.ValueUSD, Percent: percent(h.ValueUSD)})
		}
		return slices
	}

	slices := make([]Slice, 0, topN+1)
	for _, h := range agg[:topN] {
		slices = append(slices, Slice{Name: h.Symbol, ValueUSD: h.ValueUSD, Percent: percent(h.ValueUSD)})
	}

	var rest float64
	for _, h := range agg[topN:] {
		rest += h.ValueUSD
	}
	slices = append(slices, Slice{Name: OtherBucket, ValueUSD: rest, Percent: percent(rest)})

	return slices
}
