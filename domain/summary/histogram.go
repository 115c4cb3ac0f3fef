package summary

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// HistogramRow is one bucket of a HistogramTable. Freq counts the values of
// the bucket that ends at From; see Histogram for the exact layout.
type HistogramRow struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
	Freq int     `json:"freq"`
}

type histogramRowJSON struct {
	From float64  `json:"from"`
	To   *float64 `json:"to"`
	Freq int      `json:"freq"`
}

// MarshalJSON encodes the open upper edge of the last row as null, which JSON
// has no number for
func (r HistogramRow) MarshalJSON() ([]byte, error) {
	out := histogramRowJSON{From: r.From, Freq: r.Freq}
	if !math.IsInf(r.To, 1) {
		to := r.To
		out.To = &to
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON
func (r *HistogramRow) UnmarshalJSON(data []byte) error {
	var in histogramRowJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.From, r.Freq, r.To = in.From, in.Freq, math.Inf(1)
	if in.To != nil {
		r.To = *in.To
	}
	return nil
}

// HistogramTable is the frequency table consumed by exports and plots
type HistogramTable []HistogramRow

// Total returns the sum of all frequencies
func (h HistogramTable) Total() int {
	total := 0
	for _, row := range h {
		total += row.Freq
	}
	return total
}

// Histogram bins values using the square-root rule, ceil(sqrt(n)) equal-width
// bins spanning [min, max] with the last bin closed on the right.
//
// The table is laid out the way spreadsheet histograms expect, keyed by upper
// bin edge: row 0 is (edge0, edge1, 0), row k is (edge_k, edge_k+1, count of
// bin k-1) and the last row is (edge_n, +Inf, count of the last bin). There
// are therefore bins+1 rows and the frequencies sum to len(values).
// An empty input yields an empty table.
func Histogram(values []float64) (HistogramTable, error) {
	n := len(values)
	if n == 0 {
		return HistogramTable{}, nil
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("value %d is not finite: %v", i, v)
		}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[n-1]

	bins := int(math.Ceil(math.Sqrt(float64(n))))
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
		bins = 1
	}

	edges := make([]float64, bins+1)
	step := (hi - lo) / float64(bins)
	for i := range edges {
		edges[i] = lo + float64(i)*step
	}
	edges[bins] = hi

	counts := make([]int, bins)
	for _, v := range sorted {
		counts[binIndex(v, lo, hi, edges)]++
	}

	table := make(HistogramTable, bins+1)
	for i := 0; i <= bins; i++ {
		row := HistogramRow{From: edges[i]}
		if i < bins {
			row.To = edges[i+1]
		} else {
			row.To = math.Inf(1)
		}
		if i > 0 {
			row.Freq = counts[i-1]
		}
		table[i] = row
	}
	return table, nil
}

func binIndex(v, lo, hi float64, edges []float64) int {
	bins := len(edges) - 1
	idx := int((v - lo) / (hi - lo) * float64(bins))
	if idx >= bins {
		idx = bins - 1
	}
	if idx < 0 {
		idx = 0
	}
	// the scaled index can disagree with the edges by one ulp
	if idx > 0 && v < edges[idx] {
		idx--
	} else if idx < bins-1 && v >= edges[idx+1] {
		idx++
	}
	return idx
}
