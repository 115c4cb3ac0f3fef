package summary

import (
	"github.com/montanaflynn/stats"
)

// Stats holds descriptive statistics for one column
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	P5     float64 `json:"p5"`
	P95    float64 `json:"p95"`
}

// Describe computes summary statistics. An empty column yields zero Stats.
func Describe(values []float64) (Stats, error) {
	out := Stats{Count: len(values)}
	if len(values) == 0 {
		return out, nil
	}

	data := stats.Float64Data(values)
	var err error

	if out.Mean, err = data.Mean(); err != nil {
		return out, err
	}
	if len(values) > 1 {
		if out.StdDev, err = data.StandardDeviationSample(); err != nil {
			return out, err
		}
	}
	if out.Min, err = data.Min(); err != nil {
		return out, err
	}
	if out.Max, err = data.Max(); err != nil {
		return out, err
	}
	if out.Median, err = data.Median(); err != nil {
		return out, err
	}
	if out.P5, err = percentile(data, 5); err != nil {
		return out, err
	}
	if out.P95, err = percentile(data, 95); err != nil {
		return out, err
	}
	return out, nil
}

// percentile falls back to the extremes where montanaflynn/stats refuses
// small samples.
func percentile(data stats.Float64Data, p float64) (float64, error) {
	v, err := data.Percentile(p)
	if err == nil {
		return v, nil
	}
	if err == stats.BoundsErr {
		if p < 50 {
			return data.Min()
		}
		return data.Max()
	}
	return 0, err
}
