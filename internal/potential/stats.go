package potential

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hydrosight/groundwater-cli/internal/model"
)

// FieldStats summarizes one numeric field of a dataset.
type FieldStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// Stats holds per-field summaries over the surviving records. A nil *Stats
// means zero records survived filtering; that is a defined outcome, not an
// error.
type Stats struct {
	DepthM     FieldStats `json:"depth_m"`
	ElevationM FieldStats `json:"elevation_m"`
	PotentialM FieldStats `json:"potential_m"`
	Count      int        `json:"count"`
}

// ComputeStats computes min/max/mean per field. Returns nil for an empty
// record set.
func ComputeStats(records []model.PotentialRecord) *Stats {
	if len(records) == 0 {
		return nil
	}

	depth := make([]float64, len(records))
	elev := make([]float64, len(records))
	pot := make([]float64, len(records))
	for i, r := range records {
		depth[i] = r.DepthM
		elev[i] = r.ElevationM
		pot[i] = r.PotentialM
	}

	return &Stats{
		DepthM:     fieldStats(depth),
		ElevationM: fieldStats(elev),
		PotentialM: fieldStats(pot),
		Count:      len(records),
	}
}

func fieldStats(vals []float64) FieldStats {
	return FieldStats{
		Min:  floats.Min(vals),
		Max:  floats.Max(vals),
		Mean: stat.Mean(vals, nil),
	}
}
