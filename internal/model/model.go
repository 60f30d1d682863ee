// Package model holds the shared record types passed between the pipeline
// stages. Records are plain values with named fields; optional values are
// explicit (NaN for missing numeric readings, pointers for absent anchors)
// rather than implied by missing keys.
package model

import "math"

// DepthReading is one raw depth-to-water observation. Depth is in the source
// table's unit; a NaN depth means the source row had no reading.
type DepthReading struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Site  string  `json:"site,omitempty"`
	Depth float64 `json:"depth"`
}

// Valid reports whether the reading has usable coordinates and a depth value.
func (r DepthReading) Valid() bool {
	return !math.IsNaN(r.Lat) && !math.IsNaN(r.Lon) && !math.IsNaN(r.Depth)
}

// PotentialRecord is one fused observation: depth converted to meters, the
// sampled surface elevation, and the hydraulic potential. The invariant
// PotentialM == ElevationM - DepthM holds exactly; rounding happens only at
// the presentation boundary.
type PotentialRecord struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Site       string  `json:"site,omitempty"`
	DepthM     float64 `json:"depth_m"`
	ElevationM float64 `json:"elevation_m"`
	PotentialM float64 `json:"potential_m"`
}
