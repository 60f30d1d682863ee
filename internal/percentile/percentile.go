// Package percentile classifies a depth-to-water measurement against a
// site's historical percentile table. The table anchors depth values at
// fixed percentile ranks; a measurement is labeled by the bracket of
// consecutive anchors it falls into.
package percentile

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Ranks are the fixed percentile ranks a Boundary can anchor, in order.
var Ranks = []int{0, 10, 25, 50, 75, 90, 100}

// Boundary holds a site's historical depth value at each percentile rank.
// A nil field means the site's record has no value at that rank; classification
// walks the present anchors only. Depths shrink as the rank grows: rank 0 is
// the deepest water level ever seen at the site, rank 100 the shallowest.
type Boundary struct {
	Lowest  *float64 `json:"lowest"`
	P10     *float64 `json:"p10"`
	P25     *float64 `json:"p25"`
	P50     *float64 `json:"p50"`
	P75     *float64 `json:"p75"`
	P90     *float64 `json:"p90"`
	Highest *float64 `json:"highest"`
}

// Result is a classification outcome. Both fields are nil when the boundary
// has too few anchors or no bracket contains the value.
type Result struct {
	Label *string `json:"label"`
	Rank  *int    `json:"rank_estimate"`
}

type anchor struct {
	rank  int
	value float64
}

// anchors returns the present anchors in rank order.
func (b Boundary) anchors() []anchor {
	fields := []*float64{b.Lowest, b.P10, b.P25, b.P50, b.P75, b.P90, b.Highest}
	out := make([]anchor, 0, len(fields))
	for i, f := range fields {
		if f != nil {
			out = append(out, anchor{rank: Ranks[i], value: *f})
		}
	}
	return out
}

// Validate rejects a table whose present anchors are not monotonically
// non-increasing in rank order. Classify assumes monotonic brackets; a
// scrambled table would classify silently but wrongly.
func (b Boundary) Validate() error {
	anchors := b.anchors()
	for i := 0; i+1 < len(anchors); i++ {
		if anchors[i+1].value > anchors[i].value {
			return eris.Errorf(
				"percentile: anchor value %g at rank %d exceeds %g at rank %d",
				anchors[i+1].value, anchors[i+1].rank,
				anchors[i].value, anchors[i].rank,
			)
		}
	}
	return nil
}

// Classify places a depth measurement in the boundary's percentile brackets.
// It never errors: with fewer than two anchors, or when no bracket contains
// the value, the result is (nil, nil).
func (b Boundary) Classify(value float64) Result {
	anchors := b.anchors()
	if len(anchors) < 2 {
		return Result{}
	}

	if first := anchors[0]; value > first.value {
		return mkResult(fmt.Sprintf("<%d", first.rank), 0)
	}
	if last := anchors[len(anchors)-1]; value < last.value {
		return mkResult(fmt.Sprintf(">%d", last.rank), 100)
	}

	for i := 0; i+1 < len(anchors); i++ {
		hi, lo := anchors[i], anchors[i+1]
		if lo.value <= value && value <= hi.value {
			return mkResult(
				fmt.Sprintf("%d-%d", hi.rank, lo.rank),
				(hi.rank+lo.rank)/2,
			)
		}
	}
	return Result{}
}

func mkResult(label string, rank int) Result {
	return Result{Label: &label, Rank: &rank}
}
