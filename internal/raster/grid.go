// Package raster provides an immutable elevation grid with geographic
// point-sampling. Grids are fetched once per query session and are read-only
// thereafter; Sample is a pure function of grid state and its inputs.
package raster

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"
)

// Bounds is a geographic bounding box in WGS84 degrees.
type Bounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Validate checks that the box is well-formed.
func (b Bounds) Validate() error {
	if b.West >= b.East {
		return eris.Errorf("raster: bounds west (%v) must be less than east (%v)", b.West, b.East)
	}
	if b.South >= b.North {
		return eris.Errorf("raster: bounds south (%v) must be less than north (%v)", b.South, b.North)
	}
	return nil
}

// Contains reports whether the point lies inside the box, edges inclusive.
func (b Bounds) Contains(lat, lon float64) bool {
	return b.West <= lon && lon <= b.East && b.South <= lat && lat <= b.North
}

// String formats the box as "west,south,east,north".
func (b Bounds) String() string {
	parts := []string{
		strconv.FormatFloat(b.West, 'f', -1, 64),
		strconv.FormatFloat(b.South, 'f', -1, 64),
		strconv.FormatFloat(b.East, 'f', -1, 64),
		strconv.FormatFloat(b.North, 'f', -1, 64),
	}
	return strings.Join(parts, ",")
}

// ParseBounds parses a "west,south,east,north" bbox string.
func ParseBounds(s string) (Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, eris.Errorf("raster: bbox %q must have 4 comma-separated values", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, eris.Wrapf(err, "raster: parse bbox component %q", p)
		}
		vals[i] = v
	}
	b := Bounds{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}
	if err := b.Validate(); err != nil {
		return Bounds{}, err
	}
	return b, nil
}

// Grid is an immutable 2-D elevation raster with its geographic extent.
// Pixel (0,0) is the northwest corner. Missing cells hold NaN.
type Grid struct {
	data   []float64
	rows   int
	cols   int
	bounds Bounds
}

// NewGrid builds a Grid from row-major cell data. The cells slice is copied
// so later mutation by the caller cannot affect the grid.
func NewGrid(cells [][]float64, bounds Bounds) (*Grid, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	rows := len(cells)
	if rows == 0 {
		return nil, eris.New("raster: grid must have at least one row")
	}
	cols := len(cells[0])
	if cols == 0 {
		return nil, eris.New("raster: grid must have at least one column")
	}

	data := make([]float64, 0, rows*cols)
	for i, row := range cells {
		if len(row) != cols {
			return nil, eris.Errorf("raster: row %d has %d columns, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return &Grid{data: data, rows: rows, cols: cols, bounds: bounds}, nil
}

// newGridFlat wraps already row-major data without copying. Used by the
// GeoTIFF decoder, which owns its buffer.
func newGridFlat(data []float64, rows, cols int, bounds Bounds) (*Grid, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return nil, eris.Errorf("raster: data length %d does not match %dx%d", len(data), rows, cols)
	}
	return &Grid{data: data, rows: rows, cols: cols, bounds: bounds}, nil
}

// Rows returns the number of raster rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of raster columns.
func (g *Grid) Cols() int { return g.cols }

// Bounds returns the geographic extent.
func (g *Grid) Bounds() Bounds { return g.bounds }

// At returns the cell value at the given row and column.
func (g *Grid) At(row, col int) float64 {
	return g.data[row*g.cols+col]
}

// Sample returns the elevation at the pixel containing the given coordinate.
// Points outside the bounds (edges inclusive) return NaN: no coverage is a
// defined result, not an error. The lookup is nearest-pixel; no interpolation
// between neighboring cells is performed.
func (g *Grid) Sample(lat, lon float64) float64 {
	if !g.bounds.Contains(lat, lon) {
		return math.NaN()
	}

	col := int(math.Floor((lon - g.bounds.West) / (g.bounds.East - g.bounds.West) * float64(g.cols)))
	row := int(math.Floor((g.bounds.North - lat) / (g.bounds.North - g.bounds.South) * float64(g.rows)))

	// lon == east and lat == south land exactly one past the last cell.
	col = clamp(col, 0, g.cols-1)
	row = clamp(row, 0, g.rows-1)

	return g.data[row*g.cols+col]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Stats summarizes the non-NaN cells of a grid.
type Stats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Valid int     `json:"valid"`
	Total int     `json:"total"`
}

// Stats computes min/max/mean over valid cells. Returns nil when every cell
// is NaN.
func (g *Grid) Stats() *Stats {
	valid := make([]float64, 0, len(g.data))
	for _, v := range g.data {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	s := &Stats{
		Min:   valid[0],
		Max:   valid[0],
		Valid: len(valid),
		Total: len(g.data),
	}
	for _, v := range valid {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = stat.Mean(valid, nil)
	return s
}
