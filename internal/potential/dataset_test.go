package potential

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrosight/groundwater-cli/internal/model"
	"github.com/hydrosight/groundwater-cli/internal/raster"
	"github.com/hydrosight/groundwater-cli/internal/units"
)

// flatGrid returns a single-cell raster covering lat 33..34, lon -118..-117
// whose every sample is elev.
func flatGrid(t *testing.T, elev float64) *raster.Grid {
	t.Helper()
	g, err := raster.NewGrid(
		[][]float64{{elev}},
		raster.Bounds{West: -118, South: 33, East: -117, North: 34},
	)
	require.NoError(t, err)
	return g
}

func TestComputeSubtractsDepthFromElevation(t *testing.T) {
	grid := flatGrid(t, 100)
	readings := []model.DepthReading{
		{Lat: 33.5, Lon: -117.5, Site: "W1", Depth: 30},
	}

	records, err := Compute(context.Background(), readings, units.Meters, grid, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, 30.0, rec.DepthM)
	assert.Equal(t, 100.0, rec.ElevationM)
	assert.Equal(t, 70.0, rec.PotentialM)
	assert.Equal(t, "W1", rec.Site)
}

func TestComputeConvertsFeet(t *testing.T) {
	grid := flatGrid(t, 100)
	readings := []model.DepthReading{
		{Lat: 33.5, Lon: -117.5, Depth: 100},
	}

	records, err := Compute(context.Background(), readings, units.Feet, grid, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 30.48, records[0].DepthM)
	assert.Equal(t, 100-30.48, records[0].PotentialM)
}

func TestComputeDropsDegenerateRows(t *testing.T) {
	grid := flatGrid(t, 50)
	nan := math.NaN()
	readings := []model.DepthReading{
		{Lat: 33.1, Lon: -117.1, Site: "keep", Depth: 5},
		{Lat: nan, Lon: -117.1, Depth: 5},    // missing latitude
		{Lat: 33.1, Lon: nan, Depth: 5},      // missing longitude
		{Lat: 33.1, Lon: -117.1, Depth: nan}, // missing depth
		{Lat: 45.0, Lon: -117.1, Depth: 5},   // outside raster coverage
		{Lat: 33.9, Lon: -117.9, Site: "also", Depth: 10},
	}

	records, err := Compute(context.Background(), readings, units.Meters, grid, 3)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Survivors keep their input order even under concurrent fusion.
	assert.Equal(t, "keep", records[0].Site)
	assert.Equal(t, "also", records[1].Site)
}

func TestComputeInvalidUnitIsFatal(t *testing.T) {
	grid := flatGrid(t, 50)
	readings := []model.DepthReading{{Lat: 33.1, Lon: -117.1, Depth: 5}}

	_, err := Compute(context.Background(), readings, units.Unit("furlongs"), grid, 1)
	require.Error(t, err)
	var unitErr *units.InvalidUnitError
	assert.ErrorAs(t, err, &unitErr)
}

func TestComputePreservesOrderAcrossManyRows(t *testing.T) {
	grid := flatGrid(t, 200)
	readings := make([]model.DepthReading, 64)
	for i := range readings {
		readings[i] = model.DepthReading{
			Lat:   33.5,
			Lon:   -117.5,
			Depth: float64(i),
		}
	}

	records, err := Compute(context.Background(), readings, units.Meters, grid, 8)
	require.NoError(t, err)
	require.Len(t, records, 64)
	for i, rec := range records {
		assert.Equal(t, float64(i), rec.DepthM)
		assert.Equal(t, 200-float64(i), rec.PotentialM)
	}
}

func TestParseReadings(t *testing.T) {
	header := []string{"Site", "Lat", "Lon", "2024-03-01"}
	rows := [][]string{
		{"W1", "33.2", "-117.4", "12.5"},
		{"W2", "33.3", "-117.5", ""},
		{"W3", "bad", "-117.6", "8.0"},
	}

	readings, depthCol, err := ParseReadings(header, rows, Options{})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", depthCol)
	require.Len(t, readings, 3)

	assert.Equal(t, 12.5, readings[0].Depth)
	assert.Equal(t, "W1", readings[0].Site)
	assert.True(t, math.IsNaN(readings[1].Depth))
	assert.True(t, math.IsNaN(readings[2].Lat))
}

func TestParseReadingsAllBlankDepthColumn(t *testing.T) {
	// A column with no values at all is still inferred; every row then
	// carries a NaN depth and gets dropped downstream.
	header := []string{"Lat", "Lon", "WaterLevel"}
	rows := [][]string{
		{"33.2", "-117.4", ""},
		{"33.3", "-117.5", ""},
	}

	readings, depthCol, err := ParseReadings(header, rows, Options{})
	require.NoError(t, err)
	assert.Equal(t, "WaterLevel", depthCol)
	require.Len(t, readings, 2)
	for _, r := range readings {
		assert.True(t, math.IsNaN(r.Depth))
	}
}

func TestParseReadingsExplicitDepthColumn(t *testing.T) {
	header := []string{"Lat", "Lon", "DTW", "GSE"}
	rows := [][]string{{"33.2", "-117.4", "9.5", "150"}}

	readings, depthCol, err := ParseReadings(header, rows, Options{DepthColumn: "dtw"})
	require.NoError(t, err)
	assert.Equal(t, "DTW", depthCol)
	assert.Equal(t, 9.5, readings[0].Depth)
}

func TestParseReadingsMissingColumns(t *testing.T) {
	rows := [][]string{{"33.1", "5"}}

	_, _, err := ParseReadings([]string{"Lon", "Depth"}, rows, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "latitude column")

	_, _, err = ParseReadings([]string{"Lat", "Depth"}, rows, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "longitude column")

	_, _, err = ParseReadings([]string{"Lat", "Lon"}, [][]string{{"33.1", "-117"}}, Options{DepthColumn: "DTW"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `depth column "DTW"`)
}

func TestComputeDataset(t *testing.T) {
	grid := flatGrid(t, 100)
	header := []string{"Lat", "Lon", "Site", "2023-01-15", "2023-06-20"}
	rows := [][]string{
		{"33.2", "-117.4", "W1", "40", "30"},
		{"33.3", "-117.5", "W2", "20", "10"},
		{"33.4", "-117.6", "W3", "15", ""}, // no reading in the chosen column
	}

	ds, err := ComputeDataset(context.Background(), header, rows, grid, Options{Unit: units.Meters})
	require.NoError(t, err)

	assert.Equal(t, "2023-06-20", ds.DepthColumn)
	assert.Equal(t, units.Meters, ds.Unit)
	assert.Equal(t, 3, ds.InputRows)
	assert.Equal(t, 1, ds.Dropped)
	require.Len(t, ds.Records, 2)

	require.NotNil(t, ds.Stats)
	assert.Equal(t, 2, ds.Stats.Count)
	assert.Equal(t, 10.0, ds.Stats.DepthM.Min)
	assert.Equal(t, 30.0, ds.Stats.DepthM.Max)
	assert.Equal(t, 20.0, ds.Stats.DepthM.Mean)
	assert.Equal(t, 70.0, ds.Stats.PotentialM.Min)
	assert.Equal(t, 90.0, ds.Stats.PotentialM.Max)
	assert.Equal(t, 100.0, ds.Stats.ElevationM.Mean)
}

func TestComputeDatasetAllRowsDropped(t *testing.T) {
	grid := flatGrid(t, 100)
	header := []string{"Lat", "Lon", "Depth"}
	rows := [][]string{
		{"45.0", "-117.4", "30"}, // outside coverage
		{"33.2", "-117.4", ""},   // no reading
	}

	ds, err := ComputeDataset(context.Background(), header, rows, grid, Options{Unit: units.Meters})
	require.NoError(t, err)
	assert.Empty(t, ds.Records)
	assert.Nil(t, ds.Stats)
	assert.Equal(t, 2, ds.Dropped)
}

func TestComputeDatasetInferenceFailure(t *testing.T) {
	grid := flatGrid(t, 100)
	header := []string{"Lat", "Lon", "Site"}
	rows := [][]string{{"33.2", "-117.4", "W1"}}

	_, err := ComputeDataset(context.Background(), header, rows, grid, Options{})
	require.Error(t, err)
	var infErr *ColumnInferenceError
	assert.ErrorAs(t, err, &infErr)
}
