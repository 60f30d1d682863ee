package export

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/hydrosight/groundwater-cli/internal/potential"
)

// WritePotentialGeoJSON writes the fused dataset as a GeoJSON
// FeatureCollection of points. Coordinates are lon/lat per the GeoJSON spec.
func WritePotentialGeoJSON(w io.Writer, ds *potential.Dataset) error {
	features := make([]*geojson.Feature, 0, len(ds.Records))
	for _, rec := range ds.Records {
		features = append(features, &geojson.Feature{
			Geometry: geom.NewPointFlat(geom.XY, []float64{rec.Lon, rec.Lat}),
			Properties: map[string]any{
				"site":        rec.Site,
				"depth_m":     round2(rec.DepthM),
				"elevation_m": round2(rec.ElevationM),
				"potential_m": round2(rec.PotentialM),
			},
		})
	}

	fc := &geojson.FeatureCollection{Features: features}
	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "export: marshal geojson")
	}

	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "export: write geojson")
	}
	return nil
}

// ReadPotentialGeoJSON parses a FeatureCollection produced by
// WritePotentialGeoJSON.
func ReadPotentialGeoJSON(data []byte) (*geojson.FeatureCollection, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "export: parse geojson")
	}
	return &fc, nil
}
