package export

import (
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/hydrosight/groundwater-cli/internal/model"
	"github.com/hydrosight/groundwater-cli/internal/potential"
)

// WritePotentialShapefile writes the fused dataset as a POINT shapefile.
// The path should end in .shp; the paired .shx and .dbf files are written
// alongside it.
func WritePotentialShapefile(path string, ds *potential.Dataset) error {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return eris.Wrap(err, "export: create shapefile")
	}

	// DBF field names are capped at 10 characters.
	if err := w.SetFields([]shp.Field{
		shp.StringField("SITE", 32),
		shp.FloatField("DEPTH_M", 16, 2),
		shp.FloatField("ELEV_M", 16, 2),
		shp.FloatField("POTENT_M", 16, 2),
	}); err != nil {
		w.Close()
		return eris.Wrap(err, "export: create dbf")
	}

	for i, rec := range ds.Records {
		w.Write(&shp.Point{X: rec.Lon, Y: rec.Lat})
		if err := writeAttributes(w, i, rec); err != nil {
			w.Close()
			return eris.Wrap(err, "export: write dbf record")
		}
	}

	w.Close()

	// go-shp v0.1.1 creates the attribute file as "<base>dbf" with no dot.
	base := strings.TrimSuffix(path, ".shp")
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return eris.Wrap(err, "export: rename dbf")
	}
	return nil
}

func writeAttributes(w *shp.Writer, row int, rec model.PotentialRecord) error {
	if err := w.WriteAttribute(row, 0, rec.Site); err != nil {
		return err
	}
	if err := w.WriteAttribute(row, 1, round2(rec.DepthM)); err != nil {
		return err
	}
	if err := w.WriteAttribute(row, 2, round2(rec.ElevationM)); err != nil {
		return err
	}
	return w.WriteAttribute(row, 3, round2(rec.PotentialM))
}
