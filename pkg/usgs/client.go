// Package usgs wraps the USGS 3DEP elevation ImageServer. It exports a
// bounding box as a float32 GeoTIFF and decodes it into a sampling grid.
package usgs

import (
	"context"
	"fmt"
	"math"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hydrosight/groundwater-cli/internal/fetcher"
	"github.com/hydrosight/groundwater-cli/internal/raster"
	"github.com/hydrosight/groundwater-cli/internal/resilience"
)

// DefaultBaseURL is the public 3DEP elevation image service.
const DefaultBaseURL = "https://elevation.nationalmap.gov/arcgis/rest/services/3DEPElevation/ImageServer"

// MaxImageSize is the server-side cap on exported image dimensions.
const MaxImageSize = 2000

// Client calls the 3DEP ImageServer.
type Client struct {
	fetcher fetcher.Fetcher
	baseURL string
}

// NewClient creates a 3DEP client. An empty baseURL uses the public service.
func NewClient(f fetcher.Fetcher, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{fetcher: f, baseURL: baseURL}
}

// imageSize derives the export dimensions from the requested resolution (the
// pixel count of the longer bbox axis). The shorter axis scales by the bbox
// aspect ratio so pixels stay square in degrees.
func imageSize(b raster.Bounds, resolution int) (cols, rows int) {
	if resolution <= 0 {
		resolution = 500
	}
	if resolution > MaxImageSize {
		resolution = MaxImageSize
	}

	lonSpan := b.East - b.West
	latSpan := b.North - b.South
	if lonSpan >= latSpan {
		cols = resolution
		rows = int(math.Round(float64(resolution) * latSpan / lonSpan))
	} else {
		rows = resolution
		cols = int(math.Round(float64(resolution) * lonSpan / latSpan))
	}
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return cols, rows
}

// FetchDEM exports the bbox as a bare-earth elevation grid. Elevations are in
// meters; pixels without data decode as NaN.
func (c *Client) FetchDEM(ctx context.Context, bounds raster.Bounds, resolution int) (*raster.Grid, error) {
	if err := bounds.Validate(); err != nil {
		return nil, eris.Wrap(err, "usgs: invalid bbox")
	}

	cols, rows := imageSize(bounds, resolution)

	params := url.Values{}
	params.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", bounds.West, bounds.South, bounds.East, bounds.North))
	params.Set("bboxSR", "4326")
	params.Set("imageSR", "4326")
	params.Set("size", fmt.Sprintf("%d,%d", cols, rows))
	params.Set("format", "tiff")
	params.Set("pixelType", "F32")
	params.Set("f", "image")

	reqURL := c.baseURL + "/exportImage?" + params.Encode()

	zap.L().Debug("fetching DEM tile",
		zap.String("bbox", bounds.String()),
		zap.Int("cols", cols),
		zap.Int("rows", rows),
	)

	data, err := c.fetcher.DownloadBytes(ctx, reqURL)
	if err != nil {
		return nil, eris.Wrap(err, "usgs: export image")
	}

	// The ImageServer reports failures as HTTP 200 with a JSON error body
	// instead of the requested TIFF.
	if err := resilience.ServiceBodyError(data); err != nil {
		return nil, eris.Wrap(err, "usgs: export image")
	}

	grid, err := raster.DecodeGeoTIFF(data, bounds)
	if err != nil {
		return nil, eris.Wrap(err, "usgs: decode export")
	}

	zap.L().Info("DEM tile fetched",
		zap.String("bbox", bounds.String()),
		zap.Int("rows", grid.Rows()),
		zap.Int("cols", grid.Cols()),
	)
	return grid, nil
}
