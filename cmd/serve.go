package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hydrosight/groundwater-cli/internal/percentile"
	"github.com/hydrosight/groundwater-cli/internal/potential"
	"github.com/hydrosight/groundwater-cli/internal/raster"
	"github.com/hydrosight/groundwater-cli/internal/store"
	"github.com/hydrosight/groundwater-cli/internal/units"
)

var servePort int

// demClient is the slice of the USGS client the server needs; tests swap in
// a stub that serves a fixed grid.
type demClient interface {
	FetchDEM(ctx context.Context, bounds raster.Bounds, resolution int) (*raster.Grid, error)
}

type serverEnv struct {
	store      store.Store
	dem        demClient
	resolution int
}

// samplePadDeg is the half-width of the DEM window fetched around a single
// sample point.
const samplePadDeg = 0.005

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func newRouter(env *serverEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sample", env.handleSample)
		r.Post("/potential", env.handlePotential)
		r.Post("/classify", env.handleClassify)
		r.Get("/datasets", env.handleListDatasets)
		r.Get("/datasets/{id}", env.handleGetDataset)
	})

	return r
}

func (env *serverEnv) handleSample(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		respondError(w, http.StatusBadRequest, "lat and lon query parameters are required")
		return
	}

	bounds := raster.Bounds{
		West:  lon - samplePadDeg,
		South: lat - samplePadDeg,
		East:  lon + samplePadDeg,
		North: lat + samplePadDeg,
	}
	grid, err := env.dem.FetchDEM(r.Context(), bounds, env.resolution)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	v := grid.Sample(lat, lon)
	if math.IsNaN(v) {
		respondError(w, http.StatusNotFound, "no elevation data at point")
		return
	}
	respondJSON(w, http.StatusOK, map[string]float64{
		"lat":         lat,
		"lon":         lon,
		"elevation_m": v,
	})
}

type potentialRequest struct {
	Header      []string       `json:"header"`
	Rows        [][]string     `json:"rows"`
	Bbox        *raster.Bounds `json:"bbox,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	DepthColumn string         `json:"depth_column,omitempty"`
	SaveAs      string         `json:"save_as,omitempty"`
}

type potentialResponse struct {
	ID string `json:"id,omitempty"`
	*potential.Dataset
}

func (env *serverEnv) handlePotential(w http.ResponseWriter, r *http.Request) {
	var req potentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Header) == 0 || len(req.Rows) == 0 {
		respondError(w, http.StatusBadRequest, "header and rows are required")
		return
	}

	opts := potential.Options{DepthColumn: req.DepthColumn}
	if req.Unit != "" {
		unit, err := units.Parse(req.Unit)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		opts.Unit = unit
	}

	var bounds raster.Bounds
	if req.Bbox != nil {
		bounds = *req.Bbox
	} else {
		var err error
		bounds, err = boundsFromTable(req.Header, req.Rows, opts)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	grid, err := env.dem.FetchDEM(r.Context(), bounds, env.resolution)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	ds, err := potential.ComputeDataset(r.Context(), req.Header, req.Rows, grid, opts)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp := potentialResponse{Dataset: ds}
	if req.SaveAs != "" {
		saved, err := env.store.SaveDataset(r.Context(), req.SaveAs, ds)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.ID = saved.ID
	}
	respondJSON(w, http.StatusOK, resp)
}

type classifyRequest struct {
	SiteCode string               `json:"site_code,omitempty"`
	DepthFt  float64              `json:"depth_ft"`
	Boundary *percentile.Boundary `json:"boundary,omitempty"`
}

// handleClassify classifies a reading against either an inline boundary
// table or the stored table for a site.
func (env *serverEnv) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var boundary percentile.Boundary
	switch {
	case req.Boundary != nil:
		boundary = *req.Boundary
	case req.SiteCode != "":
		sb, err := env.store.GetBoundary(r.Context(), req.SiteCode)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if sb == nil {
			respondError(w, http.StatusNotFound, "no percentile table stored for site")
			return
		}
		boundary = sb.Boundary
	default:
		respondError(w, http.StatusBadRequest, "site_code or boundary is required")
		return
	}

	if err := boundary.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, classification{
		SiteCode: req.SiteCode,
		DepthFt:  req.DepthFt,
		Result:   boundary.Classify(req.DepthFt),
	})
}

func (env *serverEnv) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	var filter store.DatasetFilter
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	list, err := env.store.ListDatasets(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []store.StoredDataset{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (env *serverEnv) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := env.store.GetDataset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ds)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		env := &serverEnv{
			store:      st,
			dem:        newUSGSClient(),
			resolution: cfg.USGS.Resolution,
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: newRouter(env),
		}

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		return runServer(ctx, srv)
	},
}

// shutdownGrace bounds connection draining after a stop signal.
const shutdownGrace = 10 * time.Second

// runServer serves until ctx is canceled, then drains open connections.
func runServer(ctx context.Context, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
