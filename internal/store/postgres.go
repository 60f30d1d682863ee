package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/hydrosight/groundwater-cli/internal/db"
	"github.com/hydrosight/groundwater-cli/internal/model"
	"github.com/hydrosight/groundwater-cli/internal/percentile"
	"github.com/hydrosight/groundwater-cli/internal/potential"
	"github.com/hydrosight/groundwater-cli/internal/units"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL,
	depth_column TEXT NOT NULL,
	depth_unit   TEXT NOT NULL,
	input_rows   INTEGER NOT NULL,
	dropped_rows INTEGER NOT NULL,
	stats        JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dataset_records (
	dataset_id  TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	lat         DOUBLE PRECISION NOT NULL,
	lon         DOUBLE PRECISION NOT NULL,
	site        TEXT NOT NULL DEFAULT '',
	depth_m     DOUBLE PRECISION NOT NULL,
	elevation_m DOUBLE PRECISION NOT NULL,
	potential_m DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (dataset_id, seq)
);

CREATE TABLE IF NOT EXISTS site_boundaries (
	site_code     TEXT PRIMARY KEY,
	lat           DOUBLE PRECISION,
	lon           DOUBLE PRECISION,
	last_depth_ft DOUBLE PRECISION,
	lowest        DOUBLE PRECISION,
	p10           DOUBLE PRECISION,
	p25           DOUBLE PRECISION,
	p50           DOUBLE PRECISION,
	p75           DOUBLE PRECISION,
	p90           DOUBLE PRECISION,
	highest       DOUBLE PRECISION,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_datasets_name ON datasets(name);
CREATE INDEX IF NOT EXISTS idx_datasets_created_at ON datasets(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_dataset_records_dataset_id ON dataset_records(dataset_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var recordColumns = []string{"dataset_id", "seq", "lat", "lon", "site", "depth_m", "elevation_m", "potential_m"}

func (s *PostgresStore) SaveDataset(ctx context.Context, name string, ds *potential.Dataset) (*StoredDataset, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var statsJSON []byte
	if ds.Stats != nil {
		var err error
		statsJSON, err = json.Marshal(ds.Stats)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal stats")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO datasets (id, name, depth_column, depth_unit, input_rows, dropped_rows, stats, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, name, ds.DepthColumn, string(ds.Unit), ds.InputRows, ds.Dropped, statsJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert dataset")
	}

	rows := make([][]any, len(ds.Records))
	for i, rec := range ds.Records {
		rows[i] = []any{id, i, rec.Lat, rec.Lon, rec.Site, rec.DepthM, rec.ElevationM, rec.PotentialM}
	}
	if _, err := db.CopyFrom(ctx, s.pool, "dataset_records", recordColumns, rows); err != nil {
		return nil, err
	}

	return &StoredDataset{ID: id, Name: name, CreatedAt: now, Dataset: *ds}, nil
}

func (s *PostgresStore) GetDataset(ctx context.Context, id string) (*StoredDataset, error) {
	var (
		sd        StoredDataset
		unit      string
		statsJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, depth_column, depth_unit, input_rows, dropped_rows, stats, created_at
		 FROM datasets WHERE id = $1`, id,
	).Scan(&sd.ID, &sd.Name, &sd.Dataset.DepthColumn, &unit, &sd.Dataset.InputRows, &sd.Dataset.Dropped, &statsJSON, &sd.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: dataset not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dataset %s", id)
	}
	sd.Dataset.Unit = units.Unit(unit)

	if len(statsJSON) > 0 {
		var stats potential.Stats
		if err := json.Unmarshal(statsJSON, &stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal stats")
		}
		sd.Dataset.Stats = &stats
	}

	rows, err := s.pool.Query(ctx,
		`SELECT lat, lon, site, depth_m, elevation_m, potential_m
		 FROM dataset_records WHERE dataset_id = $1 ORDER BY seq`, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get records %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.PotentialRecord
		if err := rows.Scan(&rec.Lat, &rec.Lon, &rec.Site, &rec.DepthM, &rec.ElevationM, &rec.PotentialM); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		sd.Dataset.Records = append(sd.Dataset.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate records")
	}

	return &sd, nil
}

func (s *PostgresStore) ListDatasets(ctx context.Context, filter DatasetFilter) ([]StoredDataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, depth_column, depth_unit, input_rows, dropped_rows, stats, created_at
		 FROM datasets ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		filter.limit(), filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list datasets")
	}
	defer rows.Close()

	var out []StoredDataset
	for rows.Next() {
		var (
			sd        StoredDataset
			unit      string
			statsJSON []byte
		)
		if err := rows.Scan(&sd.ID, &sd.Name, &sd.Dataset.DepthColumn, &unit, &sd.Dataset.InputRows, &sd.Dataset.Dropped, &statsJSON, &sd.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dataset")
		}
		sd.Dataset.Unit = units.Unit(unit)
		if len(statsJSON) > 0 {
			var stats potential.Stats
			if err := json.Unmarshal(statsJSON, &stats); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stats")
			}
			sd.Dataset.Stats = &stats
		}
		out = append(out, sd)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate datasets")
}

var boundaryColumns = []string{
	"site_code", "lat", "lon", "last_depth_ft",
	"lowest", "p10", "p25", "p50", "p75", "p90", "highest", "updated_at",
}

func (s *PostgresStore) UpsertBoundaries(ctx context.Context, boundaries []SiteBoundary) (int64, error) {
	now := time.Now().UTC()

	rows := make([][]any, len(boundaries))
	for i, sb := range boundaries {
		b := sb.Boundary
		rows[i] = []any{
			sb.SiteCode, sb.Lat, sb.Lon, sb.LastDepthFt,
			b.Lowest, b.P10, b.P25, b.P50, b.P75, b.P90, b.Highest, now,
		}
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "site_boundaries",
		Columns:      boundaryColumns,
		ConflictKeys: []string{"site_code"},
	}, rows)
}

func (s *PostgresStore) GetBoundary(ctx context.Context, siteCode string) (*SiteBoundary, error) {
	var (
		sb SiteBoundary
		b  percentile.Boundary
	)
	err := s.pool.QueryRow(ctx,
		`SELECT site_code, lat, lon, last_depth_ft, lowest, p10, p25, p50, p75, p90, highest, updated_at
		 FROM site_boundaries WHERE site_code = $1`, siteCode,
	).Scan(&sb.SiteCode, &sb.Lat, &sb.Lon, &sb.LastDepthFt,
		&b.Lowest, &b.P10, &b.P25, &b.P50, &b.P75, &b.P90, &b.Highest, &sb.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get boundary %s", siteCode)
	}
	sb.Boundary = b
	return &sb, nil
}
