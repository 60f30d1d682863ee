package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/hydrosight/groundwater-cli/internal/model"
	"github.com/hydrosight/groundwater-cli/internal/percentile"
	"github.com/hydrosight/groundwater-cli/internal/potential"
	"github.com/hydrosight/groundwater-cli/internal/units"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	depth_column TEXT NOT NULL,
	depth_unit   TEXT NOT NULL,
	input_rows   INTEGER NOT NULL,
	dropped_rows INTEGER NOT NULL,
	stats        TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dataset_records (
	dataset_id  TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	lat         REAL NOT NULL,
	lon         REAL NOT NULL,
	site        TEXT NOT NULL DEFAULT '',
	depth_m     REAL NOT NULL,
	elevation_m REAL NOT NULL,
	potential_m REAL NOT NULL,
	PRIMARY KEY (dataset_id, seq)
);

CREATE TABLE IF NOT EXISTS site_boundaries (
	site_code     TEXT PRIMARY KEY,
	lat           REAL,
	lon           REAL,
	last_depth_ft REAL,
	lowest        REAL,
	p10           REAL,
	p25           REAL,
	p50           REAL,
	p75           REAL,
	p90           REAL,
	highest       REAL,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_datasets_name ON datasets(name);
CREATE INDEX IF NOT EXISTS idx_dataset_records_dataset_id ON dataset_records(dataset_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveDataset(ctx context.Context, name string, ds *potential.Dataset) (*StoredDataset, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	statsJSON, err := marshalStats(ds.Stats)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO datasets (id, name, depth_column, depth_unit, input_rows, dropped_rows, stats, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, ds.DepthColumn, string(ds.Unit), ds.InputRows, ds.Dropped, statsJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert dataset")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dataset_records (dataset_id, seq, lat, lon, site, depth_m, elevation_m, potential_m)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare record insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, rec := range ds.Records {
		if _, err := stmt.ExecContext(ctx, id, i, rec.Lat, rec.Lon, rec.Site, rec.DepthM, rec.ElevationM, rec.PotentialM); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert record %d", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit")
	}

	return &StoredDataset{ID: id, Name: name, CreatedAt: now, Dataset: *ds}, nil
}

func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (*StoredDataset, error) {
	var (
		sd        StoredDataset
		unit      string
		statsJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, depth_column, depth_unit, input_rows, dropped_rows, stats, created_at
		 FROM datasets WHERE id = ?`, id,
	).Scan(&sd.ID, &sd.Name, &sd.Dataset.DepthColumn, &unit, &sd.Dataset.InputRows, &sd.Dataset.Dropped, &statsJSON, &sd.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("sqlite: dataset not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dataset %s", id)
	}
	sd.Dataset.Unit = units.Unit(unit)

	if stats, err := unmarshalStats(statsJSON.String); err != nil {
		return nil, err
	} else {
		sd.Dataset.Stats = stats
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT lat, lon, site, depth_m, elevation_m, potential_m
		 FROM dataset_records WHERE dataset_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get records %s", id)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var rec model.PotentialRecord
		if err := rows.Scan(&rec.Lat, &rec.Lon, &rec.Site, &rec.DepthM, &rec.ElevationM, &rec.PotentialM); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		sd.Dataset.Records = append(sd.Dataset.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate records")
	}

	return &sd, nil
}

func (s *SQLiteStore) ListDatasets(ctx context.Context, filter DatasetFilter) ([]StoredDataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, depth_column, depth_unit, input_rows, dropped_rows, stats, created_at
		 FROM datasets ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		filter.limit(), filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list datasets")
	}
	defer rows.Close() //nolint:errcheck

	var out []StoredDataset
	for rows.Next() {
		var (
			sd        StoredDataset
			unit      string
			statsJSON sql.NullString
		)
		if err := rows.Scan(&sd.ID, &sd.Name, &sd.Dataset.DepthColumn, &unit, &sd.Dataset.InputRows, &sd.Dataset.Dropped, &statsJSON, &sd.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dataset")
		}
		sd.Dataset.Unit = units.Unit(unit)
		stats, err := unmarshalStats(statsJSON.String)
		if err != nil {
			return nil, err
		}
		sd.Dataset.Stats = stats
		out = append(out, sd)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate datasets")
}

func (s *SQLiteStore) UpsertBoundaries(ctx context.Context, boundaries []SiteBoundary) (int64, error) {
	if len(boundaries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO site_boundaries (site_code, lat, lon, last_depth_ft, lowest, p10, p25, p50, p75, p90, highest, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(site_code) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			last_depth_ft = excluded.last_depth_ft,
			lowest = excluded.lowest,
			p10 = excluded.p10,
			p25 = excluded.p25,
			p50 = excluded.p50,
			p75 = excluded.p75,
			p90 = excluded.p90,
			highest = excluded.highest,
			updated_at = excluded.updated_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare boundary upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, sb := range boundaries {
		b := sb.Boundary
		if _, err := stmt.ExecContext(ctx,
			sb.SiteCode, sb.Lat, sb.Lon, sb.LastDepthFt,
			b.Lowest, b.P10, b.P25, b.P50, b.P75, b.P90, b.Highest, now,
		); err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert boundary %s", sb.SiteCode)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return n, eris.Wrap(err, "sqlite: commit")
	}
	return n, nil
}

func (s *SQLiteStore) GetBoundary(ctx context.Context, siteCode string) (*SiteBoundary, error) {
	var (
		sb SiteBoundary
		b  percentile.Boundary
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT site_code, lat, lon, last_depth_ft, lowest, p10, p25, p50, p75, p90, highest, updated_at
		 FROM site_boundaries WHERE site_code = ?`, siteCode,
	).Scan(&sb.SiteCode, &sb.Lat, &sb.Lon, &sb.LastDepthFt,
		&b.Lowest, &b.P10, &b.P25, &b.P50, &b.P75, &b.P90, &b.Highest, &sb.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get boundary %s", siteCode)
	}
	sb.Boundary = b
	return &sb, nil
}

func marshalStats(stats *potential.Stats) (sql.NullString, error) {
	if stats == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "store: marshal stats")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalStats(s string) (*potential.Stats, error) {
	if s == "" {
		return nil, nil
	}
	var stats potential.Stats
	if err := json.Unmarshal([]byte(s), &stats); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal stats")
	}
	return &stats, nil
}
