package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/joeblew999/plat-forest/internal/risk"
)

// DefaultSnapshotLimit caps List when no limit is given.
const DefaultSnapshotLimit = 50

const createSnapshots = `
CREATE SEQUENCE IF NOT EXISTS aggregate_snapshots_seq START 1;
CREATE TABLE IF NOT EXISTS aggregate_snapshots (
	id                  BIGINT PRIMARY KEY DEFAULT nextval('aggregate_snapshots_seq'),
	dataset             VARCHAR NOT NULL,
	computed_at         TIMESTAMP NOT NULL,
	policy              VARCHAR NOT NULL,
	total_area          DOUBLE NOT NULL,
	area_dn0            DOUBLE NOT NULL,
	area_dn1            DOUBLE NOT NULL,
	area_dn2            DOUBLE NOT NULL,
	area_dn3            DOUBLE NOT NULL,
	area_dn4            DOUBLE NOT NULL,
	high_risk_area      DOUBLE NOT NULL,
	high_risk_count     INTEGER NOT NULL,
	feature_count       INTEGER NOT NULL,
	invalid_count       INTEGER NOT NULL,
	unranked_count      INTEGER NOT NULL,
	vulnerability_index DOUBLE
);`

// Snapshot is one persisted aggregation.
type Snapshot struct {
	ID                 int64           `json:"id" doc:"Snapshot ID"`
	Dataset            string          `json:"dataset" doc:"Dataset file name"`
	ComputedAt         time.Time       `json:"computedAt" doc:"When the aggregation ran"`
	Policy             string          `json:"policy" doc:"Unranked policy" enum:"include,exclude"`
	TotalArea          float64         `json:"totalArea" doc:"Total area in m²"`
	AreaByLevel        risk.LevelAreas `json:"areaByLevel" doc:"Area per DN level in m²"`
	HighRiskArea       float64         `json:"highRiskArea" doc:"Area with DN >= 3 in m²"`
	HighRiskCount      int             `json:"highRiskCount" doc:"Number of DN 4 polygons"`
	FeatureCount       int             `json:"featureCount" doc:"Features read"`
	InvalidCount       int             `json:"invalidCount" doc:"Features skipped as invalid"`
	UnrankedCount      int             `json:"unrankedCount" doc:"Features with an unranked DN"`
	VulnerabilityIndex *float64        `json:"vulnerabilityIndex" nullable:"true" doc:"Area-weighted mean DN, null when undefined"`
}

// SnapshotStore persists aggregate results in DuckDB.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates the snapshot table if needed.
func NewSnapshotStore(ctx context.Context, conn *sql.DB) (*SnapshotStore, error) {
	if _, err := conn.ExecContext(ctx, createSnapshots); err != nil {
		return nil, goerr.Wrap(err, "creating snapshot table")
	}
	return &SnapshotStore{db: conn}, nil
}

// Save inserts a snapshot and returns its ID.
func (s *SnapshotStore) Save(ctx context.Context, dataset string, at time.Time, res risk.Result) (int64, error) {
	var index sql.NullFloat64
	if v, err := res.VulnerabilityIndex(); err == nil {
		index = sql.NullFloat64{Float64: v, Valid: true}
	}

	a := res.AreaByLevel
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO aggregate_snapshots (
			dataset, computed_at, policy, total_area,
			area_dn0, area_dn1, area_dn2, area_dn3, area_dn4,
			high_risk_area, high_risk_count, feature_count, invalid_count, unranked_count,
			vulnerability_index
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		dataset, at.UTC(), res.Policy.String(), res.TotalArea,
		a[0], a[1], a[2], a[3], a[4],
		res.HighRiskArea, res.HighRiskCount, res.FeatureCount, res.InvalidCount, res.UnrankedCount,
		index,
	).Scan(&id)
	if err != nil {
		return 0, goerr.Wrap(err, "saving snapshot", goerr.V("dataset", dataset))
	}
	return id, nil
}

// List returns the most recent snapshots first, optionally for one dataset.
func (s *SnapshotStore) List(ctx context.Context, dataset string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = DefaultSnapshotLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dataset, computed_at, policy, total_area,
			area_dn0, area_dn1, area_dn2, area_dn3, area_dn4,
			high_risk_area, high_risk_count, feature_count, invalid_count, unranked_count,
			vulnerability_index
		FROM aggregate_snapshots
		WHERE ? = '' OR dataset = ?
		ORDER BY computed_at DESC, id DESC
		LIMIT ?`, dataset, dataset, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "listing snapshots")
	}
	defer rows.Close()

	snapshots := []Snapshot{}
	for rows.Next() {
		var (
			snap  Snapshot
			index sql.NullFloat64
			a     = &snap.AreaByLevel
		)
		if err := rows.Scan(
			&snap.ID, &snap.Dataset, &snap.ComputedAt, &snap.Policy, &snap.TotalArea,
			&a[0], &a[1], &a[2], &a[3], &a[4],
			&snap.HighRiskArea, &snap.HighRiskCount, &snap.FeatureCount, &snap.InvalidCount, &snap.UnrankedCount,
			&index,
		); err != nil {
			return nil, goerr.Wrap(err, "scanning snapshot")
		}
		if index.Valid {
			v := index.Float64
			snap.VulnerabilityIndex = &v
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "reading snapshots")
	}
	return snapshots, nil
}
