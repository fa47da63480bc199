package api

import (
	"context"
	"database/sql"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-forest/internal/db"
)

// SnapshotLister reads persisted aggregations.
type SnapshotLister interface {
	List(ctx context.Context, dataset string, limit int) ([]db.Snapshot, error)
}

// DBHandler handles database-related endpoints.
type DBHandler struct {
	db        *sql.DB
	snapshots SnapshotLister
}

// NewDBHandler creates a new database handler. Either argument may be nil.
func NewDBHandler(conn *sql.DB, snapshots SnapshotLister) *DBHandler {
	return &DBHandler{db: conn, snapshots: snapshots}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("db"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("db"))
	huma.Get(api, "/api/v1/snapshots", h.ListSnapshots, huma.OperationTags("snapshots"))
}

// SnapshotsInput filters the snapshot history.
type SnapshotsInput struct {
	Dataset string `query:"dataset" doc:"Only snapshots of this dataset"`
	Limit   int    `query:"limit" minimum:"1" maximum:"1000" default:"50" doc:"Maximum number of snapshots"`
}

// ListSnapshots returns recorded aggregations, newest first.
func (h *DBHandler) ListSnapshots(ctx context.Context, input *SnapshotsInput) (*struct{ Body []db.Snapshot }, error) {
	if h.snapshots == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	snaps, err := h.snapshots.List(ctx, input.Dataset, input.Limit)
	if err != nil {
		return nil, toHTTPError(ctx, err)
	}
	return &struct{ Body []db.Snapshot }{Body: snaps}, nil
}

// TablesBody lists DuckDB tables.
type TablesBody struct {
	Tables []string `json:"tables" doc:"List of table names"`
}

// ListTables returns all DuckDB tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*struct{ Body TablesBody }, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}

	return &struct{ Body TablesBody }{Body: TablesBody{Tables: tables}}, nil
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" doc:"SQL query to execute" example:"SELECT dataset, vulnerability_index FROM aggregate_snapshots"`
	}
}

// QueryBody is the response for SQL queries.
type QueryBody struct {
	Columns []string         `json:"columns" doc:"Column names"`
	Rows    []map[string]any `json:"rows" doc:"Query results"`
	Count   int              `json:"count" doc:"Number of rows returned"`
}

// Query executes a SQL query against DuckDB.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*struct{ Body QueryBody }, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, input.Body.Query)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get columns", err)
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			continue
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return &struct{ Body QueryBody }{Body: QueryBody{Columns: columns, Rows: results, Count: len(results)}}, nil
}
