package inventory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/indexpilot/indexpilot/internal/secaudit"
)

// Index is one remote index observation as read from the target catalogs.
type Index struct {
	Schema            string
	Table             string
	Name              string
	SizeBytes         int64
	IsUnique          bool
	AccessMethod      string
	IsPrimaryOrUnique bool
	// InProgress marks indexes whose name matches the engine's concurrent
	// rebuild convention. They are excluded from baseline comparison until
	// they disappear or are promoted.
	InProgress bool
}

// Filter narrows ListIndexes. Empty fields match everything.
type Filter struct {
	Schema string
	Table  string
	Index  string
}

// Artifact is a leftover object from an interrupted online rebuild. Teardown
// enumerates these for manual review; nothing is ever dropped automatically.
type Artifact struct {
	Schema string
	Name   string
	Kind   string
	Detail string
}

// Engine abstracts one supported target database engine.
type Engine interface {
	// Name is the database/sql driver name.
	Name() string
	// ListIndexes reads the current index inventory.
	ListIndexes(ctx context.Context, db *sql.DB, f Filter) ([]Index, error)
	// IndexSizeBytes re-measures a single index.
	IndexSizeBytes(ctx context.Context, db *sql.DB, schema, table, index string) (int64, error)
	// EstimatedRows returns the planner's row estimate for the owning table.
	EstimatedRows(ctx context.Context, db *sql.DB, schema, table string) (int64, error)
	// Rebuild issues the engine's online rebuild primitive and blocks until
	// it finishes or fails.
	Rebuild(ctx context.Context, db *sql.DB, schema, table, index string) error
	// Analyze refreshes planner statistics for the owning table.
	Analyze(ctx context.Context, db *sql.DB, schema, table string) error
	// ListRebuildArtifacts enumerates leftovers from interrupted rebuilds.
	ListRebuildArtifacts(ctx context.Context, db *sql.DB) ([]Artifact, error)
	// CheckOnlineRebuild verifies the server supports the online rebuild
	// primitive; a failure maps to a missing-capability ConnectionError.
	CheckOnlineRebuild(ctx context.Context, db *sql.DB) error
	// PermissionProbes enumerates the grants this system needs on the target.
	PermissionProbes(db *sql.DB) []secaudit.Probe
}

// ForDriver returns the Engine implementation for a registered driver name.
func ForDriver(driver string) (Engine, error) {
	switch driver {
	case "postgres":
		return PostgresEngine{}, nil
	case "mysql":
		return MySQLEngine{}, nil
	default:
		return nil, fmt.Errorf("unsupported target driver: %s", driver)
	}
}
