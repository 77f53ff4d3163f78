package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/lib/pq"

	"github.com/indexpilot/indexpilot/internal/apperr"
	"github.com/indexpilot/indexpilot/internal/secaudit"
)

// PostgresEngine reads PostgreSQL catalogs and drives REINDEX CONCURRENTLY.
type PostgresEngine struct{}

func (PostgresEngine) Name() string { return "postgres" }

// ccRe matches the transient index names REINDEX CONCURRENTLY leaves behind
// while running or after an interruption (foo_ccnew, foo_ccnew1, foo_ccold).
// This is the engine's on-disk behavior, not a choice made here.
var ccRe = regexp.MustCompile(`_cc(new|old)[0-9]*$`)

// IsInProgressName reports whether an index name matches the concurrent
// rebuild naming convention.
func IsInProgressName(name string) bool { return ccRe.MatchString(name) }

const pgListIndexes = `SELECT n.nspname, t.relname, i.relname,
	pg_relation_size(i.oid), ix.indisunique, am.amname,
	ix.indisprimary OR ix.indisunique, ix.indisvalid
FROM pg_index ix
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
JOIN pg_am am ON am.oid = i.relam
WHERE n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
  AND ($1 = '' OR n.nspname = $1)
  AND ($2 = '' OR t.relname = $2)
  AND ($3 = '' OR i.relname = $3)
ORDER BY n.nspname, t.relname, i.relname`

func (PostgresEngine) ListIndexes(ctx context.Context, db *sql.DB, f Filter) ([]Index, error) {
	rows, err := db.QueryContext(ctx, pgListIndexes, f.Schema, f.Table, f.Index)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", classifyPG(err))
	}
	defer rows.Close()

	var res []Index
	for rows.Next() {
		var (
			ix    Index
			valid bool
		)
		if err := rows.Scan(&ix.Schema, &ix.Table, &ix.Name, &ix.SizeBytes, &ix.IsUnique, &ix.AccessMethod, &ix.IsPrimaryOrUnique, &valid); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		ix.InProgress = IsInProgressName(ix.Name)
		res = append(res, ix)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return res, nil
}

const pgIndexSize = `SELECT pg_relation_size(i.oid)
FROM pg_class i
JOIN pg_namespace n ON n.oid = i.relnamespace
WHERE n.nspname = $1 AND i.relname = $2 AND i.relkind = 'i'`

func (PostgresEngine) IndexSizeBytes(ctx context.Context, db *sql.DB, schema, _, index string) (int64, error) {
	var size int64
	if err := db.QueryRowContext(ctx, pgIndexSize, schema, index).Scan(&size); err != nil {
		return 0, fmt.Errorf("index size %s.%s: %w", schema, index, classifyPG(err))
	}
	return size, nil
}

const pgEstimatedRows = `SELECT reltuples::bigint
FROM pg_class t
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE n.nspname = $1 AND t.relname = $2`

func (PostgresEngine) EstimatedRows(ctx context.Context, db *sql.DB, schema, table string) (int64, error) {
	var rows int64
	if err := db.QueryRowContext(ctx, pgEstimatedRows, schema, table).Scan(&rows); err != nil {
		return 0, fmt.Errorf("estimated rows %s.%s: %w", schema, table, classifyPG(err))
	}
	if rows < 0 {
		rows = 0 // never-analyzed tables report -1
	}
	return rows, nil
}

func (PostgresEngine) Rebuild(ctx context.Context, db *sql.DB, schema, table, index string) error {
	if err := secaudit.ValidateIndexIdentity(schema, table, index); err != nil {
		return err
	}
	stmt := fmt.Sprintf("REINDEX INDEX CONCURRENTLY %s.%s",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(index))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return classifyPG(err)
	}
	return nil
}

func (PostgresEngine) Analyze(ctx context.Context, db *sql.DB, schema, table string) error {
	if err := secaudit.ValidateIdentifier("schema", schema); err != nil {
		return err
	}
	if err := secaudit.ValidateIdentifier("table", table); err != nil {
		return err
	}
	stmt := fmt.Sprintf("ANALYZE %s.%s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return classifyPG(err)
	}
	return nil
}

const pgArtifacts = `SELECT n.nspname, i.relname, ix.indisvalid, pg_relation_size(i.oid)
FROM pg_index ix
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_namespace n ON n.oid = i.relnamespace
WHERE i.relname ~ '_cc(new|old)[0-9]*$'
ORDER BY n.nspname, i.relname`

func (PostgresEngine) ListRebuildArtifacts(ctx context.Context, db *sql.DB) ([]Artifact, error) {
	rows, err := db.QueryContext(ctx, pgArtifacts)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", classifyPG(err))
	}
	defer rows.Close()

	var res []Artifact
	for rows.Next() {
		var (
			a     Artifact
			valid bool
			size  int64
		)
		if err := rows.Scan(&a.Schema, &a.Name, &valid, &size); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		a.Kind = "index"
		a.Detail = fmt.Sprintf("valid=%t size=%d", valid, size)
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return res, nil
}

// CheckOnlineRebuild verifies the server is new enough for REINDEX
// CONCURRENTLY (PostgreSQL 12).
func (PostgresEngine) CheckOnlineRebuild(ctx context.Context, db *sql.DB) error {
	var verStr string
	if err := db.QueryRowContext(ctx, "SHOW server_version_num").Scan(&verStr); err != nil {
		return classifyPG(err)
	}
	ver, err := strconv.Atoi(verStr)
	if err != nil {
		return fmt.Errorf("parse server_version_num %q: %w", verStr, err)
	}
	if ver < 120000 {
		return fmt.Errorf("server version %d lacks REINDEX CONCURRENTLY", ver)
	}
	return nil
}

func (e PostgresEngine) PermissionProbes(db *sql.DB) []secaudit.Probe {
	return []secaudit.Probe{
		{Name: "catalog_read", Run: func(ctx context.Context) error {
			var n int
			err := db.QueryRowContext(ctx, "SELECT count(*) FROM pg_stat_user_indexes").Scan(&n)
			return classifyPG(err)
		}},
		{Name: "privileged_catalog_read", Run: func(ctx context.Context) error {
			// pg_authid is superuser-only; a non-privileged principal must
			// get a real denial here, not a warning.
			var n int
			err := db.QueryRowContext(ctx, "SELECT count(*) FROM pg_authid").Scan(&n)
			return classifyPG(err)
		}},
		{Name: "rebuild_execute", Run: func(ctx context.Context) error {
			const q = `SELECT count(*) FILTER (WHERE pg_get_userbyid(i.relowner) = current_user), count(*)
FROM pg_index ix
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_namespace n ON n.oid = i.relnamespace
WHERE n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')`
			var owned, total int
			if err := db.QueryRowContext(ctx, q).Scan(&owned, &total); err != nil {
				return classifyPG(err)
			}
			if total > 0 && owned == 0 {
				return &apperr.PermissionError{Capability: "rebuild_execute",
					Err: fmt.Errorf("current principal owns none of %d user indexes", total)}
			}
			return nil
		}},
	}
}

// classifyPG maps lib/pq SQLSTATEs onto the error taxonomy.
func classifyPG(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42501": // insufficient_privilege
			return &apperr.PermissionError{Capability: string(pqErr.Code), Err: err}
		case "28000", "28P01": // invalid_authorization, invalid_password
			return &apperr.ConnectionError{Reason: apperr.ReasonAuth, Err: err}
		}
	}
	return err
}
