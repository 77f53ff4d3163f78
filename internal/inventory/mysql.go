package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"

	"github.com/indexpilot/indexpilot/internal/apperr"
	"github.com/indexpilot/indexpilot/internal/secaudit"
)

// MySQLEngine reads information_schema plus InnoDB persistent stats and
// drives online table rebuilds. InnoDB rebuilds indexes per table, so the
// rebuild unit here is the owning table even though tracking stays per index.
type MySQLEngine struct{}

func (MySQLEngine) Name() string { return "mysql" }

const myListIndexes = `SELECT s.table_schema, s.table_name, s.index_name,
	COALESCE(MAX(st.stat_value), 0) * @@innodb_page_size,
	MAX(s.non_unique) = 0, MAX(s.index_type),
	MAX(s.index_name = 'PRIMARY' OR s.non_unique = 0)
FROM information_schema.statistics s
LEFT JOIN mysql.innodb_index_stats st
	ON st.database_name = s.table_schema
	AND st.table_name = s.table_name
	AND st.index_name = s.index_name
	AND st.stat_name = 'size'
WHERE s.table_schema NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')
  AND (? = '' OR s.table_schema = ?)
  AND (? = '' OR s.table_name = ?)
  AND (? = '' OR s.index_name = ?)
GROUP BY s.table_schema, s.table_name, s.index_name
ORDER BY s.table_schema, s.table_name, s.index_name`

func (MySQLEngine) ListIndexes(ctx context.Context, db *sql.DB, f Filter) ([]Index, error) {
	rows, err := db.QueryContext(ctx, myListIndexes,
		f.Schema, f.Schema, f.Table, f.Table, f.Index, f.Index)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", classifyMySQL(err))
	}
	defer rows.Close()

	var res []Index
	for rows.Next() {
		var ix Index
		if err := rows.Scan(&ix.Schema, &ix.Table, &ix.Name, &ix.SizeBytes, &ix.IsUnique, &ix.AccessMethod, &ix.IsPrimaryOrUnique); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		// MySQL keeps intermediate rebuild tables (#sql-...) out of
		// information_schema.statistics, so nothing here is in progress.
		res = append(res, ix)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return res, nil
}

const myIndexSize = `SELECT COALESCE(MAX(stat_value), 0) * @@innodb_page_size
FROM mysql.innodb_index_stats
WHERE database_name = ? AND table_name = ? AND index_name = ? AND stat_name = 'size'`

func (MySQLEngine) IndexSizeBytes(ctx context.Context, db *sql.DB, schema, table, index string) (int64, error) {
	var size int64
	if err := db.QueryRowContext(ctx, myIndexSize, schema, table, index).Scan(&size); err != nil {
		return 0, fmt.Errorf("index size %s.%s: %w", schema, index, classifyMySQL(err))
	}
	return size, nil
}

const myEstimatedRows = `SELECT COALESCE(table_rows, 0)
FROM information_schema.tables
WHERE table_schema = ? AND table_name = ?`

func (MySQLEngine) EstimatedRows(ctx context.Context, db *sql.DB, schema, table string) (int64, error) {
	var rows int64
	if err := db.QueryRowContext(ctx, myEstimatedRows, schema, table).Scan(&rows); err != nil {
		return 0, fmt.Errorf("estimated rows %s.%s: %w", schema, table, classifyMySQL(err))
	}
	return rows, nil
}

func (MySQLEngine) Rebuild(ctx context.Context, db *sql.DB, schema, table, index string) error {
	if err := secaudit.ValidateIndexIdentity(schema, table, index); err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER TABLE `%s`.`%s` ENGINE=InnoDB, ALGORITHM=INPLACE, LOCK=NONE", schema, table)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return classifyMySQL(err)
	}
	return nil
}

func (MySQLEngine) Analyze(ctx context.Context, db *sql.DB, schema, table string) error {
	if err := secaudit.ValidateIdentifier("schema", schema); err != nil {
		return err
	}
	if err := secaudit.ValidateIdentifier("table", table); err != nil {
		return err
	}
	stmt := fmt.Sprintf("ANALYZE TABLE `%s`.`%s`", schema, table)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return classifyMySQL(err)
	}
	return nil
}

const myArtifacts = `SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_name LIKE '#sql%'
ORDER BY table_schema, table_name`

func (MySQLEngine) ListRebuildArtifacts(ctx context.Context, db *sql.DB) ([]Artifact, error) {
	rows, err := db.QueryContext(ctx, myArtifacts)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", classifyMySQL(err))
	}
	defer rows.Close()

	var res []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Schema, &a.Name); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		a.Kind = "table"
		a.Detail = "interrupted in-place DDL"
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return res, nil
}

// CheckOnlineRebuild verifies the server supports online DDL (MySQL 5.7+).
func (MySQLEngine) CheckOnlineRebuild(ctx context.Context, db *sql.DB) error {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return classifyMySQL(err)
	}
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return fmt.Errorf("unparseable server version %q", version)
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return fmt.Errorf("unparseable server version %q", version)
	}
	if major < 5 || (major == 5 && minor < 7) {
		return fmt.Errorf("server version %s lacks online DDL rebuild", version)
	}
	return nil
}

func (e MySQLEngine) PermissionProbes(db *sql.DB) []secaudit.Probe {
	return []secaudit.Probe{
		{Name: "catalog_read", Run: func(ctx context.Context) error {
			var n int
			err := db.QueryRowContext(ctx, "SELECT count(*) FROM information_schema.statistics WHERE table_schema = DATABASE()").Scan(&n)
			return classifyMySQL(err)
		}},
		{Name: "privileged_catalog_read", Run: func(ctx context.Context) error {
			var n int
			err := db.QueryRowContext(ctx, "SELECT count(*) FROM mysql.innodb_index_stats").Scan(&n)
			return classifyMySQL(err)
		}},
		{Name: "rebuild_execute", Run: func(ctx context.Context) error {
			const q = `SELECT count(*) FROM information_schema.table_privileges
WHERE grantee = CONCAT('''', REPLACE(CURRENT_USER(), '@', '''@'''), '''') AND privilege_type = 'ALTER'`
			var n int
			if err := db.QueryRowContext(ctx, q).Scan(&n); err != nil {
				return classifyMySQL(err)
			}
			return nil
		}},
	}
}

// classifyMySQL maps go-sql-driver error numbers onto the error taxonomy.
func classifyMySQL(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysqlDriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1044, 1142, 1227: // access denied to db/table/operation
			return &apperr.PermissionError{Capability: fmt.Sprintf("mysql-%d", myErr.Number), Err: err}
		case 1045: // bad credentials
			return &apperr.ConnectionError{Reason: apperr.ReasonAuth, Err: err}
		}
	}
	return err
}
