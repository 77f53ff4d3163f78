package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Migration holds migration data for one version.
type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

// ControlMigrator applies migrations for the control-store schema.
type ControlMigrator interface {
	Current(ctx context.Context, db *sql.DB) (int, error)
	Up(ctx context.Context, db *sql.DB, target int) error   // 0=latest
	Down(ctx context.Context, db *sql.DB, target int) error // target<current
}

// Migrator implements ControlMigrator using embedded SQL.
type Migrator struct {
	migrations  []Migration
	TablePrefix string
	Driver      string
}

// ErrNoVersionTable indicates the schema version table is missing.
var ErrNoVersionTable = errors.New("schema version table not found")

// ErrVersionMismatch indicates the control store is at a different schema
// version than this binary expects. Startup treats it as fatal.
var ErrVersionMismatch = errors.New("control store schema version mismatch")

// New returns a Migrator for the driver with the given table prefix.
func New(driver, prefix string) *Migrator {
	var migs []Migration
	if driver == "postgres" {
		migs = postgresMigrations
	} else {
		migs = mysqlMigrations
	}
	migs = withPrefix(migs, prefix)
	return &Migrator{migrations: migs, TablePrefix: prefix, Driver: driver}
}

// Latest returns the newest known schema version.
func (m *Migrator) Latest() int { return len(m.migrations) }

func (m *Migrator) versionTable() string {
	return m.TablePrefix + "schema_version"
}

func withPrefix(migs []Migration, prefix string) []Migration {
	res := make([]Migration, len(migs))
	for i, mg := range migs {
		mg.UpSQL = strings.ReplaceAll(mg.UpSQL, "idxp_", prefix)
		mg.DownSQL = strings.ReplaceAll(mg.DownSQL, "idxp_", prefix)
		res[i] = mg
	}
	return res
}

func (m *Migrator) quotedVersionTable() string {
	if m.Driver == "postgres" {
		return pq.QuoteIdentifier(m.versionTable())
	}
	return "`" + m.versionTable() + "`"
}

func (m *Migrator) ensureVersionTable(ctx context.Context, db *sql.DB) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (version INTEGER NOT NULL)", m.quotedVersionTable())
	_, err := db.ExecContext(ctx, stmt)
	return err
}

// Current returns the current schema version. If the version table does not
// exist ErrNoVersionTable is returned.
func (m *Migrator) Current(ctx context.Context, db *sql.DB) (int, error) {
	query := fmt.Sprintf("SELECT MAX(version) FROM %s", m.quotedVersionTable())
	row := db.QueryRowContext(ctx, query) // #nosec G201 -- table name derived from trusted prefix
	var v sql.NullInt64
	if err := row.Scan(&v); err != nil {
		if isTableMissing(err) {
			return 0, ErrNoVersionTable
		}
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// Verify checks that the control store is at exactly the latest version.
func (m *Migrator) Verify(ctx context.Context, db *sql.DB) error {
	cur, err := m.Current(ctx, db)
	if err != nil {
		return err
	}
	if cur != m.Latest() {
		return fmt.Errorf("%w: have %d, want %d", ErrVersionMismatch, cur, m.Latest())
	}
	return nil
}

func splitSQL(src string) []string {
	var (
		res       []string
		buf       strings.Builder
		inSingle  bool
		inDouble  bool
		dollarTag string
	)
	for i := 0; i < len(src); i++ {
		c := src[i]
		if dollarTag != "" {
			if strings.HasPrefix(src[i:], dollarTag) {
				buf.WriteString(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
				continue
			}
			buf.WriteByte(c)
			continue
		}
		switch c {
		case '\'':
			inSingle = !inSingle
		case '"':
			inDouble = !inDouble
		case '$':
			if !inSingle && !inDouble {
				j := i + 1
				for j < len(src) && ((src[j] >= 'a' && src[j] <= 'z') || (src[j] >= 'A' && src[j] <= 'Z') || (src[j] >= '0' && src[j] <= '9') || src[j] == '_') {
					j++
				}
				if j < len(src) && src[j] == '$' {
					dollarTag = src[i : j+1]
					buf.WriteString(dollarTag)
					i = j
					continue
				}
			}
		case ';':
			if !inSingle && !inDouble {
				s := strings.TrimSpace(buf.String())
				if s != "" {
					res = append(res, s)
				}
				buf.Reset()
				continue
			}
		}
		buf.WriteByte(c)
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		res = append(res, s)
	}
	return res
}

func execAll(ctx context.Context, tx *sql.Tx, src string) error {
	for _, stmt := range splitSQL(src) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Up migrates the schema up to target. target=0 means latest.
func (m *Migrator) Up(ctx context.Context, db *sql.DB, target int) error {
	if target == 0 {
		target = len(m.migrations)
	}
	if err := m.ensureVersionTable(ctx, db); err != nil {
		return err
	}
	cur, err := m.Current(ctx, db)
	if err != nil {
		return err
	}
	if cur >= target {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for i := cur; i < target; i++ {
		if err := execAll(ctx, tx, m.migrations[i].UpSQL); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback: %v: %w", rbErr, err)
			}
			return err
		}
		ins := fmt.Sprintf("INSERT INTO %s (version) VALUES (%d)", m.quotedVersionTable(), m.migrations[i].Version)
		if _, err := tx.ExecContext(ctx, ins); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback: %v: %w", rbErr, err)
			}
			return err
		}
	}
	return tx.Commit()
}

// Down migrates the schema down to target version. Down(ctx, db, 0) removes
// every control-store table, which is how teardown drops the control plane.
func (m *Migrator) Down(ctx context.Context, db *sql.DB, target int) error {
	cur, err := m.Current(ctx, db)
	if err != nil {
		return err
	}
	if target >= cur {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for i := cur - 1; i >= target; i-- {
		if err := execAll(ctx, tx, m.migrations[i].DownSQL); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback: %v: %w", rbErr, err)
			}
			return err
		}
		del := fmt.Sprintf("DELETE FROM %s WHERE version = %d", m.quotedVersionTable(), m.migrations[i].Version)
		if _, err := tx.ExecContext(ctx, del); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback: %v: %w", rbErr, err)
			}
			return err
		}
	}
	if target == 0 {
		drop := fmt.Sprintf("DROP TABLE IF EXISTS %s", m.quotedVersionTable())
		if _, err := tx.ExecContext(ctx, drop); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback: %v: %w", rbErr, err)
			}
			return err
		}
	}
	return tx.Commit()
}

func isTableMissing(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "no such table") || strings.Contains(msg, "undefined table")
}

// SQLForRange returns SQL statements needed to migrate from->to.
func (m *Migrator) SQLForRange(from, to int) []string {
	var res []string
	if to > from {
		for i := from; i < to; i++ {
			res = append(res, splitSQL(m.migrations[i].UpSQL)...)
		}
	} else if to < from {
		for i := from - 1; i >= to; i-- {
			res = append(res, splitSQL(m.migrations[i].DownSQL)...)
		}
	}
	return res
}
