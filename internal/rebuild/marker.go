package rebuild

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/indexpilot/indexpilot/internal/secaudit"
)

// Marker is the single-writer lock for one index rebuild. It exists exactly
// while a rebuild runs; it is removed on success and on failure alike.
type Marker struct {
	TargetID   int64     `db:"target_id"`
	Schema     string    `db:"schema_name"`
	Table      string    `db:"table_name"`
	Index      string    `db:"index_name"`
	Holder     string    `db:"holder"`
	AcquiredAt time.Time `db:"acquired_at"`
}

// MarkerRepo manages in-progress rebuild markers.
type MarkerRepo struct {
	DB          *sql.DB
	Dialect     ormdriver.Dialect
	Driver      string
	TablePrefix string
}

func (r *MarkerRepo) prefix() string {
	if r.TablePrefix != "" {
		return r.TablePrefix
	}
	return "idxp_"
}

func (r *MarkerRepo) table() string {
	return r.prefix() + "rebuild_markers"
}

// Acquire inserts the marker row. The primary key enforces mutual exclusion:
// a duplicate-key error means another writer holds the lock, reported as
// acquired=false rather than an error.
func (r *MarkerRepo) Acquire(ctx context.Context, m Marker) (bool, error) {
	if r == nil || r.DB == nil {
		return false, fmt.Errorf("repo not initialized")
	}
	tbl := r.table()
	var stmt string
	if r.Driver == "postgres" {
		stmt = fmt.Sprintf("INSERT INTO %s (target_id, schema_name, table_name, index_name, holder, acquired_at) VALUES ($1, $2, $3, $4, $5, $6)", tbl)
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (target_id, schema_name, table_name, index_name, holder, acquired_at) VALUES (?, ?, ?, ?, ?, ?)", tbl)
	}
	_, err := r.DB.ExecContext(ctx, stmt, m.TargetID, m.Schema, m.Table, m.Index, m.Holder, time.Now().UTC()) // #nosec G201 -- table name derived from trusted prefix
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Release removes the marker. Releasing an absent marker is not an error;
// failure paths may race with an operator cleanup.
func (r *MarkerRepo) Release(ctx context.Context, m Marker) error {
	if r == nil || r.DB == nil {
		return fmt.Errorf("repo not initialized")
	}
	q := query.New(r.DB, r.table(), r.Dialect).
		Where("target_id", m.TargetID).
		Where("schema_name", m.Schema).
		Where("table_name", m.Table).
		Where("index_name", m.Index).
		WithContext(ctx)
	_, err := q.Delete()
	return err
}

// Active reports whether a marker currently exists for the index.
func (r *MarkerRepo) Active(ctx context.Context, m Marker) (bool, error) {
	if r == nil || r.DB == nil {
		return false, fmt.Errorf("repo not initialized")
	}
	var res []Marker
	q := query.New(r.DB, r.table(), r.Dialect).
		Select("target_id", "schema_name", "table_name", "index_name", "holder", "acquired_at").
		Where("target_id", m.TargetID).
		Where("schema_name", m.Schema).
		Where("table_name", m.Table).
		Where("index_name", m.Index).
		WithContext(ctx)
	if err := q.Get(&res); err != nil {
		return false, err
	}
	return len(res) > 0, nil
}

// ListAll returns every live marker, for operator review.
func (r *MarkerRepo) ListAll(ctx context.Context) ([]Marker, error) {
	if r == nil || r.DB == nil {
		return nil, fmt.Errorf("repo not initialized")
	}
	var res []Marker
	q := query.New(r.DB, r.table(), r.Dialect).
		Select("target_id", "schema_name", "table_name", "index_name", "holder", "acquired_at").
		OrderBy("acquired_at", "asc").
		WithContext(ctx)
	if err := q.Get(&res); err != nil {
		return nil, err
	}
	return res, nil
}

// ControlProbes checks the daemon's own grants on the control store, so a
// permission report covers both sides: what the maintenance account may do on
// the target and whether state can be tracked at all.
func (r *MarkerRepo) ControlProbes() []secaudit.Probe {
	return []secaudit.Probe{
		{Name: "control_store_read", Run: func(ctx context.Context) error {
			_, err := r.ListAll(ctx)
			return err
		}},
		{Name: "control_store_write", Run: r.writeCheck},
	}
}

// writeCheck inserts a marker row inside a transaction and rolls it back, so
// the write grant is proven without leaving state behind.
func (r *MarkerRepo) writeCheck(ctx context.Context) error {
	if r == nil || r.DB == nil {
		return fmt.Errorf("repo not initialized")
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	tbl := r.table()
	var stmt string
	if r.Driver == "postgres" {
		stmt = fmt.Sprintf("INSERT INTO %s (target_id, schema_name, table_name, index_name, holder, acquired_at) VALUES ($1, $2, $3, $4, $5, $6)", tbl)
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (target_id, schema_name, table_name, index_name, holder, acquired_at) VALUES (?, ?, ?, ?, ?, ?)", tbl)
	}
	// target_id 0 never belongs to a registered target, so even a failed
	// rollback cannot shadow a real marker.
	_, err = tx.ExecContext(ctx, stmt, int64(0), "_healthcheck", "_healthcheck", uuid.NewString(), "healthcheck", time.Now().UTC()) // #nosec G201 -- table name derived from trusted prefix
	if err != nil {
		return err
	}
	return tx.Rollback()
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysqlDriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}
