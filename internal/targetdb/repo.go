package targetdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
)

// Target is one registered monitored database.
type Target struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Driver    string    `db:"driver"`
	DSNEnc    []byte    `db:"dsn_enc"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
}

// Repo manages target registrations in the control store.
type Repo struct {
	DB          *sql.DB
	Dialect     ormdriver.Dialect
	Driver      string
	TablePrefix string
}

func (r *Repo) prefix() string {
	if r.TablePrefix != "" {
		return r.TablePrefix
	}
	return "idxp_"
}

func (r *Repo) table() string {
	return r.prefix() + "targets"
}

// Create inserts a new target and returns its ID. The DSN arrives already
// encrypted; plaintext credentials never touch the control store.
func (r *Repo) Create(ctx context.Context, t Target) (int64, error) {
	if r == nil || r.DB == nil {
		return 0, fmt.Errorf("repo not initialized")
	}
	data := map[string]any{
		"name":    t.Name,
		"driver":  t.Driver,
		"dsn_enc": t.DSNEnc,
		"enabled": t.Enabled,
	}
	q := query.New(r.DB, r.table(), r.Dialect).WithContext(ctx)
	id, err := q.InsertGetId(data)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// List returns all registered targets.
func (r *Repo) List(ctx context.Context) ([]Target, error) {
	if r == nil || r.DB == nil {
		return nil, fmt.Errorf("repo not initialized")
	}
	var res []Target
	q := query.New(r.DB, r.table(), r.Dialect).
		Select("id", "name", "driver", "dsn_enc", "enabled", "created_at").
		OrderBy("id", "asc").
		WithContext(ctx)
	if err := q.Get(&res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListEnabled returns targets eligible for the next cycle.
func (r *Repo) ListEnabled(ctx context.Context) ([]Target, error) {
	if r == nil || r.DB == nil {
		return nil, fmt.Errorf("repo not initialized")
	}
	var res []Target
	q := query.New(r.DB, r.table(), r.Dialect).
		Select("id", "name", "driver", "dsn_enc", "enabled", "created_at").
		Where("enabled", true).
		OrderBy("id", "asc").
		WithContext(ctx)
	if err := q.Get(&res); err != nil {
		return nil, err
	}
	return res, nil
}

// Get fetches a target by ID.
func (r *Repo) Get(ctx context.Context, id int64) (Target, error) {
	if r == nil || r.DB == nil {
		return Target{}, fmt.Errorf("repo not initialized")
	}
	var t Target
	q := query.New(r.DB, r.table(), r.Dialect).
		Select("id", "name", "driver", "dsn_enc", "enabled", "created_at").
		Where("id", id).
		WithContext(ctx)
	if err := q.First(&t); err != nil {
		return t, err
	}
	return t, nil
}

// GetByName fetches a target by its unique name.
func (r *Repo) GetByName(ctx context.Context, name string) (Target, error) {
	if r == nil || r.DB == nil {
		return Target{}, fmt.Errorf("repo not initialized")
	}
	var t Target
	q := query.New(r.DB, r.table(), r.Dialect).
		Select("id", "name", "driver", "dsn_enc", "enabled", "created_at").
		Where("name", name).
		WithContext(ctx)
	if err := q.First(&t); err != nil {
		return t, err
	}
	return t, nil
}

// SetEnabled enables or disables a target.
func (r *Repo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if r == nil || r.DB == nil {
		return fmt.Errorf("repo not initialized")
	}
	q := query.New(r.DB, r.table(), r.Dialect).
		Where("id", id).
		WithContext(ctx)
	_, err := q.Update(map[string]any{"enabled": enabled})
	return err
}

// Delete removes a target registration. Observations and history for the
// target are kept; only the connection descriptor is dropped.
func (r *Repo) Delete(ctx context.Context, id int64) error {
	if r == nil || r.DB == nil {
		return fmt.Errorf("repo not initialized")
	}
	q := query.New(r.DB, r.table(), r.Dialect).
		Where("id", id).
		WithContext(ctx)
	_, err := q.Delete()
	return err
}
