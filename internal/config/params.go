package config

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"

	"github.com/indexpilot/indexpilot/internal/apperr"
	"github.com/indexpilot/indexpilot/internal/secaudit"
)

// Param is one typed configuration parameter stored in the control store.
type Param struct {
	Name      string    `db:"name"`
	Value     string    `db:"value"`
	ValueType string    `db:"value_type"`
	Comment   string    `db:"comment"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Settings are the tunables the scanner reads at the start of every cycle.
type Settings struct {
	RebuildScaleFactor  float64
	AnalyzeAfterRebuild bool
	RebuildTimeout      time.Duration
	CycleWorkers        int
}

// DefaultSettings mirror the values seeded by the install migration.
func DefaultSettings() Settings {
	return Settings{
		RebuildScaleFactor:  1.3,
		AnalyzeAfterRebuild: true,
		RebuildTimeout:      time.Hour,
		CycleWorkers:        4,
	}
}

// ParamRepo manages configuration parameters.
type ParamRepo struct {
	DB          *sql.DB
	Dialect     ormdriver.Dialect
	Driver      string
	TablePrefix string
}

func (r *ParamRepo) table() string {
	if r.TablePrefix != "" {
		return r.TablePrefix + "config_params"
	}
	return "idxp_config_params"
}

// All returns every parameter ordered by name.
func (r *ParamRepo) All(ctx context.Context) ([]Param, error) {
	if r == nil || r.DB == nil {
		return nil, fmt.Errorf("repo not initialized")
	}
	var res []Param
	q := query.New(r.DB, r.table(), r.Dialect).
		Select("name", "value", "value_type", "comment", "updated_at").
		OrderBy("name", "asc").
		WithContext(ctx)
	if err := q.Get(&res); err != nil {
		return nil, err
	}
	return res, nil
}

// Get fetches one parameter by name.
func (r *ParamRepo) Get(ctx context.Context, name string) (Param, error) {
	if r == nil || r.DB == nil {
		return Param{}, fmt.Errorf("repo not initialized")
	}
	var p Param
	q := query.New(r.DB, r.table(), r.Dialect).
		Select("name", "value", "value_type", "comment", "updated_at").
		Where("name", name).
		WithContext(ctx)
	if err := q.First(&p); err != nil {
		return p, err
	}
	return p, nil
}

// Set updates a parameter value and comment. Values and comments must not
// contain credential-shaped text; that is rejected before any write.
func (r *ParamRepo) Set(ctx context.Context, name, value, comment string) error {
	if r == nil || r.DB == nil {
		return fmt.Errorf("repo not initialized")
	}
	if reason, found := secaudit.ContainsSecret(value); found {
		return &apperr.ValidationError{Field: "value", Value: name, Msg: "credential-shaped text rejected: " + reason}
	}
	if reason, found := secaudit.ContainsSecret(comment); found {
		return &apperr.ValidationError{Field: "comment", Value: name, Msg: "credential-shaped text rejected: " + reason}
	}
	q := query.New(r.DB, r.table(), r.Dialect).
		Where("name", name).
		WithContext(ctx)
	res, err := q.Update(map[string]any{"value": value, "comment": comment})
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("unknown parameter %q", name)
	}
	return nil
}

// Load reads the cycle settings, falling back to defaults for any parameter
// that is missing or malformed.
func (r *ParamRepo) Load(ctx context.Context) (Settings, error) {
	s := DefaultSettings()
	params, err := r.All(ctx)
	if err != nil {
		return s, err
	}
	for _, p := range params {
		switch p.Name {
		case "rebuild_scale_factor":
			if v, err := strconv.ParseFloat(p.Value, 64); err == nil && v >= 1.0 {
				s.RebuildScaleFactor = v
			}
		case "analyze_after_rebuild":
			if v, err := strconv.ParseBool(p.Value); err == nil {
				s.AnalyzeAfterRebuild = v
			}
		case "rebuild_timeout_seconds":
			if v, err := strconv.Atoi(p.Value); err == nil && v > 0 {
				s.RebuildTimeout = time.Duration(v) * time.Second
			}
		case "cycle_workers":
			if v, err := strconv.Atoi(p.Value); err == nil && v > 0 {
				s.CycleWorkers = v
			}
		}
	}
	return s, nil
}
