package config

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"

	"github.com/indexpilot/indexpilot/internal/apperr"
)

func paramRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"name", "value", "value_type", "comment", "updated_at"})
}

func expectAll(t *testing.T, r *ParamRepo, mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	t.Helper()
	sqlStr, _, err := query.New(r.DB, "idxp_config_params", ormdriver.MySQLDialect{}).
		Select("name", "value", "value_type", "comment", "updated_at").
		OrderBy("name", "asc").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta(sqlStr)).WillReturnRows(rows)
}

func TestLoadParsesStoredSettings(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &ParamRepo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	rows := paramRows().
		AddRow("analyze_after_rebuild", "false", "boolean", "", time.Now()).
		AddRow("cycle_workers", "8", "integer", "", time.Now()).
		AddRow("rebuild_scale_factor", "2.0", "float", "", time.Now()).
		AddRow("rebuild_timeout_seconds", "600", "integer", "", time.Now())
	expectAll(t, r, mock, rows)

	s, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.RebuildScaleFactor != 2.0 || s.AnalyzeAfterRebuild || s.CycleWorkers != 8 || s.RebuildTimeout != 10*time.Minute {
		t.Fatalf("settings wrong: %+v", s)
	}
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &ParamRepo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	rows := paramRows().
		AddRow("rebuild_scale_factor", "0.5", "float", "below minimum", time.Now()).
		AddRow("cycle_workers", "not-a-number", "integer", "", time.Now())
	expectAll(t, r, mock, rows)

	s, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultSettings()
	if s.RebuildScaleFactor != def.RebuildScaleFactor || s.CycleWorkers != def.CycleWorkers {
		t.Fatalf("malformed values must fall back to defaults: %+v", s)
	}
}

func TestSetRejectsCredentialShapedValue(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &ParamRepo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	err = r.Set(context.Background(), "rebuild_scale_factor", "password=hunter2", "")
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	err = r.Set(context.Background(), "rebuild_scale_factor", "1.4", "postgres://root:secret@db/prod")
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error for comment, got %v", err)
	}
}

func TestSetUnknownParameter(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &ParamRepo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	mock.ExpectExec("UPDATE `idxp_config_params`").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := r.Set(context.Background(), "nope", "1", ""); err == nil {
		t.Fatalf("expected error for unknown parameter")
	}
}
