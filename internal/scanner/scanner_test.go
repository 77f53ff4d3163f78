package scanner

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
	"go.uber.org/zap"

	"github.com/indexpilot/indexpilot/internal/baseline"
	"github.com/indexpilot/indexpilot/internal/config"
	"github.com/indexpilot/indexpilot/internal/rebuild"
	"github.com/indexpilot/indexpilot/internal/targetdb"
	"github.com/indexpilot/indexpilot/pkg/crypto"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dialect := ormdriver.MySQLDialect{}
	targets := &targetdb.Repo{DB: db, Dialect: dialect, Driver: "mysql"}
	obs := &baseline.Repo{DB: db, Dialect: dialect, Driver: "mysql"}
	history := &rebuild.HistoryRepo{DB: db, Dialect: dialect, Driver: "mysql"}
	markers := &rebuild.MarkerRepo{DB: db, Dialect: dialect, Driver: "mysql"}
	params := &config.ParamRepo{DB: db, Dialect: dialect, Driver: "mysql"}
	svc := &Service{
		Targets:      targets,
		Connector:    &targetdb.Connector{Repo: targets},
		Observations: obs,
		Estimator:    &baseline.Estimator{Obs: obs},
		Params:       params,
		Orchestrator: rebuild.NewOrchestrator(history, markers, zap.NewNop().Sugar()),
		Logger:       zap.NewNop().Sugar(),
	}
	return svc, mock
}

func expectParams(t *testing.T, svc *Service, mock sqlmock.Sqlmock) {
	t.Helper()
	sqlStr, _, err := query.New(svc.Params.DB, "idxp_config_params", ormdriver.MySQLDialect{}).
		Select("name", "value", "value_type", "comment", "updated_at").
		OrderBy("name", "asc").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta(sqlStr)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "value", "value_type", "comment", "updated_at"}))
}

func expectEnabledTargets(t *testing.T, svc *Service, mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	t.Helper()
	sqlStr, _, err := query.New(svc.Targets.DB, "idxp_targets", ormdriver.MySQLDialect{}).
		Select("id", "name", "driver", "dsn_enc", "enabled", "created_at").
		Where("enabled", true).
		OrderBy("id", "asc").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta(sqlStr)).WithArgs(true).WillReturnRows(rows)
}

func targetRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "driver", "dsn_enc", "enabled", "created_at"})
}

func TestRunCycleNoTargets(t *testing.T) {
	svc, mock := newTestService(t)
	expectParams(t, svc, mock)
	expectEnabledTargets(t, svc, mock, targetRows())

	summary, err := svc.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if summary.TargetsScanned != 0 || len(summary.TargetsSkipped) != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("db expectations: %v", err)
	}
}

func TestRunCycleSkipsUnreachableTarget(t *testing.T) {
	t.Setenv(crypto.EnvKey, "0123456789abcdef0123456789abcdef")
	enc, err := crypto.Encrypt([]byte("postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	svc, mock := newTestService(t)
	expectParams(t, svc, mock)
	expectEnabledTargets(t, svc, mock, targetRows().
		AddRow(1, "dead-db", "postgres", enc, true, time.Now()))

	summary, err := svc.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if summary.TargetsScanned != 0 {
		t.Fatalf("unreachable target must not count as scanned: %+v", summary)
	}
	if _, ok := summary.TargetsSkipped["dead-db"]; !ok {
		t.Fatalf("expected dead-db in skip map: %+v", summary.TargetsSkipped)
	}
}

func TestRunCycleRejectsConcurrentRun(t *testing.T) {
	svc, _ := newTestService(t)
	svc.running = true
	if _, err := svc.RunCycle(context.Background(), false); err != ErrCycleRunning {
		t.Fatalf("expected ErrCycleRunning, got %v", err)
	}
}

func TestTallyCountsDryRunCandidatesApart(t *testing.T) {
	var summary CycleSummary
	tallyOutcomes(&summary, []rebuild.Outcome{
		{Action: rebuild.ActionRebuilt},
		{Action: rebuild.ActionWouldRun},
		{Action: rebuild.ActionWouldRun},
		{Action: rebuild.ActionFailed},
		{Action: rebuild.ActionSkipped},
	})
	if summary.RebuildsStarted != 1 {
		t.Fatalf("rebuildsStarted=%d, want 1", summary.RebuildsStarted)
	}
	if summary.WouldRebuild != 2 {
		t.Fatalf("wouldRebuild=%d, want 2", summary.WouldRebuild)
	}
	if summary.RebuildsFailed != 1 {
		t.Fatalf("rebuildsFailed=%d, want 1", summary.RebuildsFailed)
	}
}

func TestSkipReason(t *testing.T) {
	if got := skipReason(context.DeadlineExceeded); got != "scan_error" {
		t.Fatalf("skipReason=%q", got)
	}
}
