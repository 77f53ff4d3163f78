package baseline

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
	"github.com/google/go-cmp/cmp"

	"github.com/indexpilot/indexpilot/internal/inventory"
	"github.com/indexpilot/indexpilot/internal/secaudit"
	"github.com/indexpilot/indexpilot/internal/targetdb"
)

// fixedEngine serves a static inventory; everything else is inert.
type fixedEngine struct{ indexes []inventory.Index }

func (f fixedEngine) Name() string { return "postgres" }

func (f fixedEngine) ListIndexes(ctx context.Context, db *sql.DB, flt inventory.Filter) ([]inventory.Index, error) {
	return f.indexes, nil
}

func (f fixedEngine) IndexSizeBytes(ctx context.Context, db *sql.DB, schema, table, index string) (int64, error) {
	return 0, nil
}

func (f fixedEngine) EstimatedRows(ctx context.Context, db *sql.DB, schema, table string) (int64, error) {
	return 0, nil
}

func (f fixedEngine) Rebuild(ctx context.Context, db *sql.DB, schema, table, index string) error {
	return nil
}

func (f fixedEngine) Analyze(ctx context.Context, db *sql.DB, schema, table string) error {
	return nil
}

func (f fixedEngine) ListRebuildArtifacts(ctx context.Context, db *sql.DB) ([]inventory.Artifact, error) {
	return nil, nil
}

func (f fixedEngine) CheckOnlineRebuild(ctx context.Context, db *sql.DB) error { return nil }

func (f fixedEngine) PermissionProbes(db *sql.DB) []secaudit.Probe { return nil }

func expectIdentityLookup(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, id Identity) {
	t.Helper()
	sqlStr, _, err := query.New(db, "idxp_index_observations", ormdriver.MySQLDialect{}).
		Select(obsColumns...).
		Where("target_id", int64(1)).
		Where("schema_name", id.Schema).
		Where("table_name", id.Table).
		Where("index_name", id.Index).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta(sqlStr)).
		WithArgs(int64(1), id.Schema, id.Table, id.Index).
		WillReturnRows(obsRows())
}

// A freshly force-populated target must estimate as perfectly healthy:
// every baseline equals the current size, so ratio 1.0 and zero bloat.
func TestForcePopulateSeedsCleanBaselines(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &Repo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	e := &Estimator{Obs: r}

	eng := fixedEngine{indexes: []inventory.Index{
		{Schema: "public", Table: "orders", Name: "orders_pkey", SizeBytes: 2048},
		{Schema: "public", Table: "users", Name: "users_email_key", SizeBytes: 1024},
		{Schema: "public", Table: "users", Name: "users_email_key_ccnew", SizeBytes: 512, InProgress: true},
	}}
	h := &targetdb.Handle{
		Target: targetdb.Target{ID: 1, Name: "orders-db", Driver: "postgres", Enabled: true},
		Engine: eng,
	}

	ids := []Identity{
		{Schema: "public", Table: "orders", Index: "orders_pkey"},
		{Schema: "public", Table: "users", Index: "users_email_key"},
	}
	for i, id := range ids {
		// Seed looks the row up, then falls through to the first-sighting
		// insert, which looks it up once more.
		expectIdentityLookup(t, db, mock, id)
		expectIdentityLookup(t, db, mock, id)
		mock.ExpectExec("INSERT INTO `idxp_index_observations`").
			WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
	}

	seeded, err := e.ForcePopulate(context.Background(), h, inventory.Filter{})
	if err != nil {
		t.Fatalf("force populate: %v", err)
	}
	if seeded != 2 {
		t.Fatalf("seeded=%d, want 2: a mid-rebuild index must be skipped", seeded)
	}

	listSQL, _, err := query.New(db, "idxp_index_observations", ormdriver.MySQLDialect{}).
		Select(obsColumns...).
		Where("target_id", int64(1)).
		OrderBy("schema_name", "asc").
		OrderBy("table_name", "asc").
		OrderBy("index_name", "asc").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta(listSQL)).WithArgs(int64(1)).WillReturnRows(obsRows().
		AddRow(1, 1, "public", "orders", "orders_pkey", 2048, 2048, 1.0, time.Now()).
		AddRow(2, 1, "public", "users", "users_email_key", 1024, 1024, 1.0, time.Now()))

	ests, err := e.EstimateBloat(context.Background(), 1)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	want := []BloatEstimate{
		{Schema: "public", Table: "orders", Index: "orders_pkey", SizeBytes: 2048, Ratio: 1.0, BloatBytes: 0},
		{Schema: "public", Table: "users", Index: "users_email_key", SizeBytes: 1024, Ratio: 1.0, BloatBytes: 0},
	}
	if diff := cmp.Diff(want, ests); diff != "" {
		t.Fatalf("estimates mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("db expectations: %v", err)
	}
}

func TestEstimateBloat(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &Repo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	e := &Estimator{Obs: r}

	sqlStr, _, err := query.New(db, "idxp_index_observations", ormdriver.MySQLDialect{}).
		Select("id", "target_id", "schema_name", "table_name", "index_name", "size_bytes", "best_size_bytes", "best_ratio", "last_observed_at").
		Where("target_id", int64(1)).
		OrderBy("schema_name", "asc").
		OrderBy("table_name", "asc").
		OrderBy("index_name", "asc").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	rows := obsRows().
		AddRow(1, 1, "public", "orders", "orders_pkey", 1500, 1000, 1.5, time.Now()).
		AddRow(2, 1, "public", "users", "users_email_key", 500, 500, 1.0, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(sqlStr)).WithArgs(int64(1)).WillReturnRows(rows)

	ests, err := e.EstimateBloat(context.Background(), 1)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	want := []BloatEstimate{
		{Schema: "public", Table: "orders", Index: "orders_pkey", SizeBytes: 1500, Ratio: 1.5, BloatBytes: 500},
		{Schema: "public", Table: "users", Index: "users_email_key", SizeBytes: 500, Ratio: 1.0, BloatBytes: 0},
	}
	if diff := cmp.Diff(want, ests); diff != "" {
		t.Fatalf("estimates mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("db expectations: %v", err)
	}
}
