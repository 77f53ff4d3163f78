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
)

func obsRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "target_id", "schema_name", "table_name", "index_name", "size_bytes", "best_size_bytes", "best_ratio", "last_observed_at"})
}

func expectGet(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	t.Helper()
	sqlStr, _, err := query.New(db, "idxp_index_observations", ormdriver.MySQLDialect{}).
		Select("id", "target_id", "schema_name", "table_name", "index_name", "size_bytes", "best_size_bytes", "best_ratio", "last_observed_at").
		Where("target_id", int64(1)).
		Where("schema_name", "public").
		Where("table_name", "orders").
		Where("index_name", "orders_pkey").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta(sqlStr)).
		WithArgs(int64(1), "public", "orders", "orders_pkey").
		WillReturnRows(rows)
}

func TestUpsertFirstSightingSeedsBaseline(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &Repo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	id := Identity{Schema: "public", Table: "orders", Index: "orders_pkey"}

	expectGet(t, db, mock, obsRows())
	mock.ExpectExec("INSERT INTO `idxp_index_observations`").
		WillReturnResult(sqlmock.NewResult(7, 1))

	obs, err := r.Upsert(context.Background(), 1, id, 4096)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if obs.ID != 7 {
		t.Fatalf("id=%d, want 7", obs.ID)
	}
	if obs.BestSizeBytes != 4096 || obs.BestRatio != 1.0 {
		t.Fatalf("first sighting must seed baseline at current size: %+v", obs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("db expectations: %v", err)
	}
}

func TestUpsertLowersBaselineWhenShrunk(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &Repo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	id := Identity{Schema: "public", Table: "orders", Index: "orders_pkey"}

	expectGet(t, db, mock, obsRows().AddRow(7, 1, "public", "orders", "orders_pkey", 1000, 1000, 1.0, time.Now()))
	mock.ExpectExec("UPDATE `idxp_index_observations`").
		WillReturnResult(sqlmock.NewResult(0, 1))

	obs, err := r.Upsert(context.Background(), 1, id, 800)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if obs.BestSizeBytes != 800 {
		t.Fatalf("baseline must lower to 800, got %d", obs.BestSizeBytes)
	}
	if obs.BestRatio != 1.0 {
		t.Fatalf("ratio after shrink=%f, want 1.0", obs.BestRatio)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("db expectations: %v", err)
	}
}

func TestUpsertSameSizeLeavesObservationStable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &Repo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	id := Identity{Schema: "public", Table: "orders", Index: "orders_pkey"}

	expectGet(t, db, mock, obsRows().AddRow(7, 1, "public", "orders", "orders_pkey", 1000, 1000, 1.0, time.Now()))
	mock.ExpectExec("UPDATE `idxp_index_observations`").
		WillReturnResult(sqlmock.NewResult(0, 1))

	obs, err := r.Upsert(context.Background(), 1, id, 1000)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if obs.SizeBytes != 1000 || obs.BestSizeBytes != 1000 || obs.BestRatio != 1.0 {
		t.Fatalf("re-observing an unchanged index must not move the baseline: %+v", obs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("db expectations: %v", err)
	}
}

func TestUpsertComputesRatioAgainstBest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &Repo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	id := Identity{Schema: "public", Table: "orders", Index: "orders_pkey"}

	expectGet(t, db, mock, obsRows().AddRow(7, 1, "public", "orders", "orders_pkey", 800, 800, 1.0, time.Now()))
	mock.ExpectExec("UPDATE `idxp_index_observations`").
		WillReturnResult(sqlmock.NewResult(0, 1))

	obs, err := r.Upsert(context.Background(), 1, id, 1200)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if obs.BestSizeBytes != 800 {
		t.Fatalf("growth must not move the baseline: %d", obs.BestSizeBytes)
	}
	if obs.BestRatio != 1.5 {
		t.Fatalf("ratio=%f, want 1.5", obs.BestRatio)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("db expectations: %v", err)
	}
}
