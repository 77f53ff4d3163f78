package targetdb

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
)

func TestListReturnsTargets(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &Repo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	sqlStr, _, err := query.New(db, "idxp_targets", ormdriver.MySQLDialect{}).
		Select("id", "name", "driver", "dsn_enc", "enabled", "created_at").
		OrderBy("id", "asc").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	rows := sqlmock.NewRows([]string{"id", "name", "driver", "dsn_enc", "enabled", "created_at"}).
		AddRow(1, "orders-db", "postgres", []byte("enc"), true, time.Now()).
		AddRow(2, "legacy-db", "mysql", []byte("enc"), false, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(sqlStr)).WillReturnRows(rows)

	targets, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if targets[0].Name != "orders-db" || !targets[0].Enabled {
		t.Fatalf("unexpected first target: %+v", targets[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("db expectations: %v", err)
	}
}

func TestCreateInsertsEncryptedDSN(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := &Repo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	mock.ExpectExec("INSERT INTO `idxp_targets`").WillReturnResult(sqlmock.NewResult(3, 1))

	id, err := r.Create(context.Background(), Target{Name: "orders-db", Driver: "postgres", DSNEnc: []byte("enc"), Enabled: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 3 {
		t.Fatalf("id=%d, want 3", id)
	}
}
