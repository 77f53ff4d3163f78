package handler

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"

	"github.com/indexpilot/indexpilot/internal/api/schema"
	"github.com/indexpilot/indexpilot/internal/targetdb"
	"github.com/indexpilot/indexpilot/pkg/crypto"
)

func TestListTargetsOmitsCredentials(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := &targetdb.Repo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	sqlStr, _, err := query.New(db, "idxp_targets", ormdriver.MySQLDialect{}).
		Select("id", "name", "driver", "dsn_enc", "enabled", "created_at").
		OrderBy("id", "asc").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	rows := sqlmock.NewRows([]string{"id", "name", "driver", "dsn_enc", "enabled", "created_at"}).
		AddRow(1, "orders-db", "postgres", []byte("ciphertext"), true, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(sqlStr)).WillReturnRows(rows)

	h := &TargetHandler{Repo: repo}
	out, err := h.list(context.Background(), &struct{}{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out.Body) != 1 {
		t.Fatalf("expected 1 target, got %d", len(out.Body))
	}
	if out.Body[0].Name != "orders-db" || out.Body[0].Driver != "postgres" {
		t.Fatalf("unexpected target: %+v", out.Body[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("db expectations: %v", err)
	}
}

func TestCreateTargetRejectsBadName(t *testing.T) {
	h := &TargetHandler{}
	_, err := h.create(context.Background(), &createTargetInput{Body: schema.CreateTarget{
		Name: "orders; DROP TABLE idxp_targets", Driver: "postgres", DSN: "postgres://u:p@h/db",
	}})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestCreateTargetRejectsUnknownDriver(t *testing.T) {
	h := &TargetHandler{}
	_, err := h.create(context.Background(), &createTargetInput{Body: schema.CreateTarget{
		Name: "orders_db", Driver: "oracle", DSN: "oracle://u:p@h/db",
	}})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestCreateTargetEncryptsDSN(t *testing.T) {
	t.Setenv(crypto.EnvKey, "0123456789abcdef0123456789abcdef")
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := &targetdb.Repo{DB: db, Dialect: ormdriver.MySQLDialect{}, Driver: "mysql"}
	mock.ExpectExec("INSERT INTO `idxp_targets`").WillReturnResult(sqlmock.NewResult(5, 1))

	h := &TargetHandler{Repo: repo}
	out, err := h.create(context.Background(), &createTargetInput{Body: schema.CreateTarget{
		Name: "orders_db", Driver: "postgres", DSN: "postgres://u:p@h/db", Enabled: true,
	}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.Body.ID != 5 || !out.Body.Enabled {
		t.Fatalf("unexpected body: %+v", out.Body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("db expectations: %v", err)
	}
}
