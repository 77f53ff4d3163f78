package inventory

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqlDriver "github.com/go-sql-driver/mysql"

	"github.com/indexpilot/indexpilot/internal/apperr"
)

func TestMySQLListIndexes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	cols := []string{"table_schema", "table_name", "index_name", "size", "unique", "type", "pk"}
	rows := sqlmock.NewRows(cols).
		AddRow("app", "orders", "PRIMARY", int64(16384*64), true, "BTREE", true).
		AddRow("app", "orders", "idx_created", int64(16384*8), false, "BTREE", false)
	mock.ExpectQuery("FROM information_schema.statistics").
		WithArgs("app", "app", "", "", "", "").WillReturnRows(rows)

	got, err := MySQLEngine{}.ListIndexes(context.Background(), db, Filter{Schema: "app"})
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 indexes, got %d", len(got))
	}
	if got[0].InProgress || got[1].InProgress {
		t.Fatal("mysql inventory should never report in-progress indexes")
	}
	if !got[0].IsPrimaryOrUnique || got[1].IsPrimaryOrUnique {
		t.Fatalf("primary flags wrong: %+v", got)
	}
}

func TestMySQLRebuildIsOnlineDDL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `app`.`orders` ENGINE=InnoDB, ALGORITHM=INPLACE, LOCK=NONE")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := (MySQLEngine{}).Rebuild(context.Background(), db, "app", "orders", "idx_created"); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClassifyMySQL(t *testing.T) {
	err := classifyMySQL(&mysqlDriver.MySQLError{Number: 1142, Message: "SELECT command denied"})
	if !apperr.IsPermission(err) {
		t.Fatalf("1142 should map to PermissionError, got %T", err)
	}
	err = classifyMySQL(&mysqlDriver.MySQLError{Number: 1045, Message: "Access denied for user"})
	if !apperr.IsConnection(err) {
		t.Fatalf("1045 should map to ConnectionError, got %T", err)
	}
}
