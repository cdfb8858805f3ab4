package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDriver(t *testing.T) {
	assert.Equal(t, "postgres", NormalizeDriver("PostgreSQL"))
	assert.Equal(t, "mysql", NormalizeDriver("mariadb"))
	assert.Equal(t, "sqlite3", NormalizeDriver(""))
	assert.Equal(t, "oracle", NormalizeDriver(" Oracle "))
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, "data/x.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", sqliteDSN("data/x.db"))
	assert.Equal(t, "x.db?cache=shared", sqliteDSN("x.db?cache=shared"))
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	require.ErrorContains(t, err, "unsupported database driver")

	_, err = Open(context.Background(), Config{Driver: "postgres"})
	require.ErrorContains(t, err, "dsn is required")
}

func TestStatementsArePerDialect(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite3"} {
		stmts, err := Statements(driver)
		require.NoError(t, err)
		for _, s := range stmts {
			assert.NotContains(t, s, "{", driver)
		}
	}

	pg, _ := Statements("postgres")
	assert.Contains(t, strings.Join(pg, "\n"), "DEFAULT TRUE")
	assert.Contains(t, strings.Join(pg, "\n"), "CREATE INDEX IF NOT EXISTS")

	my, _ := Statements("mysql")
	assert.NotContains(t, strings.Join(my, "\n"), "IF NOT EXISTS idx")

	_, err := Statements("oracle")
	assert.Error(t, err)
}

func TestMigrateExecutesStatements(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "sqlite3")

	stmts, err := Statements("sqlite3")
	require.NoError(t, err)
	for _, s := range stmts {
		mock.ExpectExec(regexp.QuoteMeta(s)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateIgnoresDuplicateIndexOnMySQL(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "mysql")

	stmts, err := Statements("mysql")
	require.NoError(t, err)
	for _, s := range stmts {
		exp := mock.ExpectExec(regexp.QuoteMeta(s))
		if strings.HasPrefix(s, "CREATE INDEX") {
			exp.WillReturnError(errors.New("Error 1061: Duplicate key name 'idx'"))
			continue
		}
		exp.WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, Migrate(context.Background(), db))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062})))
	assert.True(t, IsUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}))
	assert.True(t, IsUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(errors.New("dial tcp: connection refused")))
	assert.True(t, IsConnectionError(context.DeadlineExceeded))
	assert.False(t, IsConnectionError(errors.New("syntax error")))
}
