package database

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DriverName is the database/sql driver Open uses: go-sqlite3 with the
// extra SQL functions below registered on every connection.
const DriverName = "sqlite3_nookmark"

// LowerFunc is a Unicode-aware replacement for SQLite's LOWER, which only
// folds ASCII letters. Queries comparing text case-insensitively apply it
// to both sides.
const LowerFunc = "unicode_lower"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(LowerFunc, strings.ToLower, true)
		},
	})
}

// Open connects to the SQLite database at path and returns the handle.
// Callers own the handle and pass it to the packages that need it.
//
// ":memory:" opens a private in-memory database, limited to a single
// connection so every query sees the same schema.
func Open(path string, log logger.Interface) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
	}
	if log != nil {
		cfg.Logger = log
	} else {
		cfg.Logger = logger.Discard
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: DriverName, DSN: dsn(path)}), cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// dsn adds the pragmas we rely on: foreign keys, WAL and a busy timeout
// so concurrent writers wait instead of failing.
func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=on"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=10000"
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
