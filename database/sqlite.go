package database

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens (or creates) a sqlite database file.
// The busy timeout makes concurrent writers queue on sqlite's
// database-level lock instead of failing with SQLITE_BUSY.
func OpenSQLite(filePath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", filePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens an in-memory sqlite database (used in tests).
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	// one connection only, otherwise each conn sees its own empty :memory: db
	db.SetMaxOpenConns(1)
	return db, nil
}
