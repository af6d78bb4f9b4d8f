package database

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"sprintwatch/internal/platform/config"
)

func New(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.Path
	if dsn == "" {
		dsn = "sprintwatch.db"
	}
	// Busy timeout keeps concurrent workers from tripping over SQLITE_BUSY;
	// WAL lets readers proceed while a worker writes.
	dsn += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}
