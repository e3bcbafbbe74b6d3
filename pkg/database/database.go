// Package database wraps a sqlite handle with a single-writer discipline.
package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// dbCache stores active database handles, keyed by path
	dbCache = make(map[string]*Database)
	// cacheMutex protects the dbCache
	cacheMutex = &sync.Mutex{}
)

// Database is a sqlite handle shared by every component of the process.
// Reads go through the connection pool. Writes go through Transaction, which
// admits one writer at a time.
type Database struct {
	db      *sql.DB
	writeMu sync.Mutex
	dbPath  string
}

// Config holds database configuration
type Config struct {
	Path         string
	Driver       string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the default database configuration
func DefaultConfig() Config {
	return Config{
		Driver:       "sqlite",
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
	}
}

// pragmas are applied to every pooled connection through the DSN so that
// connections opened later by database/sql get them too.
func dsn(config Config) string {
	pragmas := []string{
		fmt.Sprintf("busy_timeout(%d)", config.BusyTimeout.Milliseconds()),
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
	}
	return config.Path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// Open opens (or returns the already open) database at config.Path.
func Open(config Config) (*Database, error) {
	cacheMutex.Lock()
	defer cacheMutex.Unlock()

	if db, ok := dbCache[config.Path]; ok {
		return db, nil
	}

	defaults := DefaultConfig()
	if config.Driver == "" {
		config.Driver = defaults.Driver
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = defaults.BusyTimeout
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = defaults.MaxOpenConns
	}

	if err := EnsureDirectoryExists(config.Path); err != nil {
		return nil, err
	}

	db, err := sql.Open(config.Driver, dsn(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", config.Path, err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxOpenConns / 2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database %s: %w", config.Path, err)
	}

	database := &Database{
		db:     db,
		dbPath: config.Path,
	}
	dbCache[config.Path] = database

	slog.Debug("Opened database", "path", config.Path)
	return database, nil
}

// Close closes the database handle
func (db *Database) Close() error {
	cacheMutex.Lock()
	defer cacheMutex.Unlock()

	delete(dbCache, db.dbPath)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// DB returns the underlying sql.DB for reads.
func (db *Database) DB() *sql.DB {
	return db.db
}

// Path returns the database file path
func (db *Database) Path() string {
	return db.dbPath
}

// Conn hands out a dedicated connection. Session state such as attached
// databases stays on that connection until it is closed.
func (db *Database) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := db.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get dedicated connection: %w", err)
	}
	return conn, nil
}

// Discard closes conn and keeps database/sql from returning it to the pool.
// Use it when session state on the connection could not be cleaned up.
func Discard(conn *sql.Conn) {
	err := conn.Raw(func(any) error { return driver.ErrBadConn })
	if err != nil && err != driver.ErrBadConn {
		slog.Warn("Failed to discard connection", "error", err)
	}
	_ = conn.Close()
}

// ExecuteSchema executes a schema statement under the writer lock
func (db *Database) ExecuteSchema(ctx context.Context, schema string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Transaction runs fn inside a transaction. Writers are serialized. Any error
// or panic from fn rolls the transaction back; the error is returned as is.
func (db *Database) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				slog.Error("Failed to rollback transaction", "error", rollbackErr)
			}
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			slog.Error("Failed to rollback transaction", "error", rollbackErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SnapshotTo writes a consistent copy of the database to dest with VACUUM INTO.
// An existing file at dest is replaced.
func (db *Database) SnapshotTo(ctx context.Context, dest string) error {
	if err := EnsureDirectoryExists(dest); err != nil {
		return err
	}
	if err := removeIfExists(dest); err != nil {
		return err
	}

	if _, err := db.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("failed to snapshot database to %s: %w", dest, err)
	}
	return nil
}
