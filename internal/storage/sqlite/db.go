// Package sqlite persists the notification ledger in SQLite through the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const pragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// Store implements storage.Store. Writes go through a single connection so
// SQLite never sees concurrent writers; reads use a pool.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// New opens the database at path (":memory:" for a process-local one),
// applies pending migrations, and returns a Store.
func New(path string) (*Store, error) {
	dsn := "file:" + path + "?" + pragmas
	if path == ":memory:" {
		// Shared cache lets both pools see one in-memory database.
		dsn = "file::memory:?mode=memory&cache=shared&" + pragmas
	}

	write, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", dsn)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(2, runtime.NumCPU()))

	if err := migrate(write); err != nil {
		return nil, errors.Join(fmt.Errorf("migrations: %w", err), write.Close(), read.Close())
	}
	return &Store{write: write, read: read}, nil
}

func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = p.Up(context.Background())
	return err
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close closes both connection pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
