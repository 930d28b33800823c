package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Dialect selects SQL flavour specifics.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Database is a *sql.DB that accepts '?' placeholders on every dialect.
type Database struct {
	db      *sql.DB
	dialect Dialect
}

// OpenOptions configures the connection pool.
type OpenOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens a database for the given dialect and verifies connectivity.
func Open(ctx context.Context, dialect Dialect, dsn string, opts OpenOptions) (*Database, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite3"
	case DialectPostgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Database{db: db, dialect: dialect}, nil
}

// NewDatabase wraps an already opened *sql.DB.
func NewDatabase(db *sql.DB, dialect Dialect) *Database {
	return &Database{db: db, dialect: dialect}
}

// Dialect returns the SQL dialect of the connection.
func (d *Database) Dialect() Dialect {
	return d.dialect
}

func (d *Database) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, Rebind(d.dialect, query), args...)
}

func (d *Database) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, Rebind(d.dialect, query), args...)
}

func (d *Database) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, Rebind(d.dialect, query), args...)
}

// PingContext verifies the connection is alive.
func (d *Database) PingContext(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// Rebind rewrites '?' placeholders into '$N' for Postgres. Quoted literals are left alone.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// CountPlaceholders counts unquoted '?' placeholders in a query.
func CountPlaceholders(query string) int {
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		switch query[i] {
		case '\'':
			inQuote = !inQuote
		case '?':
			if !inQuote {
				n++
			}
		}
	}
	return n
}

// MonthBucket returns an expression truncating a timestamp column to "YYYY-MM".
func MonthBucket(dialect Dialect, column string) string {
	if dialect == DialectPostgres {
		return fmt.Sprintf("to_char(%s, 'YYYY-MM')", column)
	}
	return fmt.Sprintf("substr(%s, 1, 7)", column)
}
