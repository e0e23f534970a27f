package storage

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("record already exists")
	// ErrProcedureUnavailable signals that the server-side atomic increment
	// cannot be used and callers must fall back to read-modify-write.
	ErrProcedureUnavailable = errors.New("atomic increment procedure unavailable")
)

// Store runs the row-store queries for one database dialect.
type Store struct {
	db              *sql.DB
	driver          string
	atomicIncrement bool
}

// Option customizes a Store.
type Option func(*Store)

// WithAtomicIncrement toggles use of the server-side increment path.
func WithAtomicIncrement(enabled bool) Option {
	return func(s *Store) {
		s.atomicIncrement = enabled
	}
}

// New wraps an open database handle.
func New(db *sql.DB, driver string, opts ...Option) *Store {
	s := &Store{
		db:              db,
		driver:          NormalizeDriver(driver),
		atomicIncrement: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver reports the normalized driver name.
func (s *Store) Driver() string {
	return s.driver
}

// rebind converts ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isUndefinedFunction(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42883"
	}
	return false
}
