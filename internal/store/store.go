package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"smartlead/internal/database"
)

// ErrUnavailable marks failures of the backing store itself (connection
// refused, bad connection, timeouts) as opposed to domain conditions like
// a missing row. Callers surface these as infrastructure faults, never as
// provider failures.
var ErrUnavailable = errors.New("store unavailable")

// Store is the single component allowed to issue SQL. Everything above it
// works with domain types.
type Store struct {
	db *database.DB
}

// New creates a store over an initialized database.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// Ping checks store reachability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// wrap classifies a database error. Connectivity problems become
// ErrUnavailable; everything else passes through with context.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "database is locked")
}

func (s *Store) mysql() bool {
	return s.db.Driver() == "mysql"
}
