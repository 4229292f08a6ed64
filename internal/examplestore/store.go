// Package examplestore is a toy sqlpool.RawSession for example programs,
// so they can run with no external database and no extra go.mod
// dependency. No package in this module imports it. It is not a driver in the sense of
// drivers/sqldriver or drivers/remote: it keeps rows in a process-local
// map and never touches a network or a file.
package examplestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jlucas-labs/sqlpool/pkg/sqlpool"
)

// ErrConnRefused is returned by Store.Connect while the store is set to
// simulate an outage.
var ErrConnRefused = errors.New("examplestore: connection refused")

// Store backs every session Connect produces with the same table set, so
// statements run against one session are visible to the next.
type Store struct {
	mu      sync.Mutex
	tables  map[string][]map[string]any
	failing bool
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{tables: make(map[string][]map[string]any)}
}

// SetFailing makes every subsequent Connect call return ErrConnRefused,
// simulating a database outage.
func (s *Store) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// Connect is a sqlpool.RawSessionFactory bound to this store.
func (s *Store) Connect(ctx context.Context) (sqlpool.RawSession, error) {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return nil, ErrConnRefused
	}
	return &session{store: s}, nil
}

// Classifier treats ErrConnRefused as transient; every other error is
// presumed a logic error in the statement itself.
var Classifier = sqlpool.TransientClassifierFunc(func(err error) bool {
	return errors.Is(err, ErrConnRefused)
})

type session struct {
	store   *Store
	pending []func(tables map[string][]map[string]any)
	closed  bool
}

// Exec parses just enough of the statement to route it to an in-memory
// table, queuing the effect until the session's Rollback or Commit runs so
// the pool's mandatory-rollback-on-release contract has something to
// exercise.
func (s *session) Exec(ctx context.Context, query string, args ...any) error {
	if s.closed {
		return fmt.Errorf("examplestore: session closed")
	}
	stmt := strings.TrimSpace(query)
	switch {
	case strings.HasPrefix(strings.ToUpper(stmt), "INSERT INTO"):
		table := tableName(stmt, "INSERT INTO")
		row := map[string]any{}
		for i, a := range args {
			row[fmt.Sprintf("col%d", i)] = a
		}
		s.pending = append(s.pending, func(tables map[string][]map[string]any) {
			tables[table] = append(tables[table], row)
		})
	case strings.HasPrefix(strings.ToUpper(stmt), "UPDATE"), strings.HasPrefix(strings.ToUpper(stmt), "DELETE"), strings.HasPrefix(strings.ToUpper(stmt), "CREATE"):
		s.pending = append(s.pending, func(tables map[string][]map[string]any) {})
	case strings.HasPrefix(strings.ToUpper(stmt), "SELECT"):
		// Reads don't need to queue anything; they observe committed state.
	default:
		return fmt.Errorf("examplestore: unsupported statement %q", stmt)
	}
	return nil
}

// Commit applies every queued effect to the shared store. Not part of
// sqlpool.RawSession — see drivers/sqldriver.Session.Commit for why the
// pool itself never calls this.
func (s *session) Commit(ctx context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, apply := range s.pending {
		apply(s.store.tables)
	}
	s.pending = nil
	return nil
}

// Rollback discards every queued effect without applying it.
func (s *session) Rollback(ctx context.Context) error {
	s.pending = nil
	return nil
}

func (s *session) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

func tableName(stmt, prefix string) string {
	rest := strings.TrimSpace(stmt[len(prefix):])
	if i := strings.IndexAny(rest, " (\t"); i >= 0 {
		return rest[:i]
	}
	return rest
}
