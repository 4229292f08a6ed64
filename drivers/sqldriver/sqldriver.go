// Package sqldriver implements sqlpool.RawSession over database/sql,
// letting the pool front any registered database/sql driver (the caller
// blank-imports the driver package, same as any database/sql user would;
// this package only needs the driver name and a DSN it understands).
package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jlucas-labs/sqlpool/internal/dsn"
	"github.com/jlucas-labs/sqlpool/pkg/sqlpool"
)

func init() {
	sqlpool.RegisterDriver("sqldriver", func(parsed *dsn.Parsed) (sqlpool.RawSessionFactory, sqlpool.TransientClassifier, error) {
		driverName := parsed.Params["sqlDriverName"]
		if driverName == "" {
			return nil, nil, fmt.Errorf("sqldriver: DSN is missing required sqlDriverName param")
		}
		dataSourceName := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
			parsed.Host, parsed.Port, parsed.Database, parsed.Username, parsed.Password)
		factory, err := Factory(Config{DriverName: driverName, DataSourceName: dataSourceName})
		if err != nil {
			return nil, nil, err
		}
		return factory, Classifier, nil
	})
}

// Config configures a Factory.
type Config struct {
	// DriverName is the name a database/sql driver registered itself
	// under, e.g. "postgres", "mysql", "sqlite3".
	DriverName string
	// DataSourceName is passed to sql.Open verbatim.
	DataSourceName string
}

func validateConfig(cfg *Config) error {
	if cfg.DriverName == "" {
		return fmt.Errorf("sqldriver: DriverName must be specified")
	}
	if cfg.DataSourceName == "" {
		return fmt.Errorf("sqldriver: DataSourceName must be specified")
	}
	return nil
}

// Factory builds a sqlpool.RawSessionFactory backed by database/sql. Each
// call opens and pings one *sql.DB-backed connection via sql.Conn, so the
// pool, not database/sql, owns pooling discipline.
func Factory(cfg Config) (sqlpool.RawSessionFactory, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.DriverName, cfg.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("sqldriver: open failed: %w", err)
	}
	// database/sql's own pool is disabled in favor of sqlpool's: one
	// *sql.Conn is checked out per PoolMember and held for that member's
	// lifetime.
	db.SetMaxOpenConns(0)
	db.SetMaxIdleConns(0)

	return func(ctx context.Context) (sqlpool.RawSession, error) {
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("sqldriver: connect failed: %w", err)
		}
		if err := conn.PingContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("sqldriver: ping failed: %w", err)
		}
		return &Session{conn: conn}, nil
	}, nil
}

// Session adapts a *sql.Conn to sqlpool.RawSession. A transaction is kept
// open across Exec calls so Rollback has something to undo on release,
// matching the pool's release protocol: the first Exec after construction
// or after a Rollback lazily opens one.
type Session struct {
	conn *sql.Conn
	tx   *sql.Tx
}

// Exec runs query inside the session's current transaction, opening one
// first if none is active.
func (s *Session) Exec(ctx context.Context, query string, args ...any) error {
	if s.tx == nil {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqldriver: begin failed: %w", err)
		}
		s.tx = tx
	}
	_, err := s.tx.ExecContext(ctx, query, args...)
	return err
}

// Commit ends the session's open transaction, persisting every Exec run
// since the last Commit or Rollback. Not part of sqlpool.RawSession —
// the pool never calls it, matching a mandatory-rollback-only contract:
// transaction framing beyond that rollback is out of scope for the pool
// core. Callers that need a real commit type-assert Handle.Raw() down to
// *Session to reach it, the same way database/sql/driver.Queryer
// implementations are reached from a *sql.DB.
func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit()
}

// Rollback rolls back the session's open transaction, if any, so the
// member returns to the free list clean regardless of whether the caller
// ever called Commit.
func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Rollback()
}

// Close closes the underlying connection, rolling back any open
// transaction first.
func (s *Session) Close(ctx context.Context) error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	return s.conn.Close()
}

// Classifier implements sqlpool.TransientClassifier for database/sql,
// treating sql.ErrConnDone and context deadline/cancellation as transient;
// anything else is presumed a query-shape error, not a connection fault.
var Classifier sqlpool.TransientClassifierFunc = func(err error) bool {
	return errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
