package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

const DefaultQueryTimeout = 5 * time.Second

// Store is the credential store. Every call runs under its own deadline.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithQueryTimeout sets the per-call deadline.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewStore(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		timeout: DefaultQueryTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the pool so sibling stores can share it.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping checks that the database answers within the query timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return mapError("ping", s.db.PingContext(ctx))
}

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// withTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}
