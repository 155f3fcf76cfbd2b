package repository

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store hands out repositories bound either to the pool or to one
// transaction.
type Store struct {
	db   *sql.DB
	conn DBTX
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, conn: db}
}

// WithTx runs fn inside a transaction. Repositories obtained from the store
// passed to fn share that transaction. Calling WithTx on a transactional
// store reuses the open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	if s.db == nil {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(subjectTransaction, codeBegin, err)
	}
	if err := fn(ctx, &Store{conn: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap(subjectTransaction, codeCommit, err)
	}
	return nil
}

func (s *Store) Users() *UserRepository { return NewUserRepository(s.conn) }

func (s *Store) Payments() *PaymentRepository { return NewPaymentRepository(s.conn) }

func (s *Store) Creatives() *CreativeRepository { return NewCreativeRepository(s.conn) }
