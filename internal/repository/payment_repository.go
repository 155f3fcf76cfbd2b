package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/digkill/SmachnoBot/internal/models"
)

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts an intent. Reusing a reference surfaces as ErrDuplicate.
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	const query = `
INSERT INTO payments (payment_id, user_id, amount, currency, status, created_at, updated_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	var completedAt sql.NullTime
	if p.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *p.CompletedAt, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, query, p.Reference, p.UserID, p.Amount, p.Currency, string(p.Status), p.CreatedAt, p.UpdatedAt, completedAt)
	if err != nil {
		return wrap(subjectPayment, codeInsert, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrap(subjectPayment, codeInsert, err)
	}
	p.ID = id
	return nil
}

func (r *PaymentRepository) FindByReference(ctx context.Context, reference string) (*models.Payment, error) {
	const query = `
SELECT id, payment_id, user_id, amount, currency, status, created_at, updated_at, completed_at
FROM payments WHERE payment_id = ?`
	var (
		p           models.Payment
		status      string
		completedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, reference).Scan(&p.ID, &p.Reference, &p.UserID, &p.Amount, &p.Currency, &status, &p.CreatedAt, &p.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap(subjectPayment, codeLookup, err)
	}
	p.Status = models.PaymentStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

// CompareAndSetStatus moves the payment from one status to another only if
// it is still in from. It reports false when another writer got there
// first. completed_at is stamped when the new status is completed and kept
// otherwise.
func (r *PaymentRepository) CompareAndSetStatus(ctx context.Context, reference string, from, to models.PaymentStatus, now time.Time) (bool, error) {
	query := `UPDATE payments SET status = ?, updated_at = ? WHERE payment_id = ? AND status = ?`
	args := []any{string(to), now, reference, string(from)}
	if to == models.PaymentCompleted {
		query = `UPDATE payments SET status = ?, updated_at = ?, completed_at = ? WHERE payment_id = ? AND status = ?`
		args = []any{string(to), now, now, reference, string(from)}
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, wrap(subjectPayment, codeUpdate, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrap(subjectPayment, codeUpdate, err)
	}
	return affected > 0, nil
}

func (r *PaymentRepository) CountCompleted(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE user_id = ? AND status = ?`, userID, string(models.PaymentCompleted)).Scan(&n)
	if err != nil {
		return 0, wrap(subjectPayment, codeCount, err)
	}
	return n, nil
}

// CompletedTotals returns the number and summed amount of completed
// payments across all users.
func (r *PaymentRepository) CompletedTotals(ctx context.Context) (int, int64, error) {
	var (
		n   int
		sum int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM payments WHERE status = ?`, string(models.PaymentCompleted)).Scan(&n, &sum)
	if err != nil {
		return 0, 0, wrap(subjectPayment, codeCount, err)
	}
	return n, sum, nil
}
