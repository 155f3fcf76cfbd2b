package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/digkill/SmachnoBot/internal/models"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, telegram_id, COALESCE(username, ''), COALESCE(first_name, ''), free_generations_used, paid_generations_used, total_generations, total_paid, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.FreeGenerationsUsed, &u.PaidGenerationsUsed, &u.TotalGenerations, &u.TotalPaid, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap(subjectUser, codeLookup, err)
	}
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap(subjectUser, codeLookup, err)
	}
	return u, nil
}

// Create inserts a user with zeroed counters. A concurrent insert of the
// same telegram id surfaces as ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user *models.User, now time.Time) error {
	const query = `
INSERT INTO users (telegram_id, username, first_name, free_generations_used, paid_generations_used, total_generations, total_paid, created_at, updated_at)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), 0, 0, 0, 0, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, user.TelegramID, user.Username, user.FirstName, now, now)
	if err != nil {
		return wrap(subjectUser, codeInsert, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrap(subjectUser, codeInsert, err)
	}
	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID int64, username, firstName string, now time.Time) error {
	const query = `
UPDATE users SET username = COALESCE(NULLIF(?, ''), username), first_name = COALESCE(NULLIF(?, ''), first_name), updated_at = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, username, firstName, now, userID); err != nil {
		return wrap(subjectUser, codeUpdate, err)
	}
	return nil
}

// Ensure returns the user for telegramID, creating it when absent. created
// reports whether this call inserted the row.
func (r *UserRepository) Ensure(ctx context.Context, telegramID int64, username, firstName string, now time.Time) (*models.User, bool, error) {
	user, err := r.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		if (username != "" && username != user.Username) || (firstName != "" && firstName != user.FirstName) {
			if err := r.UpdateProfile(ctx, user.ID, username, firstName, now); err != nil {
				return nil, false, err
			}
			if username != "" {
				user.Username = username
			}
			if firstName != "" {
				user.FirstName = firstName
			}
		}
		return user, false, nil
	}

	user = &models.User{TelegramID: telegramID, Username: username, FirstName: firstName}
	if err := r.Create(ctx, user, now); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return nil, false, err
		}
		existing, findErr := r.FindByTelegramID(ctx, telegramID)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing == nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return user, true, nil
}

// IncrementFreeUsed charges one free generation if fewer than quota have
// been used. It reports false when the quota is already exhausted.
func (r *UserRepository) IncrementFreeUsed(ctx context.Context, userID int64, quota int, now time.Time) (bool, error) {
	const query = `
UPDATE users SET free_generations_used = free_generations_used + 1, total_generations = total_generations + 1, updated_at = ?
WHERE id = ? AND free_generations_used < ?`
	return r.conditionalUpdate(ctx, query, now, userID, quota)
}

// IncrementPaidUsed charges one paid credit if fewer than granted have been
// used.
func (r *UserRepository) IncrementPaidUsed(ctx context.Context, userID int64, granted int, now time.Time) (bool, error) {
	const query = `
UPDATE users SET paid_generations_used = paid_generations_used + 1, total_generations = total_generations + 1, updated_at = ?
WHERE id = ? AND paid_generations_used < ?`
	return r.conditionalUpdate(ctx, query, now, userID, granted)
}

func (r *UserRepository) conditionalUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, wrap(subjectUser, codeUpdate, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrap(subjectUser, codeUpdate, err)
	}
	return affected > 0, nil
}

// AddTotalPaid adjusts the lifetime paid total by delta minor units. The
// result never drops below zero.
func (r *UserRepository) AddTotalPaid(ctx context.Context, userID int64, delta int64, now time.Time) error {
	const query = `
UPDATE users SET total_paid = CASE WHEN total_paid + ? < 0 THEN 0 ELSE total_paid + ? END, updated_at = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, delta, delta, now, userID); err != nil {
		return wrap(subjectUser, codeUpdate, err)
	}
	return nil
}

func (r *UserRepository) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT telegram_id FROM users ORDER BY id`)
	if err != nil {
		return nil, wrap(subjectUser, codeList, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrap(subjectUser, codeList, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(subjectUser, codeList, err)
	}
	return ids, nil
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, wrap(subjectUser, codeCount, err)
	}
	return n, nil
}
