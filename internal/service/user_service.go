package service

import (
	"context"
	"fmt"
	"time"

	"github.com/digkill/SmachnoBot/internal/models"
	"github.com/digkill/SmachnoBot/internal/repository"
)

type UserService struct {
	store *repository.Store
	now   func() time.Time
}

func NewUserService(store *repository.Store) *UserService {
	return &UserService{store: store, now: time.Now}
}

func (s *UserService) Ensure(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error) {
	user, created, err := s.store.Users().Ensure(ctx, telegramID, username, firstName, s.now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	return user, created, nil
}

func (s *UserService) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.store.Users().ListTelegramIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	return ids, nil
}

// Stats aggregates the admin dashboard numbers. Revenue counts completed
// payments only.
func (s *UserService) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	var err error
	if stats.TotalUsers, err = s.store.Users().Count(ctx); err != nil {
		return models.Stats{}, fmt.Errorf("count users: %w", err)
	}
	if stats.TotalCreatives, err = s.store.Creatives().Count(ctx); err != nil {
		return models.Stats{}, fmt.Errorf("count creatives: %w", err)
	}
	if stats.PaidPayments, stats.TotalRevenue, err = s.store.Payments().CompletedTotals(ctx); err != nil {
		return models.Stats{}, fmt.Errorf("sum payments: %w", err)
	}
	return stats, nil
}
