package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/SmachnoBot/internal/models"
	"github.com/digkill/SmachnoBot/internal/repository"
)

// Snapshot is the entitlement state derived from one read of the counters.
type Snapshot struct {
	FreeQuota         int
	FreeUsed          int
	FreeRemaining     int
	CompletedPayments int
	Granted           int
	PaidUsed          int
	PaidAvailable     int
	Corrected         bool
}

func (s Snapshot) Total() int {
	return s.FreeRemaining + s.PaidAvailable
}

// EntitlementService derives and charges generation allowances. Every read
// goes to the store.
type EntitlementService struct {
	store             *repository.Store
	log               *slog.Logger
	freeQuota         int
	creditsPerPayment int
	opts              options
}

func NewEntitlementService(store *repository.Store, log *slog.Logger, freeQuota, creditsPerPayment int, opts ...Option) *EntitlementService {
	if freeQuota < 0 {
		freeQuota = 0
	}
	if creditsPerPayment <= 0 {
		creditsPerPayment = 1
	}
	return &EntitlementService{
		store:             store,
		log:               log,
		freeQuota:         freeQuota,
		creditsPerPayment: creditsPerPayment,
		opts:              newOptions(opts),
	}
}

func (s *EntitlementService) FreeQuota() int { return s.freeQuota }

// Snapshot reads the counters for telegramID. Unknown users get the full
// free quota and no paid credits.
func (s *EntitlementService) Snapshot(ctx context.Context, telegramID int64) (Snapshot, error) {
	snap, err := s.snapshot(ctx, s.store, telegramID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read entitlements: %w", err)
	}
	return snap, nil
}

func (s *EntitlementService) AvailableFree(ctx context.Context, telegramID int64) (int, error) {
	snap, err := s.Snapshot(ctx, telegramID)
	return snap.FreeRemaining, err
}

func (s *EntitlementService) AvailablePaid(ctx context.Context, telegramID int64) (int, error) {
	snap, err := s.Snapshot(ctx, telegramID)
	return snap.PaidAvailable, err
}

func (s *EntitlementService) TotalAvailable(ctx context.Context, telegramID int64) (int, error) {
	snap, err := s.Snapshot(ctx, telegramID)
	return snap.Total(), err
}

// ConsumeOne charges one generation, free quota first. It returns
// ErrNoCredits when nothing is left; in that case no counter changes.
func (s *EntitlementService) ConsumeOne(ctx context.Context, telegramID int64) (models.CostType, Snapshot, error) {
	var (
		cost models.CostType
		snap Snapshot
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		now := s.opts.now().UTC()
		user, _, err := tx.Users().Ensure(ctx, telegramID, "", "", now)
		if err != nil {
			return err
		}
		snap, err = s.derive(ctx, tx, user)
		if err != nil {
			return err
		}

		if snap.FreeRemaining > 0 {
			ok, err := tx.Users().IncrementFreeUsed(ctx, user.ID, s.freeQuota, now)
			if err != nil {
				return err
			}
			if ok {
				cost = models.CostTypeFree
				snap.FreeUsed++
				snap.FreeRemaining--
				return nil
			}
		}
		if snap.PaidAvailable > 0 {
			ok, err := tx.Users().IncrementPaidUsed(ctx, user.ID, snap.Granted, now)
			if err != nil {
				return err
			}
			if ok {
				cost = models.CostTypePaid
				snap.PaidUsed++
				snap.PaidAvailable--
				return nil
			}
		}
		return ErrNoCredits
	})
	if err != nil {
		if errors.Is(err, ErrNoCredits) {
			return "", snap, ErrNoCredits
		}
		return "", Snapshot{}, fmt.Errorf("consume generation: %w", err)
	}
	s.opts.metrics.CreditConsumed(string(cost))
	s.log.Info("generation charged", "telegram_id", telegramID, "cost", cost, "remaining", snap.Total())
	return cost, snap, nil
}

func (s *EntitlementService) snapshot(ctx context.Context, store *repository.Store, telegramID int64) (Snapshot, error) {
	user, err := store.Users().FindByTelegramID(ctx, telegramID)
	if err != nil {
		return Snapshot{}, err
	}
	if user == nil {
		return Snapshot{FreeQuota: s.freeQuota, FreeRemaining: s.freeQuota}, nil
	}
	return s.derive(ctx, store, user)
}

func (s *EntitlementService) derive(ctx context.Context, store *repository.Store, user *models.User) (Snapshot, error) {
	completed, err := store.Payments().CountCompleted(ctx, user.ID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		FreeQuota:         s.freeQuota,
		FreeUsed:          user.FreeGenerationsUsed,
		CompletedPayments: completed,
		Granted:           completed * s.creditsPerPayment,
		PaidUsed:          user.PaidGenerationsUsed,
	}

	snap.FreeRemaining = s.freeQuota - user.FreeGenerationsUsed
	if snap.FreeRemaining < 0 {
		snap.FreeRemaining = 0
		snap.Corrected = true
	}
	used := user.PaidGenerationsUsed
	if used > snap.Granted {
		used = snap.Granted
		snap.Corrected = true
	}
	snap.PaidAvailable = snap.Granted - used

	if snap.Corrected {
		s.opts.metrics.EntitlementCorrected()
		s.log.Warn("entitlement counters out of range, clamped",
			"telegram_id", user.TelegramID,
			"free_used", user.FreeGenerationsUsed,
			"free_quota", s.freeQuota,
			"paid_used", user.PaidGenerationsUsed,
			"granted", snap.Granted,
		)
	}
	return snap, nil
}
