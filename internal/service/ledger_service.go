package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/SmachnoBot/internal/models"
	"github.com/digkill/SmachnoBot/internal/orderref"
	"github.com/digkill/SmachnoBot/internal/repository"
)

const (
	maxLedgerAttempts = 3
	defaultCurrency   = "UAH"
)

// errLostRace aborts a ledger transaction whose compare-and-swap or insert
// lost to a concurrent writer. The caller retries from a fresh read.
var errLostRace = errors.New("lost ledger race")

// LedgerService owns payment intents and their status transitions. It is
// the only writer of payment rows and of users.total_paid.
type LedgerService struct {
	store *repository.Store
	log   *slog.Logger
	refs  *orderref.Sequence
	opts  options
}

func NewLedgerService(store *repository.Store, log *slog.Logger, opts ...Option) *LedgerService {
	o := newOptions(opts)
	return &LedgerService{
		store: store,
		log:   log,
		refs:  orderref.NewSequence(o.now),
		opts:  o,
	}
}

// StatusUpdate is a gateway report about one reference. Amount is in minor
// units and TelegramID may be zero when unknown.
type StatusUpdate struct {
	Reference  string
	Status     models.PaymentStatus
	Amount     int64
	Currency   string
	TelegramID int64
}

// Transition describes what ApplyStatus did.
type Transition struct {
	From    models.PaymentStatus
	To      models.PaymentStatus
	Created bool
	Changed bool
}

// Completed reports whether this call is the one that completed the payment.
func (t Transition) Completed() bool {
	return t.Changed && t.To == models.PaymentCompleted
}

// CreateIntent records a new pending payment with a fresh reference.
func (s *LedgerService) CreateIntent(ctx context.Context, telegramID int64, amount int64, currency string) (*models.Payment, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("create intent: amount must be positive")
	}
	if currency == "" {
		currency = defaultCurrency
	}

	var payment *models.Payment
	var err error
	for attempt := 0; attempt < maxLedgerAttempts; attempt++ {
		err = s.store.WithTx(ctx, func(ctx context.Context, tx *repository.Store) error {
			now := s.opts.now().UTC()
			user, _, err := tx.Users().Ensure(ctx, telegramID, "", "", now)
			if err != nil {
				return err
			}
			p := &models.Payment{
				Reference: s.refs.Next(telegramID),
				UserID:    user.ID,
				Amount:    amount,
				Currency:  currency,
				Status:    models.PaymentPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Payments().Create(ctx, p); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return errLostRace
				}
				return err
			}
			payment = p
			return nil
		})
		if !errors.Is(err, errLostRace) {
			break
		}
	}

	entry := OperationLog{Operation: "create_intent", TelegramID: telegramID, To: string(models.PaymentPending), Amount: amount, Error: err}
	if payment != nil {
		entry.Reference = payment.Reference
	}
	s.opts.logOperation(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	return payment, nil
}

// ApplyStatus reconciles one gateway report with the ledger. Replays and
// concurrent duplicates are no-ops. The payment row and its counter effect
// are written in one transaction.
func (s *LedgerService) ApplyStatus(ctx context.Context, upd StatusUpdate) (*models.Payment, Transition, error) {
	if upd.Reference == "" {
		return nil, Transition{}, fmt.Errorf("apply status: empty reference")
	}
	if !upd.Status.Valid() {
		return nil, Transition{}, fmt.Errorf("apply status %q: %w", upd.Status, ErrInvalidTransition)
	}

	var (
		payment *models.Payment
		tr      Transition
		err     error
	)
	for attempt := 0; attempt < maxLedgerAttempts; attempt++ {
		err = s.store.WithTx(ctx, func(ctx context.Context, tx *repository.Store) error {
			var txErr error
			payment, tr, txErr = s.applyInTx(ctx, tx, upd)
			return txErr
		})
		if !errors.Is(err, errLostRace) {
			break
		}
	}

	s.opts.logOperation(ctx, OperationLog{
		Operation:  "apply_status",
		Reference:  upd.Reference,
		TelegramID: upd.TelegramID,
		From:       string(tr.From),
		To:         string(upd.Status),
		Amount:     upd.Amount,
		Error:      err,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) && tr.From != "" {
			s.opts.metrics.TransitionRefused(string(tr.From), string(upd.Status))
		}
		return nil, Transition{}, fmt.Errorf("apply status %s: %w", upd.Reference, err)
	}
	if tr.Changed {
		s.opts.metrics.ObserveTransition(string(tr.From), string(tr.To))
	}
	return payment, tr, nil
}

func (s *LedgerService) applyInTx(ctx context.Context, tx *repository.Store, upd StatusUpdate) (*models.Payment, Transition, error) {
	now := s.opts.now().UTC()
	existing, err := tx.Payments().FindByReference(ctx, upd.Reference)
	if err != nil {
		return nil, Transition{}, err
	}
	if existing == nil {
		return s.heal(ctx, tx, upd)
	}

	tr := Transition{From: existing.Status, To: upd.Status}
	if existing.Status == upd.Status {
		return existing, tr, nil
	}
	if !existing.Status.CanTransitionTo(upd.Status) {
		tr.To = existing.Status
		return existing, tr, fmt.Errorf("%s -> %s: %w", existing.Status, upd.Status, ErrInvalidTransition)
	}

	ok, err := tx.Payments().CompareAndSetStatus(ctx, upd.Reference, existing.Status, upd.Status, now)
	if err != nil {
		return nil, Transition{}, err
	}
	if !ok {
		return nil, Transition{}, errLostRace
	}

	if upd.Amount > 0 && existing.Amount > 0 && upd.Amount != existing.Amount {
		s.log.Warn("gateway amount differs from intent", "reference", upd.Reference, "intent_amount", existing.Amount, "reported_amount", upd.Amount)
	}
	amount := existing.Amount
	if amount == 0 {
		amount = upd.Amount
	}
	switch {
	case upd.Status == models.PaymentCompleted:
		err = tx.Users().AddTotalPaid(ctx, existing.UserID, amount, now)
	case existing.Status == models.PaymentCompleted && upd.Status == models.PaymentRefunded:
		err = tx.Users().AddTotalPaid(ctx, existing.UserID, -amount, now)
	}
	if err != nil {
		return nil, Transition{}, err
	}

	existing.Status = upd.Status
	existing.UpdatedAt = now
	if upd.Status == models.PaymentCompleted {
		existing.CompletedAt = &now
	}
	tr.Changed = true
	return existing, tr, nil
}

// heal creates the missing intent directly in the reported status. The
// user comes from the update or, failing that, from the reference itself.
func (s *LedgerService) heal(ctx context.Context, tx *repository.Store, upd StatusUpdate) (*models.Payment, Transition, error) {
	now := s.opts.now().UTC()
	telegramID := upd.TelegramID
	if telegramID == 0 {
		id, ok := orderref.Decode(upd.Reference)
		if !ok {
			s.log.Error("cannot attribute payment without local record", "reference", upd.Reference, "status", upd.Status)
			return nil, Transition{}, ErrUserUnresolvable
		}
		telegramID = id
	}

	user, _, err := tx.Users().Ensure(ctx, telegramID, "", "", now)
	if err != nil {
		return nil, Transition{}, err
	}

	currency := upd.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	p := &models.Payment{
		Reference: upd.Reference,
		UserID:    user.ID,
		Amount:    upd.Amount,
		Currency:  currency,
		Status:    upd.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if upd.Status == models.PaymentCompleted {
		p.CompletedAt = &now
	}
	if err := tx.Payments().Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, Transition{}, errLostRace
		}
		return nil, Transition{}, err
	}
	if upd.Status == models.PaymentCompleted && upd.Amount > 0 {
		if err := tx.Users().AddTotalPaid(ctx, user.ID, upd.Amount, now); err != nil {
			return nil, Transition{}, err
		}
	}

	s.log.Warn("payment intent recreated from gateway report", "reference", upd.Reference, "telegram_id", telegramID, "status", upd.Status)
	return p, Transition{To: upd.Status, Created: true, Changed: true}, nil
}

// Payment returns the intent for reference, or nil.
func (s *LedgerService) Payment(ctx context.Context, reference string) (*models.Payment, error) {
	p, err := s.store.Payments().FindByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return p, nil
}
