package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/SmachnoBot/internal/models"
	"github.com/digkill/SmachnoBot/internal/wayforpay"
)

// freshPaymentWindow bounds how old a payment may be for its completion to
// trigger a user notification. Older completions are late redeliveries.
const freshPaymentWindow = 10 * time.Minute

// InvoiceGateway creates a checkout for a recorded intent.
type InvoiceGateway interface {
	CreateInvoice(ctx context.Context, order wayforpay.Order) (*wayforpay.Checkout, error)
	WidgetForm(order wayforpay.Order) wayforpay.FormData
}

// Notifier tells a user that a payment went through.
type Notifier interface {
	NotifyPaymentCompleted(ctx context.Context, telegramID int64, paidAvailable int) error
}

// PaymentService connects the chat layer and the webhook to the ledger.
type PaymentService struct {
	ledger       *LedgerService
	entitlements *EntitlementService
	gateway      InvoiceGateway
	verifier     *wayforpay.Verifier
	amount       int64
	currency     string
	log          *slog.Logger
	opts         options

	mu       sync.RWMutex
	notifier Notifier
}

func NewPaymentService(ledger *LedgerService, entitlements *EntitlementService, gateway InvoiceGateway, verifier *wayforpay.Verifier, amountMinor int64, currency string, log *slog.Logger, opts ...Option) *PaymentService {
	if currency == "" {
		currency = defaultCurrency
	}
	return &PaymentService{
		ledger:       ledger,
		entitlements: entitlements,
		gateway:      gateway,
		verifier:     verifier,
		amount:       amountMinor,
		currency:     currency,
		log:          log,
		opts:         newOptions(opts),
	}
}

// SetNotifier wires the chat layer after both sides are constructed.
func (s *PaymentService) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Checkout is what the chat layer shows on the pay button.
type Checkout struct {
	Reference     string
	URL           string
	AmountMinor   int64
	Currency      string
	DisplayAmount string
}

// Checkout records a new intent and asks the gateway for a payment page.
// The intent stays pending when the gateway call fails.
func (s *PaymentService) Checkout(ctx context.Context, telegramID int64) (*Checkout, error) {
	payment, err := s.ledger.CreateIntent(ctx, telegramID, s.amount, s.currency)
	if err != nil {
		return nil, err
	}
	co, err := s.gateway.CreateInvoice(ctx, orderFor(payment))
	if err != nil {
		s.log.Error("create invoice failed", "reference", payment.Reference, "telegram_id", telegramID, "err", err)
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	s.log.Info("checkout created", "reference", payment.Reference, "telegram_id", telegramID, "widget", co.Widget)
	return &Checkout{
		Reference:     payment.Reference,
		URL:           co.URL,
		AmountMinor:   payment.Amount,
		Currency:      payment.Currency,
		DisplayAmount: wayforpay.FormatMajor(payment.Amount) + " " + payment.Currency,
	}, nil
}

// HandleNotification verifies and applies one service-url callback and
// returns the acknowledgement for the gateway. Transitions the ledger
// refuses are acknowledged as well so the gateway stops redelivering.
func (s *PaymentService) HandleNotification(ctx context.Context, body []byte, contentType string) (*wayforpay.Acknowledgement, error) {
	n, err := wayforpay.ParseNotification(body, contentType)
	if err != nil {
		return nil, err
	}
	reference := string(n.OrderReference)

	if err := s.verifier.VerifyNotification(n); err != nil {
		s.opts.metrics.SignatureRejected()
		s.log.Warn("rejected payment notification", "reference", reference, "transaction_status", string(n.TransactionStatus), "err", err)
		return nil, err
	}

	amount, err := n.AmountMinor()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wayforpay.ErrMalformedNotification, err)
	}

	payment, tr, err := s.ledger.ApplyStatus(ctx, StatusUpdate{
		Reference: reference,
		Status:    n.PaymentStatus(),
		Amount:    amount,
		Currency:  string(n.Currency),
	})
	switch {
	case errors.Is(err, ErrInvalidTransition) && n.PaymentStatus() == models.PaymentCompleted:
		// The payer was charged but the ledger keeps the earlier terminal
		// status. Needs a manual credit.
		s.log.Error("approved payment refused by ledger", "reference", reference, "transaction_status", string(n.TransactionStatus), "amount", amount, "err", err)
	case errors.Is(err, ErrInvalidTransition):
		s.log.Warn("ignored out-of-order payment notification", "reference", reference, "transaction_status", string(n.TransactionStatus), "err", err)
	case err != nil:
		return nil, err
	default:
		s.log.Info("payment notification applied", "reference", reference, "from", tr.From, "to", tr.To, "changed", tr.Changed)
		if tr.Completed() {
			s.notifyCompleted(ctx, payment)
		}
	}

	ack := wayforpay.Acknowledge(s.verifier.PrimaryKey(), reference, s.opts.now())
	return &ack, nil
}

func (s *PaymentService) notifyCompleted(ctx context.Context, payment *models.Payment) {
	s.mu.RLock()
	notifier := s.notifier
	s.mu.RUnlock()
	if notifier == nil || payment == nil {
		return
	}
	if s.opts.now().Sub(payment.CreatedAt) > freshPaymentWindow {
		return
	}
	telegramID, ok := s.ownerOf(ctx, payment)
	if !ok {
		return
	}
	paid, err := s.entitlements.AvailablePaid(ctx, telegramID)
	if err != nil {
		s.log.Error("read balance for payment notice", "telegram_id", telegramID, "err", err)
		return
	}
	if err := notifier.NotifyPaymentCompleted(ctx, telegramID, paid); err != nil {
		s.log.Error("send payment notice", "telegram_id", telegramID, "reference", payment.Reference, "err", err)
	}
}

func (s *PaymentService) ownerOf(ctx context.Context, payment *models.Payment) (int64, bool) {
	user, err := s.ledger.store.Users().FindByID(ctx, payment.UserID)
	if err != nil || user == nil {
		s.log.Error("resolve payment owner", "reference", payment.Reference, "user_id", payment.UserID, "err", err)
		return 0, false
	}
	return user.TelegramID, true
}

// PaymentState returns the ledger status of reference, or "" when unknown.
func (s *PaymentService) PaymentState(ctx context.Context, reference string) (models.PaymentStatus, error) {
	p, err := s.ledger.Payment(ctx, reference)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", nil
	}
	return p.Status, nil
}

// WidgetForm builds the hosted payment form for a pending intent. Amount
// and date come from the ledger, not from the request.
func (s *PaymentService) WidgetForm(ctx context.Context, reference string) (wayforpay.FormData, error) {
	p, err := s.ledger.Payment(ctx, reference)
	if err != nil {
		return wayforpay.FormData{}, err
	}
	if p == nil {
		return wayforpay.FormData{}, ErrUnknownPayment
	}
	if p.Status != models.PaymentPending {
		return wayforpay.FormData{}, fmt.Errorf("payment %s is %s: %w", reference, p.Status, ErrInvalidTransition)
	}
	return s.gateway.WidgetForm(orderFor(p)), nil
}

func orderFor(p *models.Payment) wayforpay.Order {
	return wayforpay.Order{
		Reference:   p.Reference,
		Date:        p.CreatedAt,
		AmountMinor: p.Amount,
		Currency:    p.Currency,
	}
}
