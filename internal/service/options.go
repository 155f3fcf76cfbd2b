package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/digkill/SmachnoBot/internal/metrics"
)

var (
	ErrNoCredits            = errors.New("no generations left, payment required")
	ErrUserUnresolvable     = errors.New("payment user cannot be resolved")
	ErrInvalidTransition    = errors.New("payment status transition not allowed")
	ErrUnknownUser          = errors.New("user not found")
	ErrUnknownPayment       = errors.New("payment not found")
	ErrGenerationInProgress = errors.New("generation already being prepared for this user")
)

const (
	operationStatusOK    = "ok"
	operationStatusError = "error"
)

// Option configures the ledger, entitlement, payment and generation services.
type Option func(*options)

type options struct {
	now     func() time.Time
	metrics *metrics.Metrics
	opLog   OperationLogger
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithOperationLogger wires a logger that receives every ledger operation.
func WithOperationLogger(logger OperationLogger) Option {
	return func(o *options) { o.opLog = logger }
}

// OperationLogger records state-changing ledger operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

type OperationLog struct {
	Operation  string
	Reference  string
	TelegramID int64
	From       string
	To         string
	Amount     int64
	Status     string
	Error      error
}

// SlogOperationLogger writes operation records through slog.
type SlogOperationLogger struct {
	Log *slog.Logger
}

func (l SlogOperationLogger) LogOperation(ctx context.Context, entry OperationLog) {
	if l.Log == nil {
		return
	}
	level := slog.LevelInfo
	attrs := []any{
		"operation", entry.Operation,
		"reference", entry.Reference,
		"telegram_id", entry.TelegramID,
		"from", entry.From,
		"to", entry.To,
		"amount", entry.Amount,
		"status", entry.Status,
	}
	if entry.Error != nil {
		level = slog.LevelError
		attrs = append(attrs, "err", entry.Error)
	}
	l.Log.Log(ctx, level, "ledger operation", attrs...)
}

func (o options) logOperation(ctx context.Context, entry OperationLog) {
	if o.opLog == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	o.opLog.LogOperation(ctx, entry)
}
