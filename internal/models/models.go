package models

import "time"

type CostType string

const (
	CostTypeFree CostType = "free"
	CostTypePaid CostType = "paid"
)

type Style string

const (
	StyleBright  Style = "bright"
	StylePremium Style = "premium"
	StyleCozy    Style = "cozy"
	StyleWedding Style = "wedding"
	StyleCustom  Style = "custom"
)

// User mirrors a row of the users table. Counters are only ever changed by
// repository methods called from the ledger and entitlement services.
type User struct {
	ID                  int64
	TelegramID          int64
	Username            string
	FirstName           string
	FreeGenerationsUsed int
	PaidGenerationsUsed int
	TotalGenerations    int
	TotalPaid           int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Payment is a payment intent. Reference is the order reference shared with
// the gateway; Amount is in minor units (kopecks).
type Payment struct {
	ID          int64
	Reference   string
	UserID      int64
	Amount      int64
	Currency    string
	Status      PaymentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

type Creative struct {
	ID                int64
	UserID            int64
	OriginalPhotoURL  string
	Prompt            string
	GeneratedImageURL string
	Caption           string
	CreatedAt         time.Time
}

type Stats struct {
	TotalUsers     int   `json:"total_users"`
	TotalCreatives int   `json:"total_creatives"`
	TotalRevenue   int64 `json:"total_revenue_minor"`
	PaidPayments   int   `json:"completed_payments"`
}
