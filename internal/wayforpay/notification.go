package wayforpay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/digkill/SmachnoBot/internal/models"
)

var ErrMalformedNotification = errors.New("wayforpay: malformed notification")

const (
	TransactionApproved            = "Approved"
	TransactionDeclined            = "Declined"
	TransactionExpired             = "Expired"
	TransactionRefunded            = "Refunded"
	TransactionVoided              = "Voided"
	TransactionInProcessing        = "InProcessing"
	TransactionWaitingAuthComplete = "WaitingAuthComplete"
	TransactionPending             = "Pending"
	TransactionRefundInProcessing  = "RefundInProcessing"
)

// Field is a notification value the gateway may send as a JSON string,
// number or null. The raw text is kept because it takes part in the
// signature.
type Field string

func (f *Field) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = Field(s)
	default:
		*f = Field(data)
	}
	return nil
}

func (f Field) String() string { return string(f) }

// Notification is the service-url callback body.
type Notification struct {
	MerchantAccount   Field `json:"merchantAccount"`
	OrderReference    Field `json:"orderReference"`
	MerchantSignature Field `json:"merchantSignature"`
	Amount            Field `json:"amount"`
	Currency          Field `json:"currency"`
	AuthCode          Field `json:"authCode"`
	Email             Field `json:"email"`
	Phone             Field `json:"phone"`
	CreatedDate       Field `json:"createdDate"`
	ProcessingDate    Field `json:"processingDate"`
	CardPan           Field `json:"cardPan"`
	CardType          Field `json:"cardType"`
	IssuerBankCountry Field `json:"issuerBankCountry"`
	IssuerBankName    Field `json:"issuerBankName"`
	TransactionStatus Field `json:"transactionStatus"`
	Reason            Field `json:"reason"`
	ReasonCode        Field `json:"reasonCode"`
	Fee               Field `json:"fee"`
	PaymentSystem     Field `json:"paymentSystem"`
}

// SignatureFields returns the values covered by merchantSignature, in order.
func (n *Notification) SignatureFields() []string {
	return []string{
		string(n.MerchantAccount),
		string(n.OrderReference),
		string(n.Amount),
		string(n.Currency),
		string(n.AuthCode),
		string(n.CardPan),
		string(n.TransactionStatus),
		string(n.ReasonCode),
	}
}

// AmountMinor converts the major-unit amount to minor units. An absent
// amount yields 0.
func (n *Notification) AmountMinor() (int64, error) {
	return ParseMinor(string(n.Amount))
}

// PaymentStatus maps the gateway transaction status onto the ledger status.
func (n *Notification) PaymentStatus() models.PaymentStatus {
	return StatusFromTransaction(string(n.TransactionStatus))
}

func StatusFromTransaction(transactionStatus string) models.PaymentStatus {
	switch transactionStatus {
	case TransactionApproved:
		return models.PaymentCompleted
	case TransactionRefunded, TransactionVoided:
		return models.PaymentRefunded
	case TransactionDeclined, TransactionExpired:
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}

// ParseNotification decodes a callback body. Besides plain JSON it accepts
// the form-encoded variant in which the whole JSON document arrives as the
// first form key, and ordinary form fields.
func ParseNotification(body []byte, contentType string) (*Notification, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedNotification)
	}

	if body[0] == '{' {
		return decodeJSON(trimFormSuffix(body))
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "" && mediaType != "application/x-www-form-urlencoded" {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrMalformedNotification, contentType)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if values.Has("orderReference") {
		return fromForm(values), nil
	}
	for key := range values {
		if strings.HasPrefix(strings.TrimSpace(key), "{") {
			return decodeJSON([]byte(key))
		}
	}
	return nil, fmt.Errorf("%w: no order reference", ErrMalformedNotification)
}

func decodeJSON(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if n.OrderReference == "" {
		return nil, fmt.Errorf("%w: no order reference", ErrMalformedNotification)
	}
	return &n, nil
}

func trimFormSuffix(body []byte) []byte {
	if bytes.HasSuffix(body, []byte("=")) {
		return bytes.TrimSuffix(body, []byte("="))
	}
	return body
}

func fromForm(values url.Values) *Notification {
	return &Notification{
		MerchantAccount:   Field(values.Get("merchantAccount")),
		OrderReference:    Field(values.Get("orderReference")),
		MerchantSignature: Field(values.Get("merchantSignature")),
		Amount:            Field(values.Get("amount")),
		Currency:          Field(values.Get("currency")),
		AuthCode:          Field(values.Get("authCode")),
		Email:             Field(values.Get("email")),
		Phone:             Field(values.Get("phone")),
		CardPan:           Field(values.Get("cardPan")),
		CardType:          Field(values.Get("cardType")),
		TransactionStatus: Field(values.Get("transactionStatus")),
		Reason:            Field(values.Get("reason")),
		ReasonCode:        Field(values.Get("reasonCode")),
	}
}

// Acknowledgement is the body the gateway expects back from the service url.
type Acknowledgement struct {
	OrderReference string `json:"orderReference"`
	Status         string `json:"status"`
	Time           int64  `json:"time"`
	Signature      string `json:"signature"`
}

func Acknowledge(key, reference string, now time.Time) Acknowledgement {
	ts := now.Unix()
	return Acknowledgement{
		OrderReference: reference,
		Status:         "accept",
		Time:           ts,
		Signature:      Sign(key, []string{reference, "accept", strconv.FormatInt(ts, 10)}),
	}
}

// ParseMinor converts "30", "30.5" or "30.50" major units into minor units.
// More than two fractional digits, signs and overflow are rejected.
func ParseMinor(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, nil
	}
	whole, frac, hasFrac := strings.Cut(amount, ".")
	if !digitsOnly(whole) || (hasFrac && !digitsOnly(frac)) || len(frac) > 2 {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || major > (math.MaxInt64-99)/100 {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	var minor int64
	if frac != "" {
		minor, _ = strconv.ParseInt(frac, 10, 64)
		if len(frac) == 1 {
			minor *= 10
		}
	}
	return major*100 + minor, nil
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatMajor renders minor units the way the gateway expects amounts:
// "30" for whole values, "30.50" otherwise.
func FormatMajor(minor int64) string {
	if minor%100 == 0 {
		return strconv.FormatInt(minor/100, 10)
	}
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
