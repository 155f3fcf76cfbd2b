package wayforpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAPIURL  = "https://api.wayforpay.com/api"
	PayURL         = "https://secure.wayforpay.com/pay"
	DefaultProduct = "Generation of creative for Instagram"

	reasonOK               = 1100
	reasonInvalidSignature = 1113
)

var ErrInvoiceRejected = errors.New("wayforpay: invoice rejected")

type Config struct {
	MerchantAccount    string
	MerchantDomainName string
	SecretKey          string
	MerchantPassword   string
	ProductName        string
	APIURL             string
	AppURL             string
	UseWidget          bool
	Timeout            time.Duration
}

// Client creates hosted invoices and widget forms for order references.
type Client struct {
	cfg        Config
	keys       []string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.ProductName == "" {
		cfg.ProductName = DefaultProduct
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &Client{
		cfg:        cfg,
		keys:       NewVerifier(cfg.SecretKey, cfg.MerchantPassword).Keys(),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

type Order struct {
	Reference   string
	Date        time.Time
	AmountMinor int64
	Currency    string
}

// Checkout is where the user is sent to pay.
type Checkout struct {
	Reference string
	URL       string
	Widget    bool
}

type invoiceRequest struct {
	TransactionType    string   `json:"transactionType"`
	APIVersion         int      `json:"apiVersion"`
	MerchantAccount    string   `json:"merchantAccount"`
	MerchantDomainName string   `json:"merchantDomainName"`
	MerchantSignature  string   `json:"merchantSignature"`
	OrderReference     string   `json:"orderReference"`
	OrderDate          int64    `json:"orderDate"`
	Amount             string   `json:"amount"`
	Currency           string   `json:"currency"`
	ProductName        []string `json:"productName"`
	ProductCount       []int    `json:"productCount"`
	ProductPrice       []string `json:"productPrice"`
	ReturnURL          string   `json:"returnUrl,omitempty"`
	ServiceURL         string   `json:"serviceUrl,omitempty"`
}

type invoiceResponse struct {
	Reason     string `json:"reason"`
	ReasonCode int    `json:"reasonCode"`
	InvoiceURL string `json:"invoiceUrl"`
	URL        string `json:"url"`
}

// CreateInvoice registers the order with the gateway. A rejected signature
// is retried once with the alternate key; after that, or when widget mode
// is configured, the hosted widget form is used instead.
func (c *Client) CreateInvoice(ctx context.Context, order Order) (*Checkout, error) {
	if c.cfg.MerchantAccount == "" || len(c.keys) == 0 {
		return nil, fmt.Errorf("wayforpay merchant credentials are not configured")
	}
	if c.cfg.UseWidget {
		return c.widgetCheckout(order), nil
	}

	var lastErr error
	for i, key := range c.keys {
		resp, err := c.postInvoice(ctx, c.invoicePayload(order, key))
		if err != nil {
			return nil, err
		}
		if u := firstNonEmpty(resp.InvoiceURL, resp.URL); u != "" {
			return &Checkout{Reference: order.Reference, URL: u}, nil
		}
		lastErr = fmt.Errorf("%w: reason=%q code=%d", ErrInvoiceRejected, resp.Reason, resp.ReasonCode)
		if resp.ReasonCode != reasonInvalidSignature {
			return nil, lastErr
		}
		if c.log != nil {
			c.log.Warn("wayforpay rejected invoice signature", "reference", order.Reference, "key_index", i)
		}
	}

	if c.cfg.AppURL == "" {
		return nil, lastErr
	}
	if c.log != nil {
		c.log.Warn("falling back to wayforpay widget", "reference", order.Reference)
	}
	return c.widgetCheckout(order), nil
}

func (c *Client) invoicePayload(order Order, key string) invoiceRequest {
	amount := FormatMajor(order.AmountMinor)
	req := invoiceRequest{
		TransactionType:    "CREATE_INVOICE",
		APIVersion:         1,
		MerchantAccount:    c.cfg.MerchantAccount,
		MerchantDomainName: c.cfg.MerchantDomainName,
		OrderReference:     order.Reference,
		OrderDate:          order.Date.Unix(),
		Amount:             amount,
		Currency:           order.Currency,
		ProductName:        []string{c.cfg.ProductName},
		ProductCount:       []int{1},
		ProductPrice:       []string{amount},
	}
	if c.cfg.AppURL != "" {
		req.ReturnURL = c.cfg.AppURL + "/payment/callback"
		req.ServiceURL = c.cfg.AppURL + "/payment/webhook"
	}
	req.MerchantSignature = Sign(key, c.purchaseFields(order))
	return req
}

// purchaseFields are the values signed for both invoices and widget forms.
func (c *Client) purchaseFields(order Order) []string {
	amount := FormatMajor(order.AmountMinor)
	return []string{
		c.cfg.MerchantAccount,
		c.cfg.MerchantDomainName,
		order.Reference,
		strconv.FormatInt(order.Date.Unix(), 10),
		amount,
		order.Currency,
		c.cfg.ProductName,
		"1",
		amount,
	}
}

func (c *Client) postInvoice(ctx context.Context, payload invoiceRequest) (*invoiceResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post wayforpay: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var parsed invoiceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode invoice response: status=%d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 && parsed.ReasonCode == 0 {
		return nil, fmt.Errorf("wayforpay error: status=%d reason=%q", resp.StatusCode, parsed.Reason)
	}
	return &parsed, nil
}

func (c *Client) widgetCheckout(order Order) *Checkout {
	return &Checkout{
		Reference: order.Reference,
		URL:       c.cfg.AppURL + "/payment/form/" + url.PathEscape(order.Reference),
		Widget:    true,
	}
}

// FormData holds the hidden inputs of the auto-submitting widget form.
type FormData struct {
	Action             string
	MerchantAccount    string
	MerchantDomainName string
	OrderReference     string
	OrderDate          int64
	Amount             string
	Currency           string
	ProductName        string
	ProductCount       int
	ProductPrice       string
	ReturnURL          string
	ServiceURL         string
	MerchantSignature  string
}

// WidgetForm signs the order for the hosted payment page. The merchant
// password is preferred here, matching what the widget validates against.
func (c *Client) WidgetForm(order Order) FormData {
	key := c.cfg.MerchantPassword
	if key == "" {
		key = c.cfg.SecretKey
	}
	amount := FormatMajor(order.AmountMinor)
	form := FormData{
		Action:             PayURL,
		MerchantAccount:    c.cfg.MerchantAccount,
		MerchantDomainName: c.cfg.MerchantDomainName,
		OrderReference:     order.Reference,
		OrderDate:          order.Date.Unix(),
		Amount:             amount,
		Currency:           order.Currency,
		ProductName:        c.cfg.ProductName,
		ProductCount:       1,
		ProductPrice:       amount,
		MerchantSignature:  Sign(key, c.purchaseFields(order)),
	}
	if c.cfg.AppURL != "" {
		form.ReturnURL = c.cfg.AppURL + "/payment/callback"
		form.ServiceURL = c.cfg.AppURL + "/payment/webhook"
	}
	return form
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
