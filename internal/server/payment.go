package server

import (
	"errors"
	"html/template"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/SmachnoBot/internal/models"
	"github.com/digkill/SmachnoBot/internal/service"
	"github.com/digkill/SmachnoBot/internal/wayforpay"
)

const maxNotificationBody = 1 << 20

// handleWebhook answers 400 for bodies that are malformed or not signed by
// the merchant, and 500 for anything else so the gateway redelivers.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}

	ack, err := s.payments.HandleNotification(r.Context(), body, r.Header.Get("Content-Type"))
	switch {
	case errors.Is(err, wayforpay.ErrInvalidSignature):
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	case errors.Is(err, wayforpay.ErrMalformedNotification):
		s.log.Warn("malformed payment notification", "err", err)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	case err != nil:
		s.log.Error("payment notification failed", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, ack)
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomePending
	outcomeFailure
)

// handleCallback is where the payer's browser lands. It never changes the
// ledger.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	reference := r.FormValue("orderReference")
	status := r.FormValue("transactionStatus")

	result := outcomeSuccess
	switch {
	case status != "":
		result = outcomeFromPayment(wayforpay.StatusFromTransaction(status))
	case reference != "":
		state, err := s.payments.PaymentState(r.Context(), reference)
		if err != nil {
			s.log.Error("payment callback lookup", "reference", reference, "err", err)
			s.renderPage(w, http.StatusInternalServerError, pageError)
			return
		}
		result = outcomeFromPayment(state)
	}

	switch result {
	case outcomeSuccess:
		s.renderPage(w, http.StatusOK, pageSuccess)
	case outcomePending:
		s.renderPage(w, http.StatusOK, pagePending)
	default:
		s.renderPage(w, http.StatusOK, pageFailure)
	}
}

func outcomeFromPayment(status models.PaymentStatus) outcome {
	switch status {
	case models.PaymentCompleted:
		return outcomeSuccess
	case models.PaymentFailed, models.PaymentRefunded:
		return outcomeFailure
	default:
		return outcomePending
	}
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "orderReference")
	if reference == "" {
		http.Error(w, "Missing orderReference", http.StatusBadRequest)
		return
	}

	form, err := s.payments.WidgetForm(r.Context(), reference)
	switch {
	case errors.Is(err, service.ErrUnknownPayment):
		http.Error(w, "Payment not found", http.StatusNotFound)
		return
	case errors.Is(err, service.ErrInvalidTransition):
		http.Error(w, "Payment already processed", http.StatusConflict)
		return
	case err != nil:
		s.log.Error("payment form", "reference", reference, "err", err)
		s.renderPage(w, http.StatusInternalServerError, pageError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := wayforpay.RenderForm(w, form); err != nil {
		s.log.Error("render payment form", "reference", reference, "err", err)
	}
}

type page struct {
	Title   string
	Heading string
	Color   string
	Text    string
}

var (
	pageSuccess = page{"Оплата успішна", "✅ Оплата успішна!", "#4CAF50", "Поверніться до Telegram-бота та створіть новий креатив."}
	pagePending = page{"Оплата обробляється", "⏳ Оплата обробляється", "#FF9800", "Ми повідомимо вас у Telegram, щойно платіж буде підтверджено."}
	pageFailure = page{"Помилка оплати", "❌ Помилка оплати", "#f44336", "Спробуйте ще раз або зверніться до підтримки."}
	pageError   = page{"Помилка", "Помилка обробки запиту", "#333333", "Спробуйте ще раз пізніше."}
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="uk">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
</head>
<body style="font-family: Arial, sans-serif; text-align: center; padding: 50px; background: #f5f5f5;">
<div style="background: white; padding: 40px; border-radius: 10px; max-width: 500px; margin: 0 auto;">
<h1 style="color: {{.Color}};">{{.Heading}}</h1>
<p>{{.Text}}</p>
<p style="color: #666; font-size: 14px;">Ви можете закрити цю сторінку.</p>
</div>
</body>
</html>
`))

func (s *Server) renderPage(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, p); err != nil {
		s.log.Error("render page", "err", err)
	}
}
