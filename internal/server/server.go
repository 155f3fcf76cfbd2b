// Package server exposes the payment gateway callbacks, health probes,
// metrics and the admin endpoints over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digkill/SmachnoBot/internal/models"
	"github.com/digkill/SmachnoBot/internal/wayforpay"
)

const serviceName = "Смачно.AI Bot & Webhook Server"

// Payments is the part of the payment service the HTTP layer drives.
type Payments interface {
	HandleNotification(ctx context.Context, body []byte, contentType string) (*wayforpay.Acknowledgement, error)
	PaymentState(ctx context.Context, reference string) (models.PaymentStatus, error)
	WidgetForm(ctx context.Context, reference string) (wayforpay.FormData, error)
}

type Users interface {
	Stats(ctx context.Context) (models.Stats, error)
	ListTelegramIDs(ctx context.Context) ([]int64, error)
}

// Broadcaster delivers an admin message to one chat.
type Broadcaster interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	Addr          string
	AdminUsername string
	AdminPassword string
}

type Server struct {
	cfg       Config
	log       *slog.Logger
	payments  Payments
	users     Users
	broadcast Broadcaster
	gatherer  prometheus.Gatherer
	started   time.Time
	router    *chi.Mux
}

func New(cfg Config, log *slog.Logger, payments Payments, users Users, broadcast Broadcaster, gatherer prometheus.Gatherer) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:       cfg,
		log:       log,
		payments:  payments,
		users:     users,
		broadcast: broadcast,
		gatherer:  gatherer,
		started:   time.Now(),
		router:    r,
	}

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealthz)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/payment", func(r chi.Router) {
		r.Post("/webhook", s.handleWebhook)
		r.Get("/callback", s.handleCallback)
		r.Post("/callback", s.handleCallback)
		r.Get("/form/{orderReference}", s.handleForm)
	})

	if cfg.AdminPassword != "" {
		r.Route("/admin", func(protected chi.Router) {
			protected.Use(s.basicAuthMiddleware())
			protected.Get("/stats", s.handleStats)
			protected.Post("/broadcast", s.handleBroadcast)
		})
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.cfg.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.users.Stats(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}
	if s.broadcast == nil {
		http.Error(w, "broadcast unavailable", http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	ids, err := s.users.ListTelegramIDs(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}

	count := 0
	for _, id := range ids {
		if err := s.broadcast.SendText(ctx, id, req.Message); err != nil {
			s.log.Error("send broadcast", "telegram_id", id, "err", err)
			continue
		}
		count++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  count,
		"total": len(ids),
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !secureEqual(user, s.cfg.AdminUsername) || !secureEqual(pass, s.cfg.AdminPassword) {
				w.Header().Set("WWW-Authenticate", `Basic realm="smachno"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("http handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
