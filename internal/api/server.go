package api

import (
	"net/http"
	"time"

	"trade_desk/internal/auth"
	"trade_desk/internal/domain"
	"trade_desk/internal/infra"
	"trade_desk/internal/ledger"
	"trade_desk/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the collaborators behind the request-style surface.
type Deps struct {
	Auth       *auth.Verifier
	Ledger     *ledger.Store
	Wallet     *service.Wallet
	Moderator  *service.Moderator
	Chat       *service.ChatRelay
	Currencies domain.CurrencyRepository
	Icons      *infra.IconDownloader // optional
	Publisher  domain.Publisher
	Metrics    *infra.Metrics
	WS         http.Handler // optional
}

type Server struct {
	auth       *auth.Verifier
	ledger     *ledger.Store
	wallet     *service.Wallet
	moderator  *service.Moderator
	chat       *service.ChatRelay
	currencies domain.CurrencyRepository
	icons      *infra.IconDownloader
	pub        domain.Publisher
	metrics    *infra.Metrics
	ws         http.Handler
	started    time.Time
}

func NewServer(d Deps) *Server {
	metrics := d.Metrics
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Server{
		auth:       d.Auth,
		ledger:     d.Ledger,
		wallet:     d.Wallet,
		moderator:  d.Moderator,
		chat:       d.Chat,
		currencies: d.Currencies,
		icons:      d.Icons,
		pub:        d.Publisher,
		metrics:    metrics,
		ws:         d.WS,
		started:    time.Now(),
	}
}

// Routes builds the router. Every endpoint is served both at the root and under /api.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}

	r.Group(s.mount)
	r.Route("/api", s.mount)
	return r
}

func (s *Server) mount(r chi.Router) {
	r.Post("/register", s.register)
	r.Post("/login", s.login)
	r.Get("/currencies", s.listCurrencies)
	r.Get("/currencies/{code}/icon", s.currencyIcon)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticated)

		r.Get("/me", s.me)
		r.Post("/wallet/deposit", s.deposit)
		r.Post("/wallet/withdraw", s.withdraw)
		r.Get("/transactions/export", s.exportTransactions)

		r.Group(func(r chi.Router) {
			r.Use(s.operatorOnly)

			r.Get("/accounts", s.listAccounts)
			r.Get("/admin/users", s.listAccounts)
			r.Post("/moderation/ban", s.ban)
			r.Post("/admin/ban", s.ban)
			r.Post("/moderation/set-balance", s.setBalance)
			r.Post("/admin/set-balance", s.setBalance)
			r.Get("/chat/{username}", s.chatHistory)
			r.Get("/admin/chat/{username}", s.chatHistory)
			r.Get("/admin/audit/{username}", s.audit)
			r.Get("/metrics", s.metricsSnapshot)
		})
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}
