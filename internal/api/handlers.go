package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"trade_desk/internal/domain"
	"trade_desk/internal/ledger"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string      `json:"token"`
	Role  domain.Role `json:"role,omitempty"`
	User  string      `json:"user,omitempty"`
}

type MeResponse struct {
	Username string               `json:"username"`
	Role     domain.Role          `json:"role"`
	Balances domain.Balances      `json:"balances"`
	Banned   bool                 `json:"banned"`
	History  []domain.Transaction `json:"history"`
}

type moneyRequest struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type BalanceResponse struct {
	OK          bool                `json:"ok"`
	Balances    domain.Balances     `json:"balances"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

// banRequest accepts both "banned" and the older "ban" field.
type banRequest struct {
	Username string `json:"username"`
	Banned   *bool  `json:"banned"`
	Ban      *bool  `json:"ban"`
}

type setBalanceRequest struct {
	Username string           `json:"username"`
	Currency string           `json:"currency"`
	Amount   *decimal.Decimal `json:"amount"`
}

type AuditResponse struct {
	Username   string          `json:"username"`
	Consistent bool            `json:"consistent"`
	Replayed   domain.Balances `json:"replayed"`
	Detail     string          `json:"detail,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	p, token, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.pub != nil {
		s.pub.Publish(domain.OperatorsRoom, domain.Envelope{
			Event: domain.EventUserUpdate,
			Data:  domain.UserUpdatePayload{Username: p.Username},
		})
	}
	writeJSON(w, http.StatusCreated, TokenResponse{Token: token, Role: p.Role, User: p.Username})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	p, token, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, Role: p.Role, User: p.Username})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if p.IsOperator() {
		writeJSON(w, http.StatusOK, MeResponse{
			Username: p.Username,
			Role:     p.Role,
			Balances: domain.Balances{},
			History:  []domain.Transaction{},
		})
		return
	}

	acct, balances, err := s.ledger.Snapshot(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	history, err := s.ledger.History(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if history == nil {
		history = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, MeResponse{
		Username: acct.Username,
		Role:     acct.Role,
		Balances: balances,
		Banned:   acct.Banned,
		History:  history,
	})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.moveFunds(w, r, domain.TxDeposit)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.moveFunds(w, r, domain.TxWithdraw)
}

func (s *Server) moveFunds(w http.ResponseWriter, r *http.Request, kind domain.TxKind) {
	p, _ := principalFrom(r.Context())
	if p.IsOperator() {
		s.writeError(w, domain.ErrForbidden)
		return
	}
	var req moneyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	var (
		res ledger.Result
		err error
	)
	if kind == domain.TxDeposit {
		res, err = s.wallet.Deposit(r.Context(), p.ID, req.Currency, req.Amount)
	} else {
		res, err = s.wallet.Withdraw(r.Context(), p.ID, req.Currency, req.Amount)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{OK: true, Balances: res.Balances, Transaction: res.Transaction})
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	views, err := s.ledger.Views(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) ban(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	banned := req.Banned
	if banned == nil {
		banned = req.Ban
	}
	if req.Username == "" || banned == nil {
		s.writeError(w, fmt.Errorf("%w: username and banned are required", domain.ErrInvalidInput))
		return
	}

	p, _ := principalFrom(r.Context())
	if err := s.moderator.SetBanned(r.Context(), p, req.Username, *banned); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) setBalance(w http.ResponseWriter, r *http.Request) {
	var req setBalanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Username == "" || req.Amount == nil {
		s.writeError(w, fmt.Errorf("%w: username and amount are required", domain.ErrInvalidInput))
		return
	}

	p, _ := principalFrom(r.Context())
	res, err := s.moderator.SetBalance(r.Context(), p, req.Username, req.Currency, *req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{OK: true, Balances: res.Balances, Transaction: res.Transaction})
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.chat.HistoryByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	id, err := s.ledger.Lookup(r.Context(), username)
	if err != nil {
		s.writeError(w, err)
		return
	}

	replayed, err := s.ledger.Verify(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrLedgerDivergence):
		writeJSON(w, http.StatusConflict, AuditResponse{Username: username, Replayed: replayed, Detail: err.Error()})
	case err != nil:
		s.writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, AuditResponse{Username: username, Consistent: true, Replayed: replayed})
	}
}

func (s *Server) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// listCurrencies falls back to the built-in names until the first asset sync has run.
func (s *Server) listCurrencies(w http.ResponseWriter, r *http.Request) {
	var infos []domain.CurrencyInfo
	if s.currencies != nil {
		var err error
		if infos, err = s.currencies.ListCurrencies(); err != nil {
			s.writeError(w, domain.NewStoreError("list_currencies", err))
			return
		}
	}
	if len(infos) == 0 {
		infos = make([]domain.CurrencyInfo, 0, len(domain.SupportedCurrencies))
		for _, code := range domain.SupportedCurrencies {
			infos = append(infos, domain.CurrencyInfo{Code: code, Name: domain.CurrencyName(code)})
		}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) currencyIcon(w http.ResponseWriter, r *http.Request) {
	code, err := domain.NormalizeCurrency(chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.icons == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "icons are disabled", Reason: "not_found"})
		return
	}
	path := s.icons.GetIconPath(code)
	if _, err := os.Stat(path); err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "icon not synced: " + strings.ToLower(code), Reason: "not_found"})
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}
