package api

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"time"

	"trade_desk/internal/domain"
)

var exportHeader = []string{"id", "username", "kind", "currency", "pair", "amount", "price", "quote_amount", "timestamp"}

// exportTransactions streams the ledger as CSV. Users always get their own
// log; an operator picks one account with ?username= or gets every account.
func (s *Server) exportTransactions(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	accountID := p.ID
	if p.IsOperator() {
		accountID = ""
		if username := r.URL.Query().Get("username"); username != "" {
			id, err := s.ledger.Lookup(r.Context(), username)
			if err != nil {
				s.writeError(w, err)
				return
			}
			accountID = id
		}
	}

	txs, err := s.ledger.History(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=transactions.csv")
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write(exportHeader)
	for _, tx := range txs {
		cw.Write(exportRow(tx))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.Warn("CSV export interrupted", slog.String("account", accountID), slog.Any("error", err))
	}
}

func exportRow(tx domain.Transaction) []string {
	row := []string{
		tx.ID,
		tx.Username,
		string(tx.Kind),
		tx.Currency,
		tx.Pair,
		tx.Amount.String(),
		"",
		"",
		tx.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if tx.Kind == domain.TxBuy || tx.Kind == domain.TxSell {
		row[6] = tx.Price.String()
		row[7] = tx.QuoteAmount.String()
	}
	return row
}
