package service

import (
	"context"

	"trade_desk/internal/domain"
	"trade_desk/internal/ledger"

	"github.com/shopspring/decimal"
)

// Wallet moves funds in and out of an account.
type Wallet struct {
	ledger *ledger.Store
	pub    domain.Publisher
}

func NewWallet(store *ledger.Store, pub domain.Publisher) *Wallet {
	return &Wallet{ledger: store, pub: pub}
}

func (w *Wallet) Deposit(ctx context.Context, accountID, currency string, amount decimal.Decimal) (ledger.Result, error) {
	return w.ledger.Mutate(ctx, accountID, ledger.Deposit(currency, amount), w.notify)
}

func (w *Wallet) Withdraw(ctx context.Context, accountID, currency string, amount decimal.Decimal) (ledger.Result, error) {
	return w.ledger.Mutate(ctx, accountID, ledger.Withdraw(currency, amount), w.notify)
}

func (w *Wallet) notify(r ledger.Result) {
	notifyBalance(w.pub, r.Account)
}
