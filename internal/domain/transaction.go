package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TxKind classifies a ledger transaction.
type TxKind string

const (
	TxDeposit    TxKind = "deposit"
	TxWithdraw   TxKind = "withdraw"
	TxBuy        TxKind = "buy"
	TxSell       TxKind = "sell"
	TxAdjustment TxKind = "adjustment"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide validates a trade side.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), nil
	}
	return "", fmt.Errorf("%w: side %q", ErrInvalidInput, s)
}

// Transaction is an append-only ledger record. It is never updated after commit.
//
// Amount is the base amount for buy/sell, the absolute amount for deposit/withdraw,
// and the signed delta for adjustment.
type Transaction struct {
	ID          string          `gorm:"primaryKey" json:"id"`
	AccountID   string          `gorm:"index:idx_tx_account_seq,priority:1" json:"account_id"`
	Username    string          `json:"username"`
	Seq         int64           `gorm:"index:idx_tx_account_seq,priority:2" json:"seq"`
	Kind        TxKind          `json:"kind"`
	Currency    string          `json:"currency,omitempty"`
	Pair        string          `json:"pair,omitempty"`
	Amount      decimal.Decimal `gorm:"type:text" json:"amount"`
	Price       decimal.Decimal `gorm:"type:text" json:"price"`
	QuoteAmount decimal.Decimal `gorm:"type:text" json:"quote_amount"`
	Timestamp   time.Time       `gorm:"index" json:"timestamp"`
}

// Effects returns the signed balance changes this transaction represents.
func (t Transaction) Effects() ([]Effect, error) {
	switch t.Kind {
	case TxDeposit:
		return []Effect{{Currency: t.Currency, Delta: t.Amount}}, nil
	case TxWithdraw:
		return []Effect{{Currency: t.Currency, Delta: t.Amount.Neg()}}, nil
	case TxAdjustment:
		return []Effect{{Currency: t.Currency, Delta: t.Amount}}, nil
	case TxBuy, TxSell:
		pair, err := ParsePair(t.Pair)
		if err != nil {
			return nil, err
		}
		quote := t.Amount.Mul(t.Price)
		if t.Kind == TxBuy {
			return []Effect{
				{Currency: pair.Quote, Delta: quote.Neg()},
				{Currency: pair.Base, Delta: t.Amount},
			}, nil
		}
		return []Effect{
			{Currency: pair.Base, Delta: t.Amount.Neg()},
			{Currency: pair.Quote, Delta: quote},
		}, nil
	default:
		return nil, fmt.Errorf("%w: transaction kind %q", ErrInvalidInput, t.Kind)
	}
}
