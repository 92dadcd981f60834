package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TradeRequest is a market order against the latest price snapshot.
// Amount is always in the base currency of the pair.
type TradeRequest struct {
	AccountID string          `json:"-"`
	Pair      string          `json:"pair"`
	Side      Side            `json:"type"`
	Amount    decimal.Decimal `json:"amountBase"`
}

// Validate normalizes the pair and checks side and amount.
func (r *TradeRequest) Validate() (Pair, error) {
	pair, err := ParsePair(r.Pair)
	if err != nil {
		return Pair{}, err
	}
	if _, err := ParseSide(string(r.Side)); err != nil {
		return Pair{}, err
	}
	if !r.Amount.IsPositive() {
		return Pair{}, fmt.Errorf("%w: amount %s must be positive", ErrInvalidAmount, r.Amount)
	}
	r.Pair = pair.String()
	return pair, nil
}
