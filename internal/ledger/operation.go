package ledger

import (
	"fmt"

	"trade_desk/internal/domain"

	"github.com/shopspring/decimal"
)

// Operation is a pending ledger mutation. Build one with Deposit, Withdraw, Trade or SetBalance.
type Operation struct {
	kind     domain.TxKind
	currency string
	pair     string
	amount   decimal.Decimal
	price    decimal.Decimal
}

func Deposit(currency string, amount decimal.Decimal) Operation {
	return Operation{kind: domain.TxDeposit, currency: currency, amount: amount}
}

func Withdraw(currency string, amount decimal.Decimal) Operation {
	return Operation{kind: domain.TxWithdraw, currency: currency, amount: amount}
}

// Trade moves base against quote at price. Both legs commit together or not at all.
func Trade(pair string, side domain.Side, base, price decimal.Decimal) Operation {
	kind := domain.TxBuy
	if side == domain.SideSell {
		kind = domain.TxSell
	}
	return Operation{kind: kind, pair: pair, amount: base, price: price}
}

// SetBalance sets currency to an absolute target. It is logged as an
// adjustment carrying the signed delta from the prior balance.
func SetBalance(currency string, target decimal.Decimal) Operation {
	return Operation{kind: domain.TxAdjustment, currency: currency, amount: target}
}

// Kind reports the transaction kind the operation produces.
func (op Operation) Kind() domain.TxKind {
	return op.kind
}

// draft validates op against the current balances and returns the unsequenced
// transaction. A nil transaction means there is nothing to record.
func (op Operation) draft(current domain.Balances) (*domain.Transaction, error) {
	switch op.kind {
	case domain.TxDeposit, domain.TxWithdraw:
		cur, err := domain.NormalizeCurrency(op.currency)
		if err != nil {
			return nil, err
		}
		if !op.amount.IsPositive() {
			return nil, fmt.Errorf("%w: %s must be positive", domain.ErrInvalidAmount, op.amount)
		}
		return &domain.Transaction{Kind: op.kind, Currency: cur, Amount: op.amount}, nil

	case domain.TxBuy, domain.TxSell:
		pair, err := domain.ParsePair(op.pair)
		if err != nil {
			return nil, err
		}
		if !op.amount.IsPositive() {
			return nil, fmt.Errorf("%w: %s must be positive", domain.ErrInvalidAmount, op.amount)
		}
		if !op.price.IsPositive() {
			return nil, fmt.Errorf("%w for %s", domain.ErrNoPrice, pair)
		}
		return &domain.Transaction{
			Kind:        op.kind,
			Pair:        pair.String(),
			Amount:      op.amount,
			Price:       op.price,
			QuoteAmount: op.amount.Mul(op.price),
		}, nil

	case domain.TxAdjustment:
		cur, err := domain.NormalizeCurrency(op.currency)
		if err != nil {
			return nil, err
		}
		if op.amount.IsNegative() {
			return nil, fmt.Errorf("%w: target %s is negative", domain.ErrInvalidAmount, op.amount)
		}
		delta := op.amount.Sub(current.Get(cur))
		if delta.IsZero() {
			return nil, nil
		}
		return &domain.Transaction{Kind: op.kind, Currency: cur, Amount: delta}, nil
	}
	return nil, fmt.Errorf("%w: operation %q", domain.ErrInvalidInput, op.kind)
}
