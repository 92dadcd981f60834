package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Balances maps a currency code to the amount held. Missing keys read as zero.
type Balances map[string]decimal.Decimal

// Effect is a signed change to one currency of a balance map.
type Effect struct {
	Currency string
	Delta    decimal.Decimal
}

// Get returns the amount held in currency, zero when absent.
func (b Balances) Get(currency string) decimal.Decimal {
	if amt, ok := b[currency]; ok {
		return amt
	}
	return decimal.Zero
}

// Clone returns an independent copy.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Apply returns a new map with effects applied. The receiver is not modified.
func (b Balances) Apply(effects []Effect) Balances {
	out := b.Clone()
	for _, e := range effects {
		out[e.Currency] = out.Get(e.Currency).Add(e.Delta)
	}
	return out
}

// Negative returns the currencies whose amount is below zero, sorted.
func (b Balances) Negative() []string {
	var neg []string
	for cur, amt := range b {
		if amt.IsNegative() {
			neg = append(neg, cur)
		}
	}
	sort.Strings(neg)
	return neg
}

// Equal compares two maps treating absent currencies as zero.
func (b Balances) Equal(other Balances) bool {
	for cur, amt := range b {
		if !amt.Equal(other.Get(cur)) {
			return false
		}
	}
	for cur, amt := range other {
		if !amt.Equal(b.Get(cur)) {
			return false
		}
	}
	return true
}

// Diff describes the currencies on which two maps disagree.
func (b Balances) Diff(other Balances) string {
	seen := make(map[string]bool)
	var out string
	check := func(cur string) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		if !b.Get(cur).Equal(other.Get(cur)) {
			out += fmt.Sprintf("%s: %s != %s; ", cur, b.Get(cur), other.Get(cur))
		}
	}
	for cur := range b {
		check(cur)
	}
	for cur := range other {
		check(cur)
	}
	return out
}

// Replay folds a transaction log into a balance map.
// Transactions are applied in (timestamp, seq) order regardless of input order.
func Replay(txs []Transaction) (Balances, error) {
	ordered := make([]Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	out := make(Balances)
	for _, tx := range ordered {
		effects, err := tx.Effects()
		if err != nil {
			return nil, fmt.Errorf("replay tx %s: %w", tx.ID, err)
		}
		out = out.Apply(effects)
	}
	return out, nil
}
