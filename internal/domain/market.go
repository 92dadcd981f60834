package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Pair is a trading pair such as BTC/EUR: Base is bought or sold, Quote pays for it.
type Pair struct {
	Base  string
	Quote string
}

// ParsePair parses "BASE/QUOTE". Both legs must be supported currencies.
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(s, "/")
	if !ok {
		return Pair{}, fmt.Errorf("%w: pair %q", ErrInvalidInput, s)
	}
	b, err := NormalizeCurrency(base)
	if err != nil {
		return Pair{}, err
	}
	q, err := NormalizeCurrency(quote)
	if err != nil {
		return Pair{}, err
	}
	if b == q {
		return Pair{}, fmt.Errorf("%w: pair %q", ErrInvalidInput, s)
	}
	return Pair{Base: b, Quote: q}, nil
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// PriceSnapshot is the latest price table, keyed by pair string.
// A snapshot is immutable once published; ticks replace it wholesale.
type PriceSnapshot map[string]decimal.Decimal

// Price returns the price for pair if present and positive.
func (s PriceSnapshot) Price(pair string) (decimal.Decimal, bool) {
	p, ok := s[pair]
	if !ok || !p.IsPositive() {
		return decimal.Zero, false
	}
	return p, true
}

// Pairs returns the pair keys in sorted order.
func (s PriceSnapshot) Pairs() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a mutable copy.
func (s PriceSnapshot) Clone() PriceSnapshot {
	out := make(PriceSnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
