package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"trade_desk/internal/domain"

	"github.com/shopspring/decimal"
)

const pricePlaces = 6

var minPrice = decimal.New(1, -pricePlaces)

// SimulatorConfig drives the random walk.
type SimulatorConfig struct {
	Initial    map[string]decimal.Decimal // pair -> starting price
	Interval   time.Duration
	Volatility decimal.Decimal // max relative move per tick, e.g. 0.005
	Seed       int64           // 0 seeds from the clock
}

// Simulator publishes a full snapshot every Interval. Each pair moves by a
// uniform step within +/- Volatility of its last price.
type Simulator struct {
	cfg    SimulatorConfig
	out    chan<- domain.PriceTick
	rng    *rand.Rand
	prices domain.PriceSnapshot
}

func NewSimulator(cfg SimulatorConfig, out chan<- domain.PriceTick) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	prices := make(domain.PriceSnapshot, len(cfg.Initial))
	for pair, p := range cfg.Initial {
		prices[pair] = p
	}
	return &Simulator{
		cfg:    cfg,
		out:    out,
		rng:    rand.New(rand.NewSource(seed)),
		prices: prices,
	}
}

// Next advances every pair one step and returns the new snapshot.
func (s *Simulator) Next() domain.PriceSnapshot {
	next := make(domain.PriceSnapshot, len(s.prices))
	for _, pair := range s.prices.Pairs() {
		shock := decimal.NewFromFloat(s.rng.Float64()*2 - 1).Mul(s.cfg.Volatility)
		p := s.prices[pair].Mul(decimal.NewFromInt(1).Add(shock)).Round(pricePlaces)
		if p.LessThan(minPrice) {
			p = minPrice
		}
		next[pair] = p
	}
	s.prices = next
	return next.Clone()
}

// Run emits the starting snapshot, then one tick per interval until ctx is done.
// A tick is dropped when the consumer is behind.
func (s *Simulator) Run(ctx context.Context) {
	slog.Info("Price simulator started",
		slog.Int("pairs", len(s.prices)),
		slog.Duration("interval", s.cfg.Interval))

	s.emit(s.prices.Clone())

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Price simulator stopping...")
			return
		case <-ticker.C:
			s.emit(s.Next())
		}
	}
}

func (s *Simulator) emit(prices domain.PriceSnapshot) {
	select {
	case s.out <- domain.PriceTick{Prices: prices, Source: "simulator", At: time.Now().UTC()}:
	default: // DROP
		slog.Debug("Price tick dropped")
	}
}
