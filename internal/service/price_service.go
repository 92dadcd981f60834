package service

import (
	"context"
	"sync/atomic"

	"trade_desk/internal/domain"
	"trade_desk/internal/infra"

	"github.com/shopspring/decimal"
)

// PriceService holds the latest price snapshot. Each tick swaps in a new map;
// readers never lock and never see a partially applied tick.
type PriceService struct {
	snapshot atomic.Pointer[domain.PriceSnapshot]
	tickChan chan domain.PriceTick
	pub      domain.Publisher
	metrics  *infra.Metrics
}

// NewPriceService creates a PriceService with an empty snapshot. pub and metrics may be nil.
func NewPriceService(pub domain.Publisher, metrics *infra.Metrics) *PriceService {
	s := &PriceService{
		tickChan: make(chan domain.PriceTick, 64),
		pub:      pub,
		metrics:  metrics,
	}
	empty := domain.PriceSnapshot{}
	s.snapshot.Store(&empty)
	return s
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (s *PriceService) Snapshot() domain.PriceSnapshot {
	return *s.snapshot.Load()
}

// Price returns the latest positive price of pair.
func (s *PriceService) Price(pair string) (decimal.Decimal, bool) {
	return s.Snapshot().Price(pair)
}

// Update replaces the snapshot wholesale and broadcasts it.
func (s *PriceService) Update(tick domain.PriceTick) {
	next := tick.Prices.Clone()
	s.snapshot.Store(&next)

	if s.metrics != nil {
		s.metrics.RecordPriceTick()
	}
	if s.pub != nil {
		s.pub.Broadcast(domain.Envelope{Event: domain.EventPrices, Data: domain.PricesPayload{Snapshot: next}})
	}
}

// GetTickChan returns the channel feeds deliver ticks on.
func (s *PriceService) GetTickChan() chan<- domain.PriceTick {
	return s.tickChan
}

// StartTickProcessor applies ticks from the channel until ctx is done.
func (s *PriceService) StartTickProcessor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-s.tickChan:
				s.Update(tick)
			}
		}
	}()
}
