package service

import (
	"context"
	"log/slog"
	"time"

	"trade_desk/internal/domain"
	"trade_desk/internal/infra"
	"trade_desk/internal/ledger"

	"github.com/shopspring/decimal"
)

// PriceReader yields the latest price of a pair.
type PriceReader interface {
	Price(pair string) (decimal.Decimal, bool)
}

// TradeEngine executes market orders against the latest snapshot.
type TradeEngine struct {
	ledger  *ledger.Store
	prices  PriceReader
	pub     domain.Publisher
	metrics *infra.Metrics
}

func NewTradeEngine(store *ledger.Store, prices PriceReader, pub domain.Publisher, metrics *infra.Metrics) *TradeEngine {
	return &TradeEngine{ledger: store, prices: prices, pub: pub, metrics: metrics}
}

// Execute applies both legs of the trade as one ledger mutation. On success
// the trade_result reply and balance_updated notices are emitted before the
// account is released; on failure only the rejecting trade_result is sent.
// reply may be nil.
func (e *TradeEngine) Execute(ctx context.Context, req domain.TradeRequest, reply func(domain.Envelope)) (*domain.Transaction, error) {
	start := time.Now()

	res, err := e.execute(ctx, &req, reply)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordTradeRejected()
			if domain.Reason(err) == domain.ReasonInternal {
				e.metrics.RecordError()
			}
		}
		slog.Debug("Trade rejected",
			slog.String("account", req.AccountID),
			slog.String("pair", req.Pair),
			slog.String("side", string(req.Side)),
			slog.Any("error", err))
		if reply != nil {
			reply(domain.Envelope{Event: domain.EventTradeResult, Data: domain.TradeResultPayload{Reason: domain.Reason(err)}})
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordTradeFilled(time.Since(start).Nanoseconds())
	}
	slog.Info("Trade filled",
		slog.String("account", req.AccountID),
		slog.String("pair", res.Transaction.Pair),
		slog.String("side", string(req.Side)),
		slog.String("amount", res.Transaction.Amount.String()),
		slog.String("price", res.Transaction.Price.String()))
	return res.Transaction, nil
}

func (e *TradeEngine) execute(ctx context.Context, req *domain.TradeRequest, reply func(domain.Envelope)) (ledger.Result, error) {
	pair, err := req.Validate()
	if err != nil {
		return ledger.Result{}, err
	}
	price, ok := e.prices.Price(pair.String())
	if !ok {
		return ledger.Result{}, domain.ErrNoPrice
	}

	op := ledger.Trade(pair.String(), req.Side, req.Amount, price)
	return e.ledger.Mutate(ctx, req.AccountID, op, func(r ledger.Result) {
		if reply != nil {
			reply(domain.Envelope{Event: domain.EventTradeResult, Data: domain.TradeResultPayload{OK: true, Transaction: r.Transaction}})
		}
		notifyBalance(e.pub, r.Account)
	})
}

// notifyBalance tells the account's devices and every operator that balances changed.
func notifyBalance(pub domain.Publisher, acct domain.Account) {
	if pub == nil {
		return
	}
	ev := domain.Envelope{Event: domain.EventBalanceUpdated, Data: domain.BalanceUpdated{Username: acct.Username}}
	pub.Publish(domain.UserRoom(acct.ID), ev)
	pub.Publish(domain.OperatorsRoom, ev)
}
