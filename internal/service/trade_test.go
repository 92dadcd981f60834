package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"trade_desk/internal/domain"
	"trade_desk/internal/infra"
	"trade_desk/internal/infra/storage"
	"trade_desk/internal/ledger"
)

func TestTradeEngine_AliceBuys(t *testing.T) {
	f := newFixture(t, "alice")
	f.fund(t, "alice-id", "EUR", "1000")
	metrics := &infra.Metrics{}
	engine := NewTradeEngine(f.ledger, fixedPrices{"BTC/EUR": d("50000")}, f.pub, metrics)

	var replies []domain.Envelope
	tx, err := engine.Execute(context.Background(), domain.TradeRequest{
		AccountID: "alice-id", Pair: "btc/eur", Side: domain.SideBuy, Amount: d("0.01"),
	}, func(ev domain.Envelope) { replies = append(replies, ev) })
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if tx.Kind != domain.TxBuy || tx.Pair != "BTC/EUR" || !tx.Price.Equal(d("50000")) || !tx.Amount.Equal(d("0.01")) {
		t.Errorf("Unexpected transaction %+v", tx)
	}

	_, balances, _ := f.ledger.Snapshot(context.Background(), "alice-id")
	want := domain.Balances{"EUR": d("500"), "BTC": d("0.01")}
	if !balances.Equal(want) {
		t.Errorf("Balance mismatch: %s", balances.Diff(want))
	}

	if len(replies) != 1 {
		t.Fatalf("Expected one reply, got %d", len(replies))
	}
	result, ok := replies[0].Data.(domain.TradeResultPayload)
	if !ok || !result.OK {
		t.Errorf("Expected ok trade_result, got %+v", replies[0])
	}

	for _, room := range []domain.RoomID{domain.UserRoom("alice-id"), domain.OperatorsRoom} {
		evs := f.pub.inRoom(room)
		if len(evs) != 1 || evs[0].ev.Event != domain.EventBalanceUpdated {
			t.Errorf("Expected balance_updated in %s, got %+v", room, evs)
		}
	}
	if metrics.Snapshot().TradesFilled != 1 {
		t.Errorf("Expected 1 filled trade, got %d", metrics.Snapshot().TradesFilled)
	}
}

func TestTradeEngine_FailuresHaveNoSideEffects(t *testing.T) {
	f := newFixture(t, "bob")
	f.fund(t, "bob-id", "EUR", "100")
	metrics := &infra.Metrics{}
	engine := NewTradeEngine(f.ledger, fixedPrices{"BTC/EUR": d("50000"), "XRP/EUR": d("0")}, f.pub, metrics)

	tests := []struct {
		name   string
		req    domain.TradeRequest
		want   error
		reason string
	}{
		{"insufficient quote", domain.TradeRequest{Pair: "BTC/EUR", Side: domain.SideBuy, Amount: d("0.01")}, domain.ErrInsufficientFunds, "insufficient_funds"},
		{"insufficient base", domain.TradeRequest{Pair: "BTC/EUR", Side: domain.SideSell, Amount: d("0.01")}, domain.ErrInsufficientFunds, "insufficient_funds"},
		{"missing price", domain.TradeRequest{Pair: "ETH/EUR", Side: domain.SideBuy, Amount: d("1")}, domain.ErrNoPrice, "no_price"},
		{"zero price", domain.TradeRequest{Pair: "XRP/EUR", Side: domain.SideBuy, Amount: d("1")}, domain.ErrNoPrice, "no_price"},
		{"zero amount", domain.TradeRequest{Pair: "BTC/EUR", Side: domain.SideBuy, Amount: d("0")}, domain.ErrInvalidAmount, "invalid_amount"},
		{"unknown currency", domain.TradeRequest{Pair: "DOGE/EUR", Side: domain.SideBuy, Amount: d("1")}, domain.ErrInvalidAmount, "unsupported_currency"},
		{"bad side", domain.TradeRequest{Pair: "BTC/EUR", Side: "hold", Amount: d("1")}, domain.ErrInvalidInput, "invalid_input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reply domain.Envelope
			tt.req.AccountID = "bob-id"
			_, err := engine.Execute(context.Background(), tt.req, func(ev domain.Envelope) { reply = ev })
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			result, _ := reply.Data.(domain.TradeResultPayload)
			if result.OK || result.Reason != tt.reason {
				t.Errorf("Expected rejected trade_result %q, got %+v", tt.reason, result)
			}
		})
	}

	if events := f.pub.all(); len(events) != 0 {
		t.Errorf("Rejected trades must not publish, got %+v", events)
	}
	_, balances, _ := f.ledger.Snapshot(context.Background(), "bob-id")
	if !balances.Equal(domain.Balances{"EUR": d("100")}) {
		t.Errorf("Balances changed: %v", balances)
	}
	if metrics.Snapshot().TradesRejected != uint64(len(tests)) {
		t.Errorf("Expected %d rejections, got %d", len(tests), metrics.Snapshot().TradesRejected)
	}
}

func TestTradeEngine_BanDuringTrade(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, "mallory")
		f.fund(t, "mallory-id", "EUR", "1000")
		engine := NewTradeEngine(f.ledger, fixedPrices{"BTC/EUR": d("50000")}, f.pub, nil)
		mod := NewModerator(f.ledger, f.pub)
		f.pub.reset()

		var wg sync.WaitGroup
		var tradeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, tradeErr = engine.Execute(context.Background(), domain.TradeRequest{
				AccountID: "mallory-id", Pair: "BTC/EUR", Side: domain.SideBuy, Amount: d("0.01"),
			}, func(ev domain.Envelope) {
				// Only a fill is observable on the channel before the ban.
				if res, _ := ev.Data.(domain.TradeResultPayload); res.OK {
					f.pub.Publish(domain.UserRoom("mallory-id"), ev)
				}
			})
		}()
		go func() {
			defer wg.Done()
			if err := mod.SetBanned(context.Background(), operator, "mallory", true); err != nil {
				t.Errorf("SetBanned failed: %v", err)
			}
		}()
		wg.Wait()

		events := f.pub.inRoom(domain.UserRoom("mallory-id"))
		if len(events) == 0 || events[len(events)-1].op != "terminate" {
			t.Fatalf("Expected the ban notice to be the last event, got %+v", events)
		}

		_, balances, _ := f.ledger.Snapshot(context.Background(), "mallory-id")
		switch {
		case tradeErr == nil:
			if len(events) != 3 {
				t.Errorf("Expected trade_result, balance_updated, banned; got %+v", events)
			}
			if !balances.Get("BTC").Equal(d("0.01")) || !balances.Get("EUR").Equal(d("500")) {
				t.Errorf("Trade partially applied: %v", balances)
			}
		case errors.Is(tradeErr, domain.ErrBanned):
			if !balances.Equal(domain.Balances{"EUR": d("1000")}) {
				t.Errorf("Rejected trade changed balances: %v", balances)
			}
		default:
			t.Fatalf("Unexpected trade error %v", tradeErr)
		}
	}
}

// switchableCommits fails ledger commits while fail is set.
type switchableCommits struct {
	*storage.Memory
	fail atomic.Bool
}

func (s *switchableCommits) Commit(ctx context.Context, id string, changed domain.Balances, txs []domain.Transaction) error {
	if s.fail.Load() {
		return errors.New("database is locked")
	}
	return s.Memory.Commit(ctx, id, changed, txs)
}

func TestTradeEngine_StoreFailureIsCounted(t *testing.T) {
	ctx := context.Background()
	repo := &switchableCommits{Memory: storage.NewMemory()}
	if err := repo.CreateAccount(ctx, &domain.Account{ID: "hank-id", Username: "hank", Role: domain.RoleUser}); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	store := ledger.NewStore(repo, repo)
	if _, err := store.Mutate(ctx, "hank-id", ledger.Deposit("EUR", d("100")), nil); err != nil {
		t.Fatalf("fund failed: %v", err)
	}

	metrics := &infra.Metrics{}
	engine := NewTradeEngine(store, fixedPrices{"BTC/EUR": d("50000")}, &recorder{}, metrics)

	var reasons []string
	reply := func(ev domain.Envelope) {
		if p, ok := ev.Data.(domain.TradeResultPayload); ok {
			reasons = append(reasons, p.Reason)
		}
	}

	// A business rejection is not an error.
	_, err := engine.Execute(ctx, domain.TradeRequest{AccountID: "hank-id", Pair: "BTC/EUR", Side: domain.SideBuy, Amount: d("1")}, reply)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}
	if got := metrics.Snapshot().ErrorsTotal; got != 0 {
		t.Errorf("Expected no recorded errors, got %d", got)
	}

	repo.fail.Store(true)
	_, err = engine.Execute(ctx, domain.TradeRequest{AccountID: "hank-id", Pair: "BTC/EUR", Side: domain.SideBuy, Amount: d("0.001")}, reply)
	var storeErr *domain.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("Expected a StoreError, got %v", err)
	}

	snap := metrics.Snapshot()
	if snap.ErrorsTotal != 1 || snap.TradesRejected != 2 {
		t.Errorf("Expected 1 error and 2 rejections, got %d and %d", snap.ErrorsTotal, snap.TradesRejected)
	}
	if len(reasons) != 2 || reasons[1] != domain.ReasonInternal {
		t.Errorf("Expected internal_error reply for the failed commit, got %v", reasons)
	}

	repo.fail.Store(false)
	_, balances, err := store.Snapshot(ctx, "hank-id")
	if err != nil || !balances.Get("EUR").Equal(d("100")) || !balances.Get("BTC").IsZero() {
		t.Errorf("Failed commit must leave balances untouched, got %v (%v)", balances, err)
	}
}
