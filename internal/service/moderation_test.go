package service

import (
	"context"
	"errors"
	"testing"

	"trade_desk/internal/domain"
)

func TestModerator_BanAndUnban(t *testing.T) {
	f := newFixture(t, "eve")
	mod := NewModerator(f.ledger, f.pub)
	ctx := context.Background()

	if err := mod.SetBanned(ctx, operator, "eve", true); err != nil {
		t.Fatalf("ban failed: %v", err)
	}
	acct, _ := f.repo.GetAccount(ctx, "eve-id")
	if !acct.Banned {
		t.Error("Expected persisted ban flag")
	}

	events := f.pub.all()
	if len(events) != 2 {
		t.Fatalf("Expected terminate and user_update, got %+v", events)
	}
	if events[0].op != "terminate" || events[0].room != domain.UserRoom("eve-id") {
		t.Errorf("Expected terminate of eve's room first, got %+v", events[0])
	}
	if p, _ := events[0].ev.Data.(domain.BannedPayload); !p.Banned || p.Message == "" {
		t.Errorf("Expected banned notice with message, got %+v", events[0].ev)
	}
	if events[1].room != domain.OperatorsRoom || events[1].ev.Event != domain.EventUserUpdate {
		t.Errorf("Expected user_update to operators, got %+v", events[1])
	}

	f.pub.reset()
	if err := mod.SetBanned(ctx, operator, "eve", false); err != nil {
		t.Fatalf("unban failed: %v", err)
	}
	events = f.pub.all()
	if len(events) != 2 || events[0].op != "publish" || events[0].ev.Event != domain.EventBanned {
		t.Fatalf("Expected banned{false} publish, got %+v", events)
	}
	if p, _ := events[0].ev.Data.(domain.BannedPayload); p.Banned {
		t.Error("Unban notice must carry banned=false")
	}
	acct, _ = f.repo.GetAccount(ctx, "eve-id")
	if acct.Banned {
		t.Error("Expected ban flag cleared")
	}
}

func TestModerator_Rejections(t *testing.T) {
	f := newFixture(t, "eve")
	mod := NewModerator(f.ledger, f.pub)
	ctx := context.Background()
	user := domain.Principal{ID: "eve-id", Username: "eve", Role: domain.RoleUser}

	if err := mod.SetBanned(ctx, user, "eve", true); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	if _, err := mod.SetBalance(ctx, user, "eve", "EUR", d("1")); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	if err := mod.SetBanned(ctx, operator, "ghost", true); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
	if events := f.pub.all(); len(events) != 0 {
		t.Errorf("Rejected actions must not publish, got %+v", events)
	}
}

func TestModerator_SetBalance(t *testing.T) {
	f := newFixture(t, "frank")
	f.fund(t, "frank-id", "BTC", "2")
	mod := NewModerator(f.ledger, f.pub)
	ctx := context.Background()

	res, err := mod.SetBalance(ctx, operator, "frank", "btc", d("0.5"))
	if err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}
	if res.Transaction == nil || !res.Transaction.Amount.Equal(d("-1.5")) {
		t.Errorf("Expected adjustment of -1.5, got %+v", res.Transaction)
	}
	if !res.Balances.Get("BTC").Equal(d("0.5")) {
		t.Errorf("Expected BTC 0.5, got %s", res.Balances.Get("BTC"))
	}
	if evs := f.pub.inRoom(domain.OperatorsRoom); len(evs) != 1 || evs[0].ev.Event != domain.EventBalanceUpdated {
		t.Errorf("Expected balance_updated to operators, got %+v", evs)
	}

	if _, err := f.ledger.Verify(ctx, "frank-id"); err != nil {
		t.Errorf("Replay diverged after adjustment: %v", err)
	}

	f.pub.reset()
	res, err = mod.SetBalance(ctx, operator, "frank", "BTC", d("0.5"))
	if err != nil || res.Transaction != nil {
		t.Errorf("Setting the current balance should record nothing, got %+v, %v", res.Transaction, err)
	}
	if evs := f.pub.all(); len(evs) != 0 {
		t.Errorf("Expected no notifications for an unchanged balance, got %+v", evs)
	}

	if _, err := mod.SetBalance(ctx, operator, "frank", "EUR", d("-3")); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
}

func TestWallet_DepositWithdraw(t *testing.T) {
	f := newFixture(t, "gwen")
	w := NewWallet(f.ledger, f.pub)
	ctx := context.Background()

	if _, err := w.Deposit(ctx, "gwen-id", "usdt", d("50")); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := w.Withdraw(ctx, "gwen-id", "USDT", d("60")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}
	res, err := w.Withdraw(ctx, "gwen-id", "USDT", d("50"))
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if !res.Balances.Get("USDT").IsZero() {
		t.Errorf("Expected zero USDT, got %s", res.Balances.Get("USDT"))
	}
	if evs := f.pub.inRoom(domain.UserRoom("gwen-id")); len(evs) != 2 {
		t.Errorf("Expected 2 balance_updated events, got %d", len(evs))
	}
}
