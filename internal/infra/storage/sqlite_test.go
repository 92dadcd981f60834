package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"trade_desk/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *Storage {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(sqlite.Open(dbPath))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// repository is the union every backend must satisfy.
type repository interface {
	domain.AccountRepository
	domain.LedgerRepository
	domain.ChatRepository
	domain.CurrencyRepository
}

func backends(t *testing.T) map[string]repository {
	return map[string]repository{
		"sqlite": setupTestDB(t),
		"memory": NewMemory(),
	}
}

func TestCreateAndGetAccount(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			acct := &domain.Account{ID: "a1", Username: "alice", PasswordHash: "h", Role: domain.RoleUser}

			if err := s.CreateAccount(ctx, acct); err != nil {
				t.Fatalf("CreateAccount failed: %v", err)
			}

			dup := &domain.Account{ID: "a2", Username: "alice", Role: domain.RoleUser}
			if err := s.CreateAccount(ctx, dup); !errors.Is(err, domain.ErrUsernameTaken) {
				t.Errorf("Expected ErrUsernameTaken, got %v", err)
			}

			fetched, err := s.GetAccountByUsername(ctx, "alice")
			if err != nil {
				t.Fatalf("GetAccountByUsername failed: %v", err)
			}
			if fetched.ID != "a1" || fetched.PasswordHash != "h" {
				t.Errorf("Unexpected account %+v", fetched)
			}

			if _, err := s.GetAccount(ctx, "missing"); !errors.Is(err, domain.ErrAccountNotFound) {
				t.Errorf("Expected ErrAccountNotFound, got %v", err)
			}
		})
	}
}

func TestSetBanned(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.CreateAccount(ctx, &domain.Account{ID: "b1", Username: "bob", Role: domain.RoleUser})

			if err := s.SetBanned(ctx, "b1", true); err != nil {
				t.Fatalf("SetBanned failed: %v", err)
			}
			acct, _ := s.GetAccount(ctx, "b1")
			if !acct.Banned {
				t.Error("Expected account to be banned")
			}

			if err := s.SetBanned(ctx, "nobody", true); !errors.Is(err, domain.ErrAccountNotFound) {
				t.Errorf("Expected ErrAccountNotFound, got %v", err)
			}
		})
	}
}

func TestCommitAndListTransactions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			first := domain.Transaction{
				ID: "t1", AccountID: "a1", Username: "alice", Seq: 1, Kind: domain.TxDeposit,
				Currency: "EUR", Amount: decimal.NewFromInt(1000), Timestamp: t0,
			}
			if err := s.Commit(ctx, "a1", domain.Balances{"EUR": decimal.NewFromInt(1000)}, []domain.Transaction{first}); err != nil {
				t.Fatalf("Commit failed: %v", err)
			}

			second := domain.Transaction{
				ID: "t2", AccountID: "a1", Username: "alice", Seq: 2, Kind: domain.TxBuy,
				Pair: "BTC/EUR", Amount: decimal.RequireFromString("0.01"), Price: decimal.NewFromInt(50000),
				QuoteAmount: decimal.NewFromInt(500), Timestamp: t0.Add(time.Second),
			}
			changed := domain.Balances{"EUR": decimal.NewFromInt(500), "BTC": decimal.RequireFromString("0.01")}
			if err := s.Commit(ctx, "a1", changed, []domain.Transaction{second}); err != nil {
				t.Fatalf("Commit failed: %v", err)
			}

			balances, err := s.LoadBalances(ctx, "a1")
			if err != nil {
				t.Fatalf("LoadBalances failed: %v", err)
			}
			if !balances.Equal(changed) {
				t.Errorf("Balance mismatch: %s", balances.Diff(changed))
			}

			seq, err := s.LastSeq(ctx, "a1")
			if err != nil || seq != 2 {
				t.Errorf("Expected last seq 2, got %d (%v)", seq, err)
			}
			if seq, _ := s.LastSeq(ctx, "empty"); seq != 0 {
				t.Errorf("Expected last seq 0 for empty account, got %d", seq)
			}

			txs, err := s.ListTransactions(ctx, "a1")
			if err != nil {
				t.Fatalf("ListTransactions failed: %v", err)
			}
			if len(txs) != 2 || txs[0].ID != "t1" || txs[1].ID != "t2" {
				t.Fatalf("Unexpected log %+v", txs)
			}
			if !txs[1].Price.Equal(decimal.NewFromInt(50000)) || !txs[1].Amount.Equal(decimal.RequireFromString("0.01")) {
				t.Errorf("Decimal round trip lost precision: %+v", txs[1])
			}

			replayed, err := domain.Replay(txs)
			if err != nil {
				t.Fatalf("Replay failed: %v", err)
			}
			if !replayed.Equal(balances) {
				t.Errorf("Replay diverges from stored balances: %s", replayed.Diff(balances))
			}

			all, _ := s.ListTransactions(ctx, "")
			if len(all) != 2 {
				t.Errorf("Expected 2 transactions overall, got %d", len(all))
			}
		})
	}
}

func TestChatThread(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			s.AppendMessage(ctx, &domain.ChatMessage{AccountID: "a1", Username: "alice", From: "alice", Text: "hi", Timestamp: t0})
			s.AppendMessage(ctx, &domain.ChatMessage{AccountID: "a1", Username: "alice", From: domain.FromOperator, Text: "hello", Timestamp: t0.Add(time.Second)})
			s.AppendMessage(ctx, &domain.ChatMessage{AccountID: "b1", Username: "bob", From: "bob", Text: "other", Timestamp: t0})

			msgs, err := s.ListMessages(ctx, "a1")
			if err != nil {
				t.Fatalf("ListMessages failed: %v", err)
			}
			if len(msgs) != 2 {
				t.Fatalf("Expected 2 messages, got %d", len(msgs))
			}
			if msgs[0].Text != "hi" || msgs[1].From != domain.FromOperator {
				t.Errorf("Unexpected order %+v", msgs)
			}
		})
	}
}

func TestUpsertAndGetCurrency(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			info := &domain.CurrencyInfo{Code: "BTC", Name: "Bitcoin", UpdatedAt: time.Now()}
			if err := s.UpsertCurrency(info); err != nil {
				t.Fatalf("UpsertCurrency failed: %v", err)
			}

			info.IconPath = "icons/btc.png"
			if err := s.UpsertCurrency(info); err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			fetched, err := s.GetCurrency("BTC")
			if err != nil || fetched == nil {
				t.Fatalf("GetCurrency failed: %v", err)
			}
			if fetched.IconPath != "icons/btc.png" {
				t.Errorf("expected icon path to be updated, got %q", fetched.IconPath)
			}

			missing, err := s.GetCurrency("ETH")
			if err != nil || missing != nil {
				t.Errorf("expected nil for missing currency, got %+v (%v)", missing, err)
			}
		})
	}
}
