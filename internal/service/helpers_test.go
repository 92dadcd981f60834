package service

import (
	"context"
	"sync"
	"testing"

	"trade_desk/internal/domain"
	"trade_desk/internal/infra/storage"
	"trade_desk/internal/ledger"

	"github.com/shopspring/decimal"
)

type published struct {
	op   string // publish, broadcast, terminate
	room domain.RoomID
	ev   domain.Envelope
}

// recorder is a domain.Publisher that keeps every call in order.
type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(room domain.RoomID, ev domain.Envelope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{op: "publish", room: room, ev: ev})
	return 1
}

func (r *recorder) Broadcast(ev domain.Envelope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{op: "broadcast", ev: ev})
	return 1
}

func (r *recorder) Terminate(room domain.RoomID, final domain.Envelope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{op: "terminate", room: room, ev: final})
	return 1
}

func (r *recorder) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]published, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) inRoom(room domain.RoomID) []published {
	var out []published
	for _, p := range r.all() {
		if p.room == room {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixedPrices map[string]decimal.Decimal

func (f fixedPrices) Price(pair string) (decimal.Decimal, bool) {
	return domain.PriceSnapshot(f).Price(pair)
}

var operator = domain.Principal{ID: domain.OperatorID, Username: "admin", Role: domain.RoleOperator}

type fixture struct {
	repo   *storage.Memory
	ledger *ledger.Store
	pub    *recorder
}

func newFixture(t *testing.T, usernames ...string) *fixture {
	t.Helper()
	repo := storage.NewMemory()
	for _, name := range usernames {
		acct := &domain.Account{ID: name + "-id", Username: name, Role: domain.RoleUser}
		if err := repo.CreateAccount(context.Background(), acct); err != nil {
			t.Fatalf("CreateAccount failed: %v", err)
		}
	}
	return &fixture{repo: repo, ledger: ledger.NewStore(repo, repo), pub: &recorder{}}
}

func (f *fixture) fund(t *testing.T, id, currency, amount string) {
	t.Helper()
	if _, err := f.ledger.Mutate(context.Background(), id, ledger.Deposit(currency, decimal.RequireFromString(amount)), nil); err != nil {
		t.Fatalf("fund failed: %v", err)
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
