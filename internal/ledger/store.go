package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trade_desk/internal/domain"

	"github.com/google/uuid"
)

// Result is the committed state after a mutation.
type Result struct {
	Account     domain.Account
	Balances    domain.Balances
	Transaction *domain.Transaction // nil when the mutation recorded nothing
}

// entry is the cached state of one account. Every field is guarded by mu.
type entry struct {
	mu       sync.Mutex
	loaded   bool
	account  domain.Account
	balances domain.Balances
	seq      int64
}

// Store owns the balance cache and transaction log of every account.
// Mutations on one account are serialized; different accounts proceed concurrently.
type Store struct {
	accounts domain.AccountRepository
	repo     domain.LedgerRepository

	mu      sync.Mutex
	entries map[string]*entry

	now func() time.Time
}

// NewStore creates a ledger store over the given repositories.
func NewStore(accounts domain.AccountRepository, repo domain.LedgerRepository) *Store {
	return &Store{
		accounts: accounts,
		repo:     repo,
		entries:  make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) entryFor(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}
	return e
}

// lock acquires the account lock and loads its state if needed.
// On success the caller must unlock e.mu.
func (s *Store) lock(ctx context.Context, id string) (*entry, error) {
	e := s.entryFor(id)
	e.mu.Lock()
	if e.loaded {
		return e, nil
	}

	acct, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return nil, domain.NewStoreError("load_account", err)
	}
	balances, err := s.repo.LoadBalances(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return nil, domain.NewStoreError("load_balances", err)
	}
	seq, err := s.repo.LastSeq(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return nil, domain.NewStoreError("load_seq", err)
	}

	e.account = *acct
	e.balances = balances
	e.seq = seq
	e.loaded = true
	return e, nil
}

// Mutate validates op against the current balances, appends its transaction
// and updates the cache as one step with respect to every other call on the
// same account. onCommit runs after the commit while the account lock is
// still held, so notifications it emits are ordered with the mutation. It does
// not run when the mutation recorded nothing.
func (s *Store) Mutate(ctx context.Context, accountID string, op Operation, onCommit func(Result)) (Result, error) {
	e, err := s.lock(ctx, accountID)
	if err != nil {
		return Result{}, err
	}
	defer e.mu.Unlock()

	if e.account.Banned && op.Kind() != domain.TxAdjustment {
		return Result{}, domain.ErrBanned
	}

	tx, err := op.draft(e.balances)
	if err != nil {
		return Result{}, err
	}

	// Zero-delta adjustment: nothing to log or announce.
	if tx == nil {
		return Result{Account: e.account, Balances: e.balances.Clone()}, nil
	}

	effects, err := tx.Effects()
	if err != nil {
		return Result{}, err
	}
	next := e.balances.Apply(effects)
	if neg := next.Negative(); len(neg) > 0 {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrInsufficientFunds, neg)
	}

	tx.ID = uuid.NewString()
	tx.AccountID = accountID
	tx.Username = e.account.Username
	tx.Seq = e.seq + 1
	tx.Timestamp = s.now()

	changed := make(domain.Balances, len(effects))
	for _, eff := range effects {
		changed[eff.Currency] = next[eff.Currency]
	}

	if err := s.repo.Commit(ctx, accountID, changed, []domain.Transaction{*tx}); err != nil {
		// The outcome is unknown; reload from the store on the next access.
		e.loaded = false
		slog.Error("Ledger commit failed",
			slog.String("account", accountID),
			slog.String("kind", string(tx.Kind)),
			slog.Any("error", err))
		return Result{}, domain.NewStoreError("commit", err)
	}

	e.balances = next
	e.seq = tx.Seq

	res := Result{Account: e.account, Balances: next.Clone(), Transaction: tx}
	if onCommit != nil {
		onCommit(res)
	}
	return res, nil
}

// SetBanned persists the ban flag under the account lock. onCommit runs
// before the lock is released, after any in-flight mutation has finished.
func (s *Store) SetBanned(ctx context.Context, accountID string, banned bool, onCommit func(domain.Account)) (domain.Account, error) {
	e, err := s.lock(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	defer e.mu.Unlock()

	if err := s.accounts.SetBanned(ctx, accountID, banned); err != nil {
		return domain.Account{}, domain.NewStoreError("set_banned", err)
	}
	e.account.Banned = banned

	if onCommit != nil {
		onCommit(e.account)
	}
	return e.account, nil
}

// Guard runs fn with the account lock held.
func (s *Store) Guard(ctx context.Context, accountID string, fn func(domain.Account, domain.Balances) error) error {
	e, err := s.lock(ctx, accountID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return fn(e.account, e.balances.Clone())
}

// Snapshot returns the account and a copy of its balances.
func (s *Store) Snapshot(ctx context.Context, accountID string) (domain.Account, domain.Balances, error) {
	e, err := s.lock(ctx, accountID)
	if err != nil {
		return domain.Account{}, nil, err
	}
	defer e.mu.Unlock()
	return e.account, e.balances.Clone(), nil
}

// Lookup resolves a username to its account id.
func (s *Store) Lookup(ctx context.Context, username string) (string, error) {
	acct, err := s.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		return "", domain.NewStoreError("lookup", err)
	}
	return acct.ID, nil
}

// Views returns every account with its balances, ordered by username.
func (s *Store) Views(ctx context.Context) ([]domain.AccountView, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, domain.NewStoreError("list_accounts", err)
	}
	out := make([]domain.AccountView, 0, len(accounts))
	for _, a := range accounts {
		acct, balances, err := s.Snapshot(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.AccountView{Username: acct.Username, Balances: balances, Banned: acct.Banned})
	}
	return out, nil
}

// History returns the committed log of an account, or of every account when id is empty.
func (s *Store) History(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	txs, err := s.repo.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, domain.NewStoreError("list_transactions", err)
	}
	return txs, nil
}

// Verify replays the persisted log and compares it with the cached balances.
func (s *Store) Verify(ctx context.Context, accountID string) (domain.Balances, error) {
	e, err := s.lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	txs, err := s.repo.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, domain.NewStoreError("list_transactions", err)
	}
	replayed, err := domain.Replay(txs)
	if err != nil {
		return nil, err
	}
	if !replayed.Equal(e.balances) {
		slog.Error("Ledger divergence detected",
			slog.String("account", accountID),
			slog.String("diff", replayed.Diff(e.balances)))
		return replayed, fmt.Errorf("%w: %s", domain.ErrLedgerDivergence, replayed.Diff(e.balances))
	}
	return replayed, nil
}
