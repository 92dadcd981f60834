package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"trade_desk/internal/domain"
)

// Memory is a thread-safe in-memory repository with the same contract as Storage.
// Nothing survives a restart.
type Memory struct {
	mu            sync.RWMutex
	accounts      map[string]*domain.Account
	usernameIndex map[string]string // username -> id
	balances      map[string]domain.Balances
	txs           []domain.Transaction
	chat          map[string][]domain.ChatMessage
	nextChatID    uint
	currencies    map[string]domain.CurrencyInfo
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		accounts:      make(map[string]*domain.Account),
		usernameIndex: make(map[string]string),
		balances:      make(map[string]domain.Balances),
		chat:          make(map[string][]domain.ChatMessage),
		currencies:    make(map[string]domain.CurrencyInfo),
	}
}

func (m *Memory) CreateAccount(ctx context.Context, acct *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usernameIndex[acct.Username]; exists {
		return domain.ErrUsernameTaken
	}
	now := time.Now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now
	cp := *acct
	m.accounts[acct.ID] = &cp
	m.usernameIndex[acct.Username] = acct.ID
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	m.mu.RLock()
	id, ok := m.usernameIndex[username]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return m.GetAccount(ctx, id)
}

func (m *Memory) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *Memory) SetBanned(ctx context.Context, id string, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.Banned = banned
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) LoadBalances(ctx context.Context, accountID string) (domain.Balances, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[accountID].Clone(), nil
}

func (m *Memory) LastSeq(ctx context.Context, accountID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var seq int64
	for _, tx := range m.txs {
		if tx.AccountID == accountID && tx.Seq > seq {
			seq = tx.Seq
		}
	}
	return seq, nil
}

func (m *Memory) Commit(ctx context.Context, accountID string, changed domain.Balances, txs []domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, txs...)
	b := m.balances[accountID]
	if b == nil {
		b = make(domain.Balances)
		m.balances[accountID] = b
	}
	for cur, amt := range changed {
		b[cur] = amt
	}
	return nil
}

func (m *Memory) ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Transaction
	for _, tx := range m.txs {
		if accountID == "" || tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *Memory) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChatID++
	msg.ID = m.nextChatID
	m.chat[msg.AccountID] = append(m.chat[msg.AccountID], *msg)
	return nil
}

func (m *Memory) ListMessages(ctx context.Context, accountID string) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	thread := m.chat[accountID]
	out := make([]domain.ChatMessage, len(thread))
	copy(out, thread)
	return out, nil
}

func (m *Memory) UpsertCurrency(info *domain.CurrencyInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currencies[info.Code] = *info
	return nil
}

func (m *Memory) GetCurrency(code string) (*domain.CurrencyInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.currencies[code]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (m *Memory) ListCurrencies() ([]domain.CurrencyInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.CurrencyInfo, 0, len(m.currencies))
	for _, c := range m.currencies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
