package domain

import (
	"context"
)

// AccountRepository persists account records.
type AccountRepository interface {
	CreateAccount(ctx context.Context, acct *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	SetBanned(ctx context.Context, id string, banned bool) error
}

// LedgerRepository persists the transaction log and the materialized balance rows.
type LedgerRepository interface {
	LoadBalances(ctx context.Context, accountID string) (Balances, error)
	LastSeq(ctx context.Context, accountID string) (int64, error)
	// Commit appends txs and upserts the changed balance rows in one unit.
	Commit(ctx context.Context, accountID string, changed Balances, txs []Transaction) error
	// ListTransactions returns the log for one account, or for all accounts when accountID is empty.
	ListTransactions(ctx context.Context, accountID string) ([]Transaction, error)
}

// ChatRepository persists support threads.
type ChatRepository interface {
	AppendMessage(ctx context.Context, msg *ChatMessage) error
	ListMessages(ctx context.Context, accountID string) ([]ChatMessage, error)
}

// CurrencyRepository persists currency display metadata.
type CurrencyRepository interface {
	UpsertCurrency(info *CurrencyInfo) error
	GetCurrency(code string) (*CurrencyInfo, error)
	ListCurrencies() ([]CurrencyInfo, error)
}

// Publisher delivers live events to rooms of connected sessions.
type Publisher interface {
	// Publish delivers ev to every session in room and returns the number reached.
	Publish(room RoomID, ev Envelope) int
	// Broadcast delivers ev to every authenticated session.
	Broadcast(ev Envelope) int
	// Terminate delivers final to every session in room, then closes them.
	Terminate(room RoomID, final Envelope) int
}
