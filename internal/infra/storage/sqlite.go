package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trade_desk/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// balanceRecord is one materialized balance row. It is a cache of the transaction log.
type balanceRecord struct {
	AccountID string          `gorm:"primaryKey"`
	Currency  string          `gorm:"primaryKey"`
	Amount    decimal.Decimal `gorm:"type:text"`
	UpdatedAt time.Time
}

func (balanceRecord) TableName() string {
	return "balances"
}

// Storage is the gorm-backed repository for accounts, ledger, chat and currency metadata.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens the configured driver ("sqlite" or "postgres") and migrates the schema.
func NewStorage(driver, dsn string) (*Storage, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create DB directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
	return Open(dialector)
}

// Open connects through any gorm dialector and migrates the schema.
func Open(dialector gorm.Dialector) (*Storage, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&domain.Account{},
		&balanceRecord{},
		&domain.Transaction{},
		&domain.ChatMessage{},
		&domain.CurrencyInfo{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Account Operations
// ======================================================================================

// CreateAccount inserts a new account; a duplicate username yields ErrUsernameTaken.
func (s *Storage) CreateAccount(ctx context.Context, acct *domain.Account) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Account{}).Where("username = ?", acct.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrUsernameTaken
		}
		err := tx.Create(acct).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrUsernameTaken
		}
		return err
	})
}

// GetAccount retrieves an account by id
func (s *Storage) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var acct domain.Account
	err := s.db.WithContext(ctx).First(&acct, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetAccountByUsername retrieves an account by username
func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	var acct domain.Account
	err := s.db.WithContext(ctx).First(&acct, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// ListAccounts returns all accounts ordered by username
func (s *Storage) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	err := s.db.WithContext(ctx).Order("username").Find(&accounts).Error
	return accounts, err
}

// SetBanned persists the ban flag
func (s *Storage) SetBanned(ctx context.Context, id string, banned bool) error {
	res := s.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Update("banned", banned)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ======================================================================================
// Ledger Operations
// ======================================================================================

// LoadBalances reads the materialized balance rows of an account
func (s *Storage) LoadBalances(ctx context.Context, accountID string) (domain.Balances, error) {
	var rows []balanceRecord
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(domain.Balances, len(rows))
	for _, r := range rows {
		out[r.Currency] = r.Amount
	}
	return out, nil
}

// LastSeq returns the highest transaction sequence of an account, 0 when empty
func (s *Storage) LastSeq(ctx context.Context, accountID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("account_id = ?", accountID).
		Select("MAX(seq)").Row().Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// Commit appends the transactions and upserts the changed balances in one database transaction
func (s *Storage) Commit(ctx context.Context, accountID string, changed domain.Balances, txs []domain.Transaction) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(txs) > 0 {
			if err := tx.Create(&txs).Error; err != nil {
				return err
			}
		}
		now := time.Now()
		for cur, amt := range changed {
			rec := balanceRecord{AccountID: accountID, Currency: cur, Amount: amt, UpdatedAt: now}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account_id"}, {Name: "currency"}},
				DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
			}).Create(&rec).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ListTransactions returns the log ordered by timestamp then sequence
func (s *Storage) ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	q := s.db.WithContext(ctx).Order("timestamp, seq")
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	var txs []domain.Transaction
	err := q.Find(&txs).Error
	return txs, err
}

// ======================================================================================
// Chat Operations
// ======================================================================================

// AppendMessage stores a chat message and assigns its id
func (s *Storage) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

// ListMessages returns a thread in timestamp order
func (s *Storage) ListMessages(ctx context.Context, accountID string) ([]domain.ChatMessage, error) {
	var msgs []domain.ChatMessage
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("timestamp, id").Find(&msgs).Error
	return msgs, err
}

// ======================================================================================
// Currency Operations
// ======================================================================================

// UpsertCurrency creates or updates currency metadata
func (s *Storage) UpsertCurrency(info *domain.CurrencyInfo) error {
	return s.db.Save(info).Error
}

// GetCurrency retrieves currency metadata by code
func (s *Storage) GetCurrency(code string) (*domain.CurrencyInfo, error) {
	var info domain.CurrencyInfo
	err := s.db.First(&info, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &info, err
}

// ListCurrencies retrieves all currency metadata
func (s *Storage) ListCurrencies() ([]domain.CurrencyInfo, error) {
	var out []domain.CurrencyInfo
	err := s.db.Order("code").Find(&out).Error
	return out, err
}
