package domain

import (
	"fmt"
	"strings"
	"time"
)

// SupportedCurrencies is the allow-list of ledger currency codes.
var SupportedCurrencies = []string{"EUR", "BTC", "ETH", "USDT", "XRP", "LTC"}

var currencyNames = map[string]string{
	"EUR":  "Euro",
	"BTC":  "Bitcoin",
	"ETH":  "Ethereum",
	"USDT": "Tether",
	"XRP":  "XRP",
	"LTC":  "Litecoin",
}

// NormalizeCurrency upper-cases a code and checks it against the allow-list.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if _, ok := currencyNames[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return c, nil
}

// CurrencyName returns the display name for a supported code.
func CurrencyName(code string) string {
	return currencyNames[code]
}

// CurrencyInfo is display metadata for a supported currency.
type CurrencyInfo struct {
	Code         string    `gorm:"primaryKey" json:"code"`
	Name         string    `json:"name"`
	IconPath     string    `json:"icon_path"`
	LastSyncedAt time.Time `json:"last_synced_at"` // Last icon sync time
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
