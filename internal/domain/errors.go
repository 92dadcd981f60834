package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// StoreError wraps a persistence failure. The operation did not commit and
// in-memory state was left at the last committed value.
type StoreError struct {
	Op  string // Operation that failed (e.g., "commit", "load", "set_banned")
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) IsRetriable() bool {
	return true
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err unless it is already a domain error the caller must see as-is.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if reasonOf(err) != "" {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrUnauthenticated is returned for a missing, malformed or expired credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when the principal's role does not allow the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidCredentials is returned on a username/secret mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountNotFound is returned when no account matches the id or username.
	ErrAccountNotFound = errors.New("account not found")

	// ErrBanned is returned when a banned account authenticates or acts.
	ErrBanned = errors.New("account banned")

	// ErrInvalidAmount is returned for a non-positive amount or unknown currency.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnsupportedCurrency is an ErrInvalidAmount for codes outside the allow-list.
	ErrUnsupportedCurrency = fmt.Errorf("%w: unsupported currency", ErrInvalidAmount)

	// ErrInsufficientFunds is returned when a debit would take a balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoPrice is returned when the snapshot has no positive price for a pair.
	ErrNoPrice = errors.New("no price")

	// ErrUsernameTaken is returned on registration with an existing or reserved username.
	ErrUsernameTaken = errors.New("username taken")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLedgerDivergence is returned when a replayed log disagrees with the cached balances.
	ErrLedgerDivergence = errors.New("ledger divergence")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrUnauthenticated, "unauthenticated"},
	{ErrForbidden, "forbidden"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrAccountNotFound, "account_not_found"},
	{ErrBanned, "banned"},
	{ErrUnsupportedCurrency, "unsupported_currency"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrNoPrice, "no_price"},
	{ErrUsernameTaken, "username_taken"},
	{ErrInvalidInput, "invalid_input"},
	{ErrLedgerDivergence, "ledger_divergence"},
}

func reasonOf(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ""
}

// ReasonInternal is the reason for anything outside the taxonomy,
// persistence failures included.
const ReasonInternal = "internal_error"

// Reason maps an error to the short code shown to clients.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if r := reasonOf(err); r != "" {
		return r
	}
	return ReasonInternal
}
