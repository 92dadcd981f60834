package service

import (
	"context"
	"log/slog"

	"trade_desk/internal/domain"
	"trade_desk/internal/ledger"

	"github.com/shopspring/decimal"
)

const (
	bannedMessage   = "Your account has been banned by admin."
	unbannedMessage = "Your account has been unbanned."
)

// Moderator applies operator actions on accounts.
type Moderator struct {
	ledger *ledger.Store
	pub    domain.Publisher
}

func NewModerator(store *ledger.Store, pub domain.Publisher) *Moderator {
	return &Moderator{ledger: store, pub: pub}
}

// SetBanned persists the flag. A ban delivers a terminal banned notice to
// every live connection of the account, then closes them. The notice goes out
// under the account lock, after any trade already in flight has published.
func (m *Moderator) SetBanned(ctx context.Context, actor domain.Principal, username string, banned bool) error {
	if !actor.IsOperator() {
		return domain.ErrForbidden
	}
	id, err := m.ledger.Lookup(ctx, username)
	if err != nil {
		return err
	}

	_, err = m.ledger.SetBanned(ctx, id, banned, func(acct domain.Account) {
		if m.pub == nil {
			return
		}
		if banned {
			n := m.pub.Terminate(domain.UserRoom(id), domain.Envelope{
				Event: domain.EventBanned,
				Data:  domain.BannedPayload{Banned: true, Message: bannedMessage},
			})
			slog.Info("Account banned", slog.String("account", id), slog.Int("sessions_closed", n))
		} else {
			m.pub.Publish(domain.UserRoom(id), domain.Envelope{
				Event: domain.EventBanned,
				Data:  domain.BannedPayload{Banned: false, Message: unbannedMessage},
			})
			slog.Info("Account unbanned", slog.String("account", id))
		}
		m.pub.Publish(domain.OperatorsRoom, domain.Envelope{
			Event: domain.EventUserUpdate,
			Data:  domain.UserUpdatePayload{Username: acct.Username},
		})
	})
	return err
}

// SetBalance sets an absolute balance; the ledger records the signed delta.
func (m *Moderator) SetBalance(ctx context.Context, actor domain.Principal, username, currency string, amount decimal.Decimal) (ledger.Result, error) {
	if !actor.IsOperator() {
		return ledger.Result{}, domain.ErrForbidden
	}
	id, err := m.ledger.Lookup(ctx, username)
	if err != nil {
		return ledger.Result{}, err
	}
	res, err := m.ledger.Mutate(ctx, id, ledger.SetBalance(currency, amount), func(r ledger.Result) {
		notifyBalance(m.pub, r.Account)
	})
	if err != nil {
		return ledger.Result{}, err
	}
	slog.Info("Balance set by operator",
		slog.String("account", id),
		slog.String("currency", currency),
		slog.String("amount", amount.String()))
	return res, nil
}
