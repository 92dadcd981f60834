package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"trade_desk/internal/domain"
	"trade_desk/internal/ledger"
)

const maxChatLength = 2000

// ChatRelay keeps one support thread per account between the account's room
// and the operators room.
type ChatRelay struct {
	ledger *ledger.Store
	repo   domain.ChatRepository
	pub    domain.Publisher
	now    func() time.Time
}

func NewChatRelay(store *ledger.Store, repo domain.ChatRepository, pub domain.Publisher) *ChatRelay {
	return &ChatRelay{
		ledger: store,
		repo:   repo,
		pub:    pub,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func normalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > maxChatLength {
		return "", fmt.Errorf("%w: message must be 1-%d characters", domain.ErrInvalidInput, maxChatLength)
	}
	return text, nil
}

// PostFromUser appends a message from the account owner, sends it to every
// operator and echoes it to the owner's other devices.
func (c *ChatRelay) PostFromUser(ctx context.Context, accountID, text string) (domain.ChatMessage, error) {
	text, err := normalizeText(text)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	var msg domain.ChatMessage
	err = c.ledger.Guard(ctx, accountID, func(acct domain.Account, _ domain.Balances) error {
		if acct.Banned {
			return domain.ErrBanned
		}
		msg = domain.ChatMessage{
			AccountID: accountID,
			Username:  acct.Username,
			From:      acct.Username,
			Text:      text,
			Timestamp: c.now(),
		}
		if err := c.repo.AppendMessage(ctx, &msg); err != nil {
			return domain.NewStoreError("append_message", err)
		}
		if c.pub != nil {
			ev := domain.Envelope{Event: domain.EventChatMessage, Data: msg}
			c.pub.Publish(domain.OperatorsRoom, ev)
			c.pub.Publish(domain.UserRoom(accountID), ev)
		}
		return nil
	})
	return msg, err
}

// PostFromOperator appends an operator reply to username's thread and sends it
// to that account only.
func (c *ChatRelay) PostFromOperator(ctx context.Context, actor domain.Principal, username, text string) (domain.ChatMessage, error) {
	if !actor.IsOperator() {
		return domain.ChatMessage{}, domain.ErrForbidden
	}
	text, err := normalizeText(text)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	id, err := c.ledger.Lookup(ctx, username)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	var msg domain.ChatMessage
	err = c.ledger.Guard(ctx, id, func(acct domain.Account, _ domain.Balances) error {
		msg = domain.ChatMessage{
			AccountID: id,
			Username:  acct.Username,
			From:      domain.FromOperator,
			Text:      text,
			Timestamp: c.now(),
		}
		if err := c.repo.AppendMessage(ctx, &msg); err != nil {
			return domain.NewStoreError("append_message", err)
		}
		if c.pub != nil {
			c.pub.Publish(domain.UserRoom(id), domain.Envelope{Event: domain.EventChatMessage, Data: msg})
		}
		return nil
	})
	return msg, err
}

// History returns the whole thread of an account in timestamp order.
func (c *ChatRelay) History(ctx context.Context, accountID string) ([]domain.ChatMessage, error) {
	msgs, err := c.repo.ListMessages(ctx, accountID)
	if err != nil {
		return nil, domain.NewStoreError("list_messages", err)
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

// HistoryByUsername is History keyed by username.
func (c *ChatRelay) HistoryByUsername(ctx context.Context, username string) ([]domain.ChatMessage, error) {
	id, err := c.ledger.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	return c.History(ctx, id)
}
