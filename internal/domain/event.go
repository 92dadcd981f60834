package domain

// RoomID names a broadcast group of live sessions.
type RoomID string

// OperatorsRoom is shared by every connected operator.
const OperatorsRoom RoomID = "operators"

// UserRoom is the room holding every connection of one account.
func UserRoom(accountID string) RoomID {
	return RoomID("user:" + accountID)
}

// Server to client event names.
const (
	EventAuthOK         = "auth_ok"
	EventAuthError      = "auth_error"
	EventChatHistory    = "chat_history"
	EventPrices         = "prices"
	EventChatMessage    = "chat_message"
	EventBalanceUpdated = "balance_updated"
	EventTradeResult    = "trade_result"
	EventBanned         = "banned"
	EventUserUpdate     = "user_update"
	EventError          = "error"
)

// Client to server event names.
const (
	EventAuth       = "auth"
	EventTrade      = "trade"
	EventSendChat   = "send_chat"
	EventAdminReply = "admin_reply"
)

// Envelope is the wire frame of the persistent channel.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// BalanceUpdated is the payload of balance_updated.
type BalanceUpdated struct {
	Username string `json:"username"`
}

// TradeResultPayload is the payload of trade_result.
type TradeResultPayload struct {
	OK          bool         `json:"ok"`
	Reason      string       `json:"reason,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

// BannedPayload is the payload of banned; Banned=false signals an unban.
type BannedPayload struct {
	Banned  bool   `json:"banned"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload is the payload of error and auth_error.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

type AuthOKPayload struct {
	User Principal `json:"user"`
}

type ChatHistoryPayload struct {
	Messages []ChatMessage `json:"messages"`
}

type PricesPayload struct {
	Snapshot PriceSnapshot `json:"snapshot"`
}

// UserUpdatePayload tells operators to refresh their account list.
type UserUpdatePayload struct {
	Username string `json:"username,omitempty"`
}
