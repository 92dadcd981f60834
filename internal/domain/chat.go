package domain

import "time"

const (
	FromOperator = "operator"
	FromSystem   = "system"
)

// ChatMessage is one entry of a user's support thread.
// AccountID owns the thread; From is the thread owner's username, "operator" or "system".
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID string    `gorm:"index" json:"-"`
	Username  string    `json:"user"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `gorm:"index" json:"time"`
}
