package domain

import (
	"time"
)

// Role is the privilege level carried by a principal.
type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
)

// OperatorID is the account id of the reserved operator identity.
// The operator never has a stored account record.
const OperatorID = "operator"

// Account is a registered user. Balances are owned by the ledger, not this record.
type Account struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex" json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Banned       bool      `gorm:"index" json:"banned"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal is the verified identity attached to a request or a connection.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// IsOperator reports whether the principal holds the operator role.
func (p Principal) IsOperator() bool {
	return p.Role == RoleOperator
}

// AccountView is the operator-facing listing row.
type AccountView struct {
	Username string   `json:"username"`
	Balances Balances `json:"balances"`
	Banned   bool     `json:"banned"`
}
