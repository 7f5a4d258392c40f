package models

import "time"

// User roles
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// User carries the wallet fields the ledger mutates. Profile and credential
// management belong to the external auth provider and are not modeled here.
type User struct {
	ID           string  `json:"id" db:"id"`
	Email        string  `json:"email" db:"email"`
	Role         string  `json:"role" db:"role"`
	Balance      float64 `json:"balance" db:"balance"`
	BalanceUSD   float64 `json:"balance_usd" db:"balance_usd"`
	TotalSpent   float64 `json:"total_spent" db:"total_spent"`
	TotalDeposit float64 `json:"total_deposit" db:"total_deposit"`
	Currency     string  `json:"currency" db:"currency"`
	DollarRate   float64 `json:"dollar_rate" db:"dollar_rate"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
