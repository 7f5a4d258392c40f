package models

import "time"

// Deposit transaction statuses.
const (
	TransactionStatusPending   = "pending"
	TransactionStatusSuccess   = "success"
	TransactionStatusCancelled = "cancelled"
)

// Transaction represents an add-funds deposit. The user's balance is
// credited exactly once per transition into success; moving a success row
// back to pending reverses the credit, clamped at the available balance.
type Transaction struct {
	ID           string  `json:"id" db:"id"`
	UserID       string  `json:"user_id" db:"user_id"`
	Amount       float64 `json:"amount" db:"amount"`
	BonusPercent float64 `json:"bonus_percent" db:"bonus_percent"`
	Method       string  `json:"method" db:"method"`
	Status       string  `json:"status" db:"status"`
	AdminStatus  *string `json:"admin_status,omitempty" db:"admin_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
