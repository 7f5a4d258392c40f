package models

import "time"

// Provider represents an upstream reseller account orders are forwarded to.
type Provider struct {
	ID             string  `json:"id" db:"id"`
	Name           string  `json:"name" db:"name"`
	APIURL         string  `json:"api_url" db:"api_url"`
	APIKey         string  `json:"-" db:"api_key"`
	HTTPMethod     string  `json:"http_method" db:"http_method"`
	TimeoutSeconds int     `json:"timeout_seconds" db:"timeout_seconds"`
	Balance        float64 `json:"balance" db:"balance"`
	IsActive       bool    `json:"is_active" db:"is_active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ProviderOrderLog is an append-only audit record of a provider call.
// The row is written before the call goes out and updated with the result,
// so a crash mid-call still leaves an intent record behind.
const (
	ProviderLogOutcomePending = "pending"
	ProviderLogOutcomeSuccess = "success"
	ProviderLogOutcomeFailure = "failure"
)

type ProviderOrderLog struct {
	ID         string    `json:"id" db:"id"`
	OrderID    string    `json:"order_id" db:"order_id"`
	ProviderID string    `json:"provider_id" db:"provider_id"`
	Action     string    `json:"action" db:"action"`
	Request    JSONB     `json:"request" db:"request"`
	Response   JSONB     `json:"response" db:"response"`
	Outcome    string    `json:"outcome" db:"outcome"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
