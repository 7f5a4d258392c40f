package models

import "time"

// Canonical order statuses. Provider vocabulary is normalized to this set
// before anything is persisted.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusPartial    = "partial"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
	OrderStatusFailed     = "failed"
)

// Provider-side forwarding markers stored in provider_status.
const (
	ProviderStatusForwarded     = "forwarded"
	ProviderStatusForwardFailed = "forward_failed"
)

// ValidOrderStatus reports whether s is one of the canonical order statuses.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted,
		OrderStatusPartial, OrderStatusCancelled, OrderStatusRefunded,
		OrderStatusFailed:
		return true
	}
	return false
}

// TerminalOrderStatus reports whether an order in status s can no longer
// move along the normal delivery path.
func TerminalOrderStatus(s string) bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed:
		return true
	}
	return false
}

// Order represents a placed panel order, possibly forwarded to an upstream
// provider.
type Order struct {
	ID        string `json:"id" db:"id"`
	UserID    string `json:"user_id" db:"user_id"`
	ServiceID string `json:"service_id" db:"service_id"`
	Link      string `json:"link" db:"link"`
	Quantity  int    `json:"quantity" db:"quantity"`

	// Pricing: price is in the user's local currency, usd_price is the USD
	// equivalent at order time. Charge is what the upstream provider billed
	// us, profit = usd_price - charge.
	Price    float64 `json:"price" db:"price"`
	USDPrice float64 `json:"usd_price" db:"usd_price"`
	Currency string  `json:"currency" db:"currency"`
	Charge   float64 `json:"charge" db:"charge"`
	Profit   float64 `json:"profit" db:"profit"`

	Status     string `json:"status" db:"status"`
	Remains    int    `json:"remains" db:"remains"`
	StartCount int    `json:"start_count" db:"start_count"`

	// Provider linkage; nil for manually-fulfilled services or before
	// forwarding succeeded.
	ProviderOrderID *string `json:"provider_order_id,omitempty" db:"provider_order_id"`
	ProviderStatus  *string `json:"provider_status,omitempty" db:"provider_status"`

	// Dripfeed parameters
	Runs     int `json:"runs" db:"runs"`
	Interval int `json:"interval" db:"interval"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
