package stevedore

import "panelworks/stevedore/pkg/models"

// Machine-readable error codes carried in the response envelope.
const (
	ErrCodeValidation          = "validation_error"
	ErrCodeUnauthorized        = "unauthorized"
	ErrCodeForbidden           = "forbidden"
	ErrCodeNotFound            = "not_found"
	ErrCodeConflict            = "conflict"
	ErrCodeInsufficientBalance = "insufficient_balance"
	ErrCodeProviderError       = "provider_error"
	ErrCodeInternal            = "internal_error"
)

// Envelope is the uniform response wrapper for every endpoint.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// OK wraps data in a success envelope.
func OK(data interface{}) Envelope {
	return Envelope{Success: true, Data: data}
}

// OKMessage wraps data in a success envelope with a human-readable message.
func OKMessage(data interface{}, message string) Envelope {
	return Envelope{Success: true, Data: data, Message: message}
}

// Err builds a failure envelope with an error code and message.
func Err(code, message string) Envelope {
	return Envelope{Success: false, Error: code, Message: message}
}

// OrderResponse is a single order with its request history attached where
// the caller asked for it.
type OrderResponse struct {
	Order          models.Order           `json:"order"`
	CancelRequests []models.CancelRequest `json:"cancel_requests,omitempty"`
	RefillRequests []models.RefillRequest `json:"refill_requests,omitempty"`
}

// OrderListResponse is a paginated order listing.
type OrderListResponse struct {
	Orders []models.Order `json:"orders"`
	Total  int            `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

// RequestListResponse carries the cancel and refill requests for one order.
type RequestListResponse struct {
	CancelRequests []models.CancelRequest `json:"cancel_requests"`
	RefillRequests []models.RefillRequest `json:"refill_requests"`
}

// ForwardResult reports the outcome of forwarding an order to its provider.
// Error carries a machine-readable code when the order could not reach its
// expected state, for instance when a balance gate held it back.
type ForwardResult struct {
	OrderID         string  `json:"order_id"`
	Status          string  `json:"status"`
	ProviderOrderID *string `json:"provider_order_id,omitempty"`
	Forwarded       bool    `json:"forwarded"`
	Error           string  `json:"error,omitempty"`
}

// SyncResult reports the outcome of a provider status sync for one order.
type SyncResult struct {
	OrderID        string `json:"order_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	Remains        int    `json:"remains"`
	StartCount     int    `json:"start_count"`
	Changed        bool   `json:"changed"`
}

// StatisticsResponse is the admin dashboard aggregate.
type StatisticsResponse struct {
	TotalOrders     int                `json:"total_orders"`
	OrdersByStatus  map[string]int     `json:"orders_by_status"`
	TotalRevenue    float64            `json:"total_revenue"`
	TotalCharge     float64            `json:"total_charge"`
	TotalProfit     float64            `json:"total_profit"`
	TotalRefunds    float64            `json:"total_refunds"`
	PendingRequests map[string]int     `json:"pending_requests"`
	DepositsByDay   map[string]float64 `json:"deposits_by_day,omitempty"`
}

// ProviderBalanceResponse is the live balance fetched from a provider.
type ProviderBalanceResponse struct {
	ProviderID string  `json:"provider_id"`
	Balance    float64 `json:"balance"`
	Currency   string  `json:"currency"`
}
