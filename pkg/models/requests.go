package models

import "time"

// Cancel/refill request statuses.
const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusDeclined = "declined"
	RequestStatusFailed   = "failed"
)

// ActiveRequestStatus reports whether a request in status s still blocks new
// requests for the same order.
func ActiveRequestStatus(s string) bool {
	return s == RequestStatusPending || s == RequestStatusApproved
}

// CancelRequest represents a user- or admin-initiated cancellation request
// for an order. At most one active (pending/approved) request exists per
// order; failed/declined rows are reopened in place rather than duplicated.
type CancelRequest struct {
	ID           string     `json:"id" db:"id"`
	OrderID      string     `json:"order_id" db:"order_id"`
	UserID       string     `json:"user_id" db:"user_id"`
	Status       string     `json:"status" db:"status"`
	Reason       string     `json:"reason" db:"reason"`
	AdminNotes   *string    `json:"admin_notes,omitempty" db:"admin_notes"`
	RefundAmount *float64   `json:"refund_amount,omitempty" db:"refund_amount"`
	ProcessedBy  *string    `json:"processed_by,omitempty" db:"processed_by"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// RefillRequest represents a refill request for a completed order whose
// delivered count dropped.
type RefillRequest struct {
	ID          string     `json:"id" db:"id"`
	OrderID     string     `json:"order_id" db:"order_id"`
	UserID      string     `json:"user_id" db:"user_id"`
	Status      string     `json:"status" db:"status"`
	Reason      string     `json:"reason" db:"reason"`
	AdminNotes  *string    `json:"admin_notes,omitempty" db:"admin_notes"`
	ProcessedBy *string    `json:"processed_by,omitempty" db:"processed_by"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
