package stevedore

// CreateOrderRequest places a new order.
type CreateOrderRequest struct {
	ServiceID string `json:"service_id" binding:"required"`
	Link      string `json:"link" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
	Runs      int    `json:"runs,omitempty"`
	Interval  int    `json:"interval,omitempty"`
}

// CreateCancelRequestRequest opens a cancellation request for an order.
type CreateCancelRequestRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CreateRefillRequestRequest opens a refill request for an order.
type CreateRefillRequestRequest struct {
	Reason string `json:"reason"`
}

// ResolveCancelRequestRequest is the admin decision on a cancel request.
// RefundType is one of full, partial, none, custom; CustomAmount is only
// read when RefundType is custom.
type ResolveCancelRequestRequest struct {
	Action       string  `json:"action" binding:"required"` // approve or decline
	RefundType   string  `json:"refund_type,omitempty"`
	CustomAmount float64 `json:"custom_amount,omitempty"`
	AdminNotes   string  `json:"admin_notes,omitempty"`
}

// ResolveRefillRequestRequest is the admin decision on a refill request.
type ResolveRefillRequestRequest struct {
	Action     string `json:"action" binding:"required"` // approve or decline
	AdminNotes string `json:"admin_notes,omitempty"`
}

// UpdateOrderStatusRequest is an admin status override.
type UpdateOrderStatusRequest struct {
	Status     string `json:"status" binding:"required"`
	Remains    *int   `json:"remains,omitempty"`
	StartCount *int   `json:"start_count,omitempty"`
}

// UpdateTransactionStatusRequest moves a deposit between pending, success
// and cancelled.
type UpdateTransactionStatusRequest struct {
	Status string `json:"status" binding:"required"`
}
