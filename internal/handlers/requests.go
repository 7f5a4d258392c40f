package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"panelworks/stevedore/internal/policy"
	"panelworks/stevedore/internal/provider"
	api "panelworks/stevedore/pkg/api/stevedore"
	"panelworks/stevedore/pkg/ctxkeys"
	"panelworks/stevedore/pkg/logging"
	"panelworks/stevedore/pkg/middleware"
	"panelworks/stevedore/pkg/models"
)

// CreateCancelRequest opens a cancellation request for an order the caller
// owns. A declined or failed earlier request is reopened in place so the
// history stays one row per order attempt chain.
func CreateCancelRequest(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))
	if userID == "" {
		respondErr(c, api.ErrCodeUnauthorized, "Authentication required")
		return
	}

	var req api.CreateCancelRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, api.ErrCodeValidation, "Invalid request body: "+err.Error())
		return
	}

	order, service, ok := loadOwnOrder(c, userID)
	if !ok {
		return
	}
	if err := policy.CanRequestCancel(order, service); err != nil {
		respondErr(c, api.ErrCodeValidation, err.Error())
		return
	}

	request, err := upsertRequest("cancel_requests", order.ID, userID, req.Reason, func(status string) bool {
		return status == models.OrderStatusPending || status == models.OrderStatusProcessing
	})
	if err != nil {
		if errors.Is(err, errActiveRequestExists) {
			respondErr(c, api.ErrCodeConflict, "An active cancel request already exists for this order")
			return
		}
		if errors.Is(err, errOrderStateChanged) {
			respondErr(c, api.ErrCodeConflict, "Order can no longer be cancelled")
			return
		}
		logger.WithError(err).WithFields(logging.Fields{"order_id": order.ID}).Error("Failed to create cancel request")
		respondErr(c, api.ErrCodeInternal, "Failed to create cancel request")
		return
	}

	respondCreated(c, request)
}

// CreateRefillRequest opens a refill request for a completed order inside
// the service's refill window.
func CreateRefillRequest(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))
	if userID == "" {
		respondErr(c, api.ErrCodeUnauthorized, "Authentication required")
		return
	}

	var req api.CreateRefillRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, api.ErrCodeValidation, "Invalid request body: "+err.Error())
		return
	}

	order, service, ok := loadOwnOrder(c, userID)
	if !ok {
		return
	}
	if err := policy.CanRequestRefill(order, service, time.Now()); err != nil {
		respondErr(c, api.ErrCodeValidation, err.Error())
		return
	}

	request, err := upsertRequest("refill_requests", order.ID, userID, req.Reason, func(status string) bool {
		return status == models.OrderStatusCompleted
	})
	if err != nil {
		if errors.Is(err, errActiveRequestExists) {
			respondErr(c, api.ErrCodeConflict, "An active refill request already exists for this order")
			return
		}
		if errors.Is(err, errOrderStateChanged) {
			respondErr(c, api.ErrCodeConflict, "Order is no longer eligible for refill")
			return
		}
		logger.WithError(err).WithFields(logging.Fields{"order_id": order.ID}).Error("Failed to create refill request")
		respondErr(c, api.ErrCodeInternal, "Failed to create refill request")
		return
	}

	respondCreated(c, request)
}

func loadOwnOrder(c middleware.Context, userID string) (*models.Order, *models.Service, bool) {
	orderID := c.Param("id")
	order, err := getOrder(orderID)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(c, api.ErrCodeNotFound, "Order not found")
		return nil, nil, false
	} else if err != nil {
		logger.WithError(err).Error("Failed to load order")
		respondErr(c, api.ErrCodeInternal, "Failed to load order")
		return nil, nil, false
	}
	if order.UserID != userID {
		respondErr(c, api.ErrCodeNotFound, "Order not found")
		return nil, nil, false
	}
	service, err := getService(order.ServiceID)
	if err != nil {
		logger.WithError(err).Error("Failed to load service")
		respondErr(c, api.ErrCodeInternal, "Failed to load order")
		return nil, nil, false
	}
	return order, service, true
}

var (
	errActiveRequestExists = errors.New("active request exists")
	errOrderStateChanged   = errors.New("order status changed")
)

type requestRow struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	Reopened  bool      `json:"reopened"`
}

// upsertRequest enforces the one-active-request rule: an active row blocks,
// a declined or failed row is reopened, no row means a fresh insert. The
// order is locked and its status re-checked inside the transaction because
// the eligibility gate ran on a snapshot that a concurrent sync or admin
// override may have invalidated. The latest request row is locked too so
// two concurrent submissions serialize.
func upsertRequest(table, orderID, userID, reason string, statusOK func(string) bool) (*requestRow, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var orderStatus string
	err = tx.QueryRow(`
		SELECT status FROM orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&orderStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	if !statusOK(orderStatus) {
		return nil, errOrderStateChanged
	}

	var existingID, existingStatus string
	err = tx.QueryRow(`
		SELECT id, status FROM `+table+`
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, orderID).Scan(&existingID, &existingStatus)

	request := &requestRow{OrderID: orderID, UserID: userID, Status: models.RequestStatusPending, Reason: reason}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRow(`
			INSERT INTO `+table+` (order_id, user_id, status, reason)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, orderID, userID, models.RequestStatusPending, reason).Scan(&request.ID, &request.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert request: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to check existing request: %w", err)
	case models.ActiveRequestStatus(existingStatus):
		return nil, errActiveRequestExists
	default:
		// Reopen the declined/failed row instead of stacking a new one
		err = tx.QueryRow(`
			UPDATE `+table+`
			SET status = $1, reason = $2, admin_notes = NULL,
			    processed_by = NULL, processed_at = NULL, updated_at = NOW()
			WHERE id = $3
			RETURNING created_at
		`, models.RequestStatusPending, reason, existingID).Scan(&request.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to reopen request: %w", err)
		}
		request.ID = existingID
		request.Reopened = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit request: %w", err)
	}
	return request, nil
}

// ResolveCancelRequest is the admin decision on a cancel request. For a
// forwarded order the provider has to accept the cancellation before any
// money moves; an upstream rejection marks the request failed and leaves
// the order alone. Once the provider side is settled (or there is no
// provider side) the order flips to cancelled and the refund credits in
// one transaction, sized by the requested refund type.
func ResolveCancelRequest(c middleware.Context) {
	requestID := c.Param("id")
	adminID := c.GetString(string(ctxkeys.KeyUserID))

	var req api.ResolveCancelRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, api.ErrCodeValidation, "Invalid request body: "+err.Error())
		return
	}

	switch req.Action {
	case "decline":
		declined, err := declineRequest("cancel_requests", requestID, adminID, req.AdminNotes)
		if err != nil {
			logger.WithError(err).Error("Failed to decline cancel request")
			respondErr(c, api.ErrCodeInternal, "Failed to decline request")
			return
		}
		if !declined {
			respondErr(c, api.ErrCodeConflict, "Request is not pending")
			return
		}
		respondMessage(c, nil, "Cancel request declined")
	case "approve":
		refundType := req.RefundType
		if refundType == "" {
			refundType = policy.RefundFull
		}

		var orderID, status string
		err := db.QueryRow(`
			SELECT order_id, status FROM cancel_requests WHERE id = $1
		`, requestID).Scan(&orderID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			respondErr(c, api.ErrCodeNotFound, "Request not found")
			return
		} else if err != nil {
			logger.WithError(err).Error("Failed to load cancel request")
			respondErr(c, api.ErrCodeInternal, "Failed to approve request")
			return
		}
		if status != models.RequestStatusPending {
			respondErr(c, api.ErrCodeConflict, "Request is not pending")
			return
		}

		target, err := loadForwardTarget(orderID)
		if err != nil {
			logger.WithError(err).Error("Failed to resolve cancel target")
			respondErr(c, api.ErrCodeInternal, "Failed to approve request")
			return
		}
		if target.provider != nil && target.provider.IsActive && target.order.ProviderOrderID != nil {
			if err := cancelProviderOrder(c.Request.Context(), target); err != nil {
				if dbErr := setRequestStatus("cancel_requests", requestID, models.RequestStatusFailed, adminID, req.AdminNotes); dbErr != nil {
					logger.WithError(dbErr).Error("Failed to mark cancel request failed")
				}
				respondErr(c, api.ErrCodeProviderError, "Provider rejected the cancellation")
				return
			}
		}

		_, refund, err := approveCancelRequest(requestID, adminID, refundType, req.CustomAmount, req.AdminNotes)
		if err != nil {
			switch {
			case errors.Is(err, errRequestNotPending):
				respondErr(c, api.ErrCodeConflict, "Request is not pending")
			case errors.Is(err, errOrderNotCancellable):
				respondErr(c, api.ErrCodeConflict, "Order can no longer be cancelled")
			default:
				var badRefund *refundInputError
				if errors.As(err, &badRefund) {
					respondErr(c, api.ErrCodeValidation, badRefund.Error())
					return
				}
				logger.WithError(err).Error("Failed to approve cancel request")
				respondErr(c, api.ErrCodeInternal, "Failed to approve request")
			}
			return
		}

		if metrics != nil {
			metrics.RefundsIssued.WithLabelValues(refundType).Inc()
		}

		respondMessage(c, map[string]interface{}{
			"order_id":      orderID,
			"refund_amount": refund,
		}, "Cancel request approved")
	default:
		respondErr(c, api.ErrCodeValidation, "Action must be approve or decline")
	}
}

var (
	errRequestNotPending   = errors.New("request is not pending")
	errOrderNotCancellable = errors.New("order is not cancellable")
)

type refundInputError struct{ err error }

func (e *refundInputError) Error() string { return e.err.Error() }
func (e *refundInputError) Unwrap() error { return e.err }

// approveCancelRequest flips the order to cancelled and credits the refund
// atomically. Request, order and user rows are locked in that sequence. A
// pending order was never charged, so cancelling one moves no money no
// matter what refund type was asked for.
func approveCancelRequest(requestID, adminID, refundType string, customAmount float64, adminNotes string) (string, float64, error) {
	tx, err := db.Begin()
	if err != nil {
		return "", 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var orderID, status string
	err = tx.QueryRow(`
		SELECT order_id, status FROM cancel_requests WHERE id = $1 FOR UPDATE
	`, requestID).Scan(&orderID, &status)
	if err != nil {
		return "", 0, fmt.Errorf("failed to lock cancel request: %w", err)
	}
	if status != models.RequestStatusPending {
		return "", 0, errRequestNotPending
	}

	var userID, orderStatus string
	var price float64
	var remains, quantity int
	err = tx.QueryRow(`
		SELECT user_id, status, price, remains, quantity FROM orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&userID, &orderStatus, &price, &remains, &quantity)
	if err != nil {
		return "", 0, fmt.Errorf("failed to lock order: %w", err)
	}
	if orderStatus != models.OrderStatusPending && orderStatus != models.OrderStatusProcessing {
		return "", 0, errOrderNotCancellable
	}

	var refund float64
	if orderCharged(orderStatus) {
		refund, err = policy.ComputeRefund(refundType, price, remains, quantity, customAmount)
		if err != nil {
			return "", 0, &refundInputError{err: err}
		}
	}

	if refund > 0 {
		_, err = tx.Exec(`
			UPDATE users
			SET balance = balance + $1, total_spent = total_spent - $1, updated_at = NOW()
			WHERE id = $2
		`, refund, userID)
		if err != nil {
			return "", 0, fmt.Errorf("failed to credit refund: %w", err)
		}
	}

	_, err = tx.Exec(`
		UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2
	`, models.OrderStatusCancelled, orderID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to cancel order: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE cancel_requests
		SET status = $1, refund_amount = $2, admin_notes = NULLIF($3, ''),
		    processed_by = $4, processed_at = NOW(), updated_at = NOW()
		WHERE id = $5
	`, models.RequestStatusApproved, refund, adminNotes, adminID, requestID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to approve cancel request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("failed to commit cancel approval: %w", err)
	}

	logger.WithFields(logging.Fields{
		"order_id":      orderID,
		"request_id":    requestID,
		"refund_type":   refundType,
		"refund_amount": refund,
	}).Info("Cancel request approved")
	return orderID, refund, nil
}

// cancelProviderOrder asks the provider to cancel a forwarded order. The
// call is audited like every other provider call.
func cancelProviderOrder(ctx context.Context, target *forwardTarget) error {
	orderID := target.order.ID
	request := models.JSONB{"action": provider.ActionCancel, "order": *target.order.ProviderOrderID}
	logID, err := logProviderIntent(orderID, target.provider.ID, provider.ActionCancel, request)
	if err != nil {
		return fmt.Errorf("failed to write provider intent log: %w", err)
	}

	start := time.Now()
	err = newProviderClient(target.spec).Cancel(ctx, *target.order.ProviderOrderID)
	observeProviderCall(provider.ActionCancel, start, err)
	if err != nil {
		finishProviderLog(logID, models.ProviderLogOutcomeFailure, models.JSONB{"error": err.Error()})
		logger.WithError(err).WithFields(logging.Fields{"order_id": orderID}).Warn("Upstream cancel failed")
		return err
	}
	finishProviderLog(logID, models.ProviderLogOutcomeSuccess, nil)
	return nil
}

// ResolveRefillRequest is the admin decision on a refill request. Approval
// requires the provider to accept the refill; a rejected upstream call
// marks the request failed so the user can submit again.
func ResolveRefillRequest(c middleware.Context) {
	requestID := c.Param("id")
	adminID := c.GetString(string(ctxkeys.KeyUserID))

	var req api.ResolveRefillRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, api.ErrCodeValidation, "Invalid request body: "+err.Error())
		return
	}

	switch req.Action {
	case "decline":
		declined, err := declineRequest("refill_requests", requestID, adminID, req.AdminNotes)
		if err != nil {
			logger.WithError(err).Error("Failed to decline refill request")
			respondErr(c, api.ErrCodeInternal, "Failed to decline request")
			return
		}
		if !declined {
			respondErr(c, api.ErrCodeConflict, "Request is not pending")
			return
		}
		respondMessage(c, nil, "Refill request declined")
	case "approve":
		if err := approveRefillRequest(c, requestID, adminID, req.AdminNotes); err != nil {
			return
		}
		respondMessage(c, nil, "Refill request approved")
	default:
		respondErr(c, api.ErrCodeValidation, "Action must be approve or decline")
	}
}

func approveRefillRequest(c middleware.Context, requestID, adminID, adminNotes string) error {
	var orderID, status string
	err := db.QueryRow(`
		SELECT order_id, status FROM refill_requests WHERE id = $1
	`, requestID).Scan(&orderID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(c, api.ErrCodeNotFound, "Request not found")
		return err
	} else if err != nil {
		logger.WithError(err).Error("Failed to load refill request")
		respondErr(c, api.ErrCodeInternal, "Failed to approve request")
		return err
	}
	if status != models.RequestStatusPending {
		respondErr(c, api.ErrCodeConflict, "Request is not pending")
		return errRequestNotPending
	}

	target, err := loadForwardTarget(orderID)
	if err != nil {
		logger.WithError(err).Error("Failed to resolve refill target")
		respondErr(c, api.ErrCodeInternal, "Failed to approve request")
		return err
	}
	if target.provider == nil || target.order.ProviderOrderID == nil {
		// Manual service: approving is just bookkeeping, staff do the refill
		if err := setRequestStatus("refill_requests", requestID, models.RequestStatusApproved, adminID, adminNotes); err != nil {
			logger.WithError(err).Error("Failed to approve refill request")
			respondErr(c, api.ErrCodeInternal, "Failed to approve request")
			return err
		}
		return nil
	}

	request := models.JSONB{"action": provider.ActionRefill, "order": *target.order.ProviderOrderID}
	logID, err := logProviderIntent(orderID, target.provider.ID, provider.ActionRefill, request)
	if err != nil {
		logger.WithError(err).Error("Failed to write provider intent log")
		respondErr(c, api.ErrCodeInternal, "Failed to approve request")
		return err
	}

	start := time.Now()
	err = newProviderClient(target.spec).Refill(c.Request.Context(), *target.order.ProviderOrderID)
	observeProviderCall(provider.ActionRefill, start, err)
	if err != nil {
		finishProviderLog(logID, models.ProviderLogOutcomeFailure, models.JSONB{"error": err.Error()})
		if dbErr := setRequestStatus("refill_requests", requestID, models.RequestStatusFailed, adminID, adminNotes); dbErr != nil {
			logger.WithError(dbErr).Error("Failed to mark refill request failed")
		}
		logger.WithError(err).WithFields(logging.Fields{"order_id": orderID}).Warn("Upstream refill failed")
		respondErr(c, api.ErrCodeProviderError, "Provider rejected the refill")
		return err
	}
	finishProviderLog(logID, models.ProviderLogOutcomeSuccess, nil)

	if err := setRequestStatus("refill_requests", requestID, models.RequestStatusApproved, adminID, adminNotes); err != nil {
		logger.WithError(err).Error("Failed to approve refill request")
		respondErr(c, api.ErrCodeInternal, "Failed to approve request")
		return err
	}
	return nil
}

// declineRequest flips a pending request to declined. Returns false when
// the row was not pending anymore.
func declineRequest(table, requestID, adminID, adminNotes string) (bool, error) {
	res, err := db.Exec(`
		UPDATE `+table+`
		SET status = $1, admin_notes = NULLIF($2, ''), processed_by = $3,
		    processed_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, models.RequestStatusDeclined, adminNotes, adminID, requestID, models.RequestStatusPending)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func setRequestStatus(table, requestID, status, adminID, adminNotes string) error {
	_, err := db.Exec(`
		UPDATE `+table+`
		SET status = $1, admin_notes = NULLIF($2, ''), processed_by = $3,
		    processed_at = NOW(), updated_at = NOW()
		WHERE id = $4
	`, status, adminNotes, adminID, requestID)
	return err
}

func listCancelRequests(orderID string) ([]models.CancelRequest, error) {
	rows, err := db.Query(`
		SELECT id, order_id, user_id, status, reason, admin_notes, refund_amount,
		       processed_by, processed_at, created_at, updated_at
		FROM cancel_requests WHERE order_id = $1 ORDER BY created_at DESC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []models.CancelRequest{}
	for rows.Next() {
		var r models.CancelRequest
		if err := rows.Scan(&r.ID, &r.OrderID, &r.UserID, &r.Status, &r.Reason,
			&r.AdminNotes, &r.RefundAmount, &r.ProcessedBy, &r.ProcessedAt,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func listRefillRequests(orderID string) ([]models.RefillRequest, error) {
	rows, err := db.Query(`
		SELECT id, order_id, user_id, status, reason, admin_notes,
		       processed_by, processed_at, created_at, updated_at
		FROM refill_requests WHERE order_id = $1 ORDER BY created_at DESC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []models.RefillRequest{}
	for rows.Next() {
		var r models.RefillRequest
		if err := rows.Scan(&r.ID, &r.OrderID, &r.UserID, &r.Status, &r.Reason,
			&r.AdminNotes, &r.ProcessedBy, &r.ProcessedAt,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}
