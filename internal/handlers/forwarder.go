package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"panelworks/stevedore/internal/policy"
	"panelworks/stevedore/internal/provider"
	api "panelworks/stevedore/pkg/api/stevedore"
	"panelworks/stevedore/pkg/logging"
	"panelworks/stevedore/pkg/middleware"
	"panelworks/stevedore/pkg/models"
)

// forwardTarget carries everything one provider call needs.
type forwardTarget struct {
	order    *models.Order
	service  *models.Service
	provider *models.Provider
	spec     provider.Spec
}

// loadForwardTarget resolves an order through its service to the provider
// account, validating the provider spec on the way.
func loadForwardTarget(orderID string) (*forwardTarget, error) {
	order, err := getOrder(orderID)
	if err != nil {
		return nil, err
	}
	service, err := getService(order.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load service: %w", err)
	}
	if !service.Forwardable() {
		return &forwardTarget{order: order, service: service}, nil
	}

	var p models.Provider
	err = db.QueryRow(`
		SELECT id, name, api_url, api_key, http_method, timeout_seconds, balance, is_active
		FROM providers WHERE id = $1
	`, *service.ProviderID).Scan(
		&p.ID, &p.Name, &p.APIURL, &p.APIKey, &p.HTTPMethod,
		&p.TimeoutSeconds, &p.Balance, &p.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider: %w", err)
	}

	spec, err := provider.SpecFromProvider(&p)
	if err != nil {
		return nil, fmt.Errorf("provider %s misconfigured: %w", p.ID, err)
	}
	return &forwardTarget{order: order, service: service, provider: &p, spec: spec}, nil
}

// forwardOrder pushes a pending order to its upstream provider. The call
// sequence is ordered so the most expensive thing to lose, the provider's
// order id, is persisted the moment it exists: gates first (provider
// active, provider account balance), then the audited add call, then the
// id write, then a status read that seeds charge and delivery counters and
// activates the order. A failed add marks the order failed so staff can
// resend it; a failed seed leaves it pending with its id for sync to pick
// up.
func forwardOrder(ctx context.Context, orderID string) api.ForwardResult {
	result := api.ForwardResult{OrderID: orderID, Status: models.OrderStatusPending}

	target, err := loadForwardTarget(orderID)
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{"order_id": orderID}).Error("Failed to resolve forward target")
		return result
	}
	result.Status = target.order.Status

	if target.provider == nil {
		// Manual fulfillment, nothing to forward
		return result
	}
	if !target.provider.IsActive {
		// A disabled provider is not retried; fail the order so the resend
		// path can pick it up once the provider is back
		if target.order.Status == models.OrderStatusPending {
			if dbErr := markForwardFailed(orderID); dbErr != nil {
				logger.WithError(dbErr).WithFields(logging.Fields{"order_id": orderID}).Error("Failed to mark order failed")
			} else {
				result.Status = models.OrderStatusFailed
			}
		}
		result.Error = api.ErrCodeValidation
		logger.WithFields(logging.Fields{
			"order_id":    orderID,
			"provider_id": target.provider.ID,
		}).Warn("Provider is disabled, order not forwarded")
		return result
	}
	if target.order.Status != models.OrderStatusPending || target.order.ProviderOrderID != nil {
		return result
	}

	// The provider account has to cover the upstream cost before anything
	// is placed.
	if target.provider.Balance < target.order.USDPrice {
		result.Error = api.ErrCodeInsufficientBalance
		logger.WithFields(logging.Fields{
			"order_id":         orderID,
			"provider_id":      target.provider.ID,
			"provider_balance": target.provider.Balance,
			"order_cost":       target.order.USDPrice,
		}).Warn("Provider balance too low to forward order")
		return result
	}

	form := provider.BuildAddOrder(target.spec, *target.service.ProviderServiceID,
		target.order.Link, target.order.Quantity, target.order.Runs, target.order.Interval)
	request := models.JSONB{}
	for k := range form {
		request[k] = form.Get(k)
	}

	logID, err := logProviderIntent(orderID, target.provider.ID, provider.ActionAdd, request)
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{"order_id": orderID}).Error("Failed to write provider intent log")
		return result
	}

	start := time.Now()
	added, err := newProviderClient(target.spec).AddOrder(ctx,
		*target.service.ProviderServiceID, target.order.Link,
		target.order.Quantity, target.order.Runs, target.order.Interval)
	observeProviderCall(provider.ActionAdd, start, err)

	if err != nil {
		finishProviderLog(logID, models.ProviderLogOutcomeFailure, models.JSONB{"error": err.Error()})

		// No provider order id exists yet, so failing hard loses nothing
		// and makes the order eligible for resend.
		if dbErr := markForwardFailed(orderID); dbErr != nil {
			logger.WithError(dbErr).WithFields(logging.Fields{"order_id": orderID}).Error("Failed to mark order failed")
		} else {
			result.Status = models.OrderStatusFailed
		}
		result.Error = api.ErrCodeProviderError
		logger.WithError(err).WithFields(logging.Fields{
			"order_id":    orderID,
			"provider_id": target.provider.ID,
		}).Warn("Order forwarding failed")
		return result
	}

	finishProviderLog(logID, models.ProviderLogOutcomeSuccess, models.JSONB{
		"order":  added.OrderID,
		"charge": added.Charge,
	})

	_, err = db.Exec(`
		UPDATE orders
		SET provider_order_id = $1, provider_status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4 AND provider_order_id IS NULL
	`, added.OrderID, models.ProviderStatusForwarded, orderID, models.OrderStatusPending)
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"order_id":          orderID,
			"provider_order_id": added.OrderID,
		}).Error("Failed to record provider order id")
		return result
	}
	result.ProviderOrderID = &added.OrderID
	result.Forwarded = true

	seedForwardedOrder(ctx, target, added, &result)
	return result
}

// seedForwardedOrder reads the freshly placed order back from the provider
// to learn its charge and initial counters, then activates it. Activation
// is the point the user's balance is debited. Failures here are recoverable
// because the provider order id is already on the row.
func seedForwardedOrder(ctx context.Context, target *forwardTarget, added *provider.AddOrderResult, result *api.ForwardResult) {
	start := time.Now()
	status, err := newProviderClient(target.spec).OrderStatus(ctx, added.OrderID)
	observeProviderCall(provider.ActionStatus, start, err)
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"order_id":          target.order.ID,
			"provider_order_id": added.OrderID,
		}).Warn("Failed to seed order status after forwarding")
		return
	}

	charge := status.Charge
	if charge == 0 {
		charge = added.Charge
	}
	profit, _ := decimal.NewFromFloat(target.order.USDPrice).
		Sub(decimal.NewFromFloat(charge)).Round(4).Float64()

	upd := &orderUpdate{
		Remains:        &status.Remains,
		StartCount:     &status.StartCount,
		ProviderStatus: &status.RawStatus,
		Charge:         &charge,
		Profit:         &profit,
	}
	_, err = transitionOrder(target.order.ID, status.Status, upd)
	switch {
	case errors.Is(err, errInsufficientBalance):
		result.Error = api.ErrCodeInsufficientBalance
		logger.WithFields(logging.Fields{
			"order_id": target.order.ID,
			"user_id":  target.order.UserID,
		}).Warn("User balance cannot cover order activation, order held pending")
	case err != nil:
		logger.WithError(err).WithFields(logging.Fields{"order_id": target.order.ID}).Error("Failed to activate forwarded order")
	default:
		result.Status = status.Status
	}
}

func markForwardFailed(orderID string) error {
	_, err := db.Exec(`
		UPDATE orders
		SET status = $1, provider_status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, models.OrderStatusFailed, models.ProviderStatusForwardFailed,
		orderID, models.OrderStatusPending)
	return err
}

func observeProviderCall(action string, start time.Time, err error) {
	if metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.ProviderCalls.WithLabelValues(action, outcome).Inc()
	metrics.ProviderDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

// ResendOrder re-forwards a failed order. The UPDATE re-checks the status
// so two concurrent resends cannot both win.
func ResendOrder(c middleware.Context) {
	orderID := c.Param("id")

	order, err := getOrder(orderID)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(c, api.ErrCodeNotFound, "Order not found")
		return
	} else if err != nil {
		logger.WithError(err).Error("Failed to load order")
		respondErr(c, api.ErrCodeInternal, "Failed to load order")
		return
	}

	if err := policy.CanResend(order); err != nil {
		respondErr(c, api.ErrCodeConflict, err.Error())
		return
	}

	res, err := db.Exec(`
		UPDATE orders
		SET status = $1, provider_order_id = NULL, provider_status = NULL, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.OrderStatusPending, orderID, models.OrderStatusFailed)
	if err != nil {
		logger.WithError(err).Error("Failed to reset order for resend")
		respondErr(c, api.ErrCodeInternal, "Failed to resend order")
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		respondErr(c, api.ErrCodeConflict, "Order is no longer failed")
		return
	}

	if metrics != nil {
		metrics.OrderOperations.WithLabelValues("resend", "success").Inc()
	}

	result := forwardOrder(c.Request.Context(), orderID)
	if result.Error == api.ErrCodeValidation {
		respondErr(c, api.ErrCodeValidation, "Provider is not available")
		return
	}
	respondOK(c, result)
}

// SyncOrder pulls the provider's view of one order and applies it locally.
func SyncOrder(c middleware.Context) {
	orderID := c.Param("id")
	result, err := syncOrderByID(c.Request.Context(), orderID)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(c, api.ErrCodeNotFound, "Order not found")
		return
	} else if errors.Is(err, errInsufficientBalance) {
		respondErr(c, api.ErrCodeInsufficientBalance, "User balance cannot cover order activation")
		return
	} else if err != nil {
		var transportErr *provider.TransportError
		var parseErr *provider.ParseError
		if errors.As(err, &transportErr) || errors.As(err, &parseErr) {
			respondErr(c, api.ErrCodeProviderError, err.Error())
			return
		}
		logger.WithError(err).Error("Failed to sync order")
		respondErr(c, api.ErrCodeInternal, "Failed to sync order")
		return
	}
	respondOK(c, result)
}

// syncOrderByID fetches upstream status for a forwarded order and applies
// it through the ledger-aware transition, so a sync that first moves an
// order out of pending also charges for it. Orders already cancelled or
// refunded locally keep their status; the money has been returned and the
// provider's view no longer governs.
func syncOrderByID(ctx context.Context, orderID string) (*api.SyncResult, error) {
	target, err := loadForwardTarget(orderID)
	if err != nil {
		return nil, err
	}
	if target.provider == nil {
		return nil, fmt.Errorf("order %s has no provider", orderID)
	}
	if target.order.ProviderOrderID == nil {
		return nil, fmt.Errorf("order %s was never forwarded", orderID)
	}

	start := time.Now()
	status, err := newProviderClient(target.spec).OrderStatus(ctx, *target.order.ProviderOrderID)
	observeProviderCall(provider.ActionStatus, start, err)
	if err != nil {
		return nil, err
	}

	result := &api.SyncResult{
		OrderID:        orderID,
		PreviousStatus: target.order.Status,
		Status:         status.Status,
		Remains:        status.Remains,
		StartCount:     status.StartCount,
	}

	if target.order.Status == models.OrderStatusRefunded ||
		target.order.Status == models.OrderStatusCancelled {
		result.Status = target.order.Status
		return result, nil
	}

	changed := status.Status != target.order.Status ||
		status.Remains != target.order.Remains ||
		status.StartCount != target.order.StartCount
	if !changed {
		return result, nil
	}

	upd := &orderUpdate{
		Remains:        &status.Remains,
		StartCount:     &status.StartCount,
		ProviderStatus: &status.RawStatus,
	}
	if _, err := transitionOrder(orderID, status.Status, upd); err != nil {
		return nil, err
	}
	result.Changed = true
	return result, nil
}
