package handlers

import (
	"database/sql"
	"errors"
	"time"

	"panelworks/stevedore/internal/provider"
	api "panelworks/stevedore/pkg/api/stevedore"
	"panelworks/stevedore/pkg/ctxkeys"
	"panelworks/stevedore/pkg/logging"
	"panelworks/stevedore/pkg/middleware"
	"panelworks/stevedore/pkg/models"
)

// UpdateOrderStatus is the admin override for an order's delivery state.
// It bypasses the provider but not the ledger: moving an order out of
// pending charges the user exactly like an automatic activation would, so
// an override cannot mark an unpaid order as delivered, and overriding a
// charged order back to cancelled or refunded returns the full price.
// Partial refunds go through the cancel request flow so sized money
// movement always has a request trail.
func UpdateOrderStatus(c middleware.Context) {
	orderID := c.Param("id")

	var req api.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, api.ErrCodeValidation, "Invalid request body: "+err.Error())
		return
	}
	if !models.ValidOrderStatus(req.Status) {
		respondErr(c, api.ErrCodeValidation, "Unknown order status")
		return
	}

	order, err := getOrder(orderID)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(c, api.ErrCodeNotFound, "Order not found")
		return
	} else if err != nil {
		logger.WithError(err).Error("Failed to load order")
		respondErr(c, api.ErrCodeInternal, "Failed to load order")
		return
	}

	upd := &orderUpdate{}
	remains := order.Remains
	if req.Remains != nil {
		if *req.Remains < 0 {
			respondErr(c, api.ErrCodeValidation, "Remains cannot be negative")
			return
		}
		remains = *req.Remains
		upd.Remains = req.Remains
	}
	startCount := order.StartCount
	if req.StartCount != nil {
		if *req.StartCount < 0 {
			respondErr(c, api.ErrCodeValidation, "Start count cannot be negative")
			return
		}
		startCount = *req.StartCount
		upd.StartCount = req.StartCount
	}

	changed, err := transitionOrder(orderID, req.Status, upd)
	if err != nil {
		switch {
		case errors.Is(err, errInsufficientBalance):
			respondErr(c, api.ErrCodeInsufficientBalance, "User balance cannot cover this order")
		case errors.Is(err, errOrderTerminal):
			respondErr(c, api.ErrCodeConflict, "Order has already been refunded")
		default:
			logger.WithError(err).Error("Failed to update order status")
			respondErr(c, api.ErrCodeInternal, "Failed to update order")
		}
		return
	}

	logger.WithFields(logging.Fields{
		"order_id":   orderID,
		"old_status": order.Status,
		"new_status": req.Status,
		"admin_id":   c.GetString(string(ctxkeys.KeyUserID)),
	}).Info("Order status overridden by admin")

	if metrics != nil {
		metrics.OrderOperations.WithLabelValues("override", "success").Inc()
	}

	respondMessage(c, api.SyncResult{
		OrderID:        orderID,
		PreviousStatus: order.Status,
		Status:         req.Status,
		Remains:        remains,
		StartCount:     startCount,
		Changed:        changed,
	}, "Order updated")
}

// GetStatistics returns the admin dashboard aggregates.
func GetStatistics(c middleware.Context) {
	stats := api.StatisticsResponse{
		OrdersByStatus:  map[string]int{},
		PendingRequests: map[string]int{},
	}

	rows, err := db.Query(`
		SELECT status, COUNT(*), COALESCE(SUM(usd_price), 0),
		       COALESCE(SUM(charge), 0), COALESCE(SUM(profit), 0)
		FROM orders GROUP BY status
	`)
	if err != nil {
		logger.WithError(err).Error("Failed to aggregate orders")
		respondErr(c, api.ErrCodeInternal, "Failed to load statistics")
		return
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		var revenue, charge, profit float64
		if err := rows.Scan(&status, &count, &revenue, &charge, &profit); err != nil {
			logger.WithError(err).Error("Failed to scan order aggregate")
			respondErr(c, api.ErrCodeInternal, "Failed to load statistics")
			return
		}
		stats.OrdersByStatus[status] = count
		stats.TotalOrders += count
		stats.TotalRevenue += revenue
		stats.TotalCharge += charge
		stats.TotalProfit += profit
	}

	if err := db.QueryRow(`
		SELECT COALESCE(SUM(refund_amount), 0) FROM cancel_requests WHERE status = $1
	`, models.RequestStatusApproved).Scan(&stats.TotalRefunds); err != nil {
		logger.WithError(err).Error("Failed to sum refunds")
		respondErr(c, api.ErrCodeInternal, "Failed to load statistics")
		return
	}

	var pendingCancels, pendingRefills int
	if err := db.QueryRow(`SELECT COUNT(*) FROM cancel_requests WHERE status = $1`,
		models.RequestStatusPending).Scan(&pendingCancels); err != nil {
		logger.WithError(err).Error("Failed to count cancel requests")
		respondErr(c, api.ErrCodeInternal, "Failed to load statistics")
		return
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM refill_requests WHERE status = $1`,
		models.RequestStatusPending).Scan(&pendingRefills); err != nil {
		logger.WithError(err).Error("Failed to count refill requests")
		respondErr(c, api.ErrCodeInternal, "Failed to load statistics")
		return
	}
	stats.PendingRequests["cancel"] = pendingCancels
	stats.PendingRequests["refill"] = pendingRefills

	respondOK(c, stats)
}

// GetProviderBalance fetches the live reseller balance at one provider and
// records it on the provider row.
func GetProviderBalance(c middleware.Context) {
	providerID := c.Param("id")

	var p models.Provider
	err := db.QueryRow(`
		SELECT id, name, api_url, api_key, http_method, timeout_seconds, balance, is_active
		FROM providers WHERE id = $1
	`, providerID).Scan(
		&p.ID, &p.Name, &p.APIURL, &p.APIKey, &p.HTTPMethod,
		&p.TimeoutSeconds, &p.Balance, &p.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(c, api.ErrCodeNotFound, "Provider not found")
		return
	} else if err != nil {
		logger.WithError(err).Error("Failed to load provider")
		respondErr(c, api.ErrCodeInternal, "Failed to load provider")
		return
	}

	spec, err := provider.SpecFromProvider(&p)
	if err != nil {
		respondErr(c, api.ErrCodeValidation, "Provider is misconfigured: "+err.Error())
		return
	}

	start := time.Now()
	balance, err := newProviderClient(spec).Balance(c.Request.Context())
	observeProviderCall(provider.ActionBalance, start, err)
	if err != nil {
		respondErr(c, api.ErrCodeProviderError, "Failed to fetch provider balance")
		return
	}

	if _, err := db.Exec(`
		UPDATE providers SET balance = $1, updated_at = NOW() WHERE id = $2
	`, balance.Balance, providerID); err != nil {
		logger.WithError(err).Warn("Failed to persist provider balance")
	}

	respondOK(c, api.ProviderBalanceResponse{
		ProviderID: providerID,
		Balance:    balance.Balance,
		Currency:   balance.Currency,
	})
}
