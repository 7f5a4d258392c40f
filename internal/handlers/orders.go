package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	api "panelworks/stevedore/pkg/api/stevedore"
	"panelworks/stevedore/pkg/ctxkeys"
	"panelworks/stevedore/pkg/logging"
	"panelworks/stevedore/pkg/middleware"
	"panelworks/stevedore/pkg/models"
)

// CreateOrder places a new order. The row is inserted as pending; the
// price is only deducted when the order activates (moves to processing),
// so a provider outage never strands money against an undelivered order.
// The balance is still checked up front to reject orders that could never
// activate.
func CreateOrder(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))
	if userID == "" {
		respondErr(c, api.ErrCodeUnauthorized, "Authentication required")
		return
	}

	var req api.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, api.ErrCodeValidation, "Invalid request body: "+err.Error())
		return
	}

	service, err := getService(req.ServiceID)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(c, api.ErrCodeNotFound, "Service not found")
		return
	} else if err != nil {
		logger.WithError(err).Error("Failed to load service")
		respondErr(c, api.ErrCodeInternal, "Failed to load service")
		return
	}
	if !service.IsActive {
		respondErr(c, api.ErrCodeValidation, "Service is not available")
		return
	}
	if req.Quantity < service.MinOrder || req.Quantity > service.MaxOrder {
		respondErr(c, api.ErrCodeValidation,
			fmt.Sprintf("Quantity must be between %d and %d", service.MinOrder, service.MaxOrder))
		return
	}
	if req.Runs > 0 && !service.Dripfeed {
		respondErr(c, api.ErrCodeValidation, "Service does not support dripfeed")
		return
	}
	if service.Forwardable() {
		// Fail fast before any row exists: a disabled provider is a client
		// error, not something to retry against
		var providerActive bool
		err = db.QueryRow(`SELECT is_active FROM providers WHERE id = $1`, *service.ProviderID).
			Scan(&providerActive)
		if errors.Is(err, sql.ErrNoRows) {
			respondErr(c, api.ErrCodeValidation, "Service has no usable provider")
			return
		} else if err != nil {
			logger.WithError(err).Error("Failed to load provider")
			respondErr(c, api.ErrCodeInternal, "Failed to load provider")
			return
		}
		if !providerActive {
			respondErr(c, api.ErrCodeValidation, "Provider is not available")
			return
		}
	}

	var userCurrency string
	var balance float64
	err = db.QueryRow(`SELECT currency, balance FROM users WHERE id = $1`, userID).
		Scan(&userCurrency, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(c, api.ErrCodeNotFound, "User not found")
		return
	} else if err != nil {
		logger.WithError(err).Error("Failed to load user")
		respondErr(c, api.ErrCodeInternal, "Failed to load user")
		return
	}

	// Rate is per 1000 units in USD
	usdPrice, _ := decimal.NewFromFloat(service.Rate).
		Mul(decimal.NewFromInt(int64(req.Quantity))).
		Div(decimal.NewFromInt(1000)).
		Round(4).Float64()

	price := usdPrice
	if userCurrency != "USD" {
		price, err = rateCache.Convert(c.Request.Context(), usdPrice, "USD", userCurrency)
		if err != nil {
			logger.WithError(err).Error("Failed to convert order price")
			respondErr(c, api.ErrCodeInternal, "Failed to price order")
			return
		}
	}

	if balance < price {
		respondErr(c, api.ErrCodeInsufficientBalance, "Insufficient balance")
		return
	}

	order, err := insertOrder(userID, service, &req, price, usdPrice, userCurrency)
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"user_id":    userID,
			"service_id": service.ID,
		}).Error("Failed to place order")
		respondErr(c, api.ErrCodeInternal, "Failed to place order")
		return
	}

	if metrics != nil {
		metrics.OrderOperations.WithLabelValues("create", "success").Inc()
	}

	result := api.ForwardResult{OrderID: order.ID, Status: order.Status}
	if service.Forwardable() {
		result = forwardOrder(c.Request.Context(), order.ID)
	}

	respondCreated(c, result)
}

// insertOrder writes a fresh pending order row.
func insertOrder(userID string, service *models.Service, req *api.CreateOrderRequest, price, usdPrice float64, currency string) (*models.Order, error) {
	order := &models.Order{
		UserID:    userID,
		ServiceID: service.ID,
		Link:      req.Link,
		Quantity:  req.Quantity,
		Price:     price,
		USDPrice:  usdPrice,
		Currency:  currency,
		Status:    models.OrderStatusPending,
		Remains:   req.Quantity,
		Runs:      req.Runs,
		Interval:  req.Interval,
	}
	err := db.QueryRow(`
		INSERT INTO orders (user_id, service_id, link, quantity, price, usd_price,
			currency, status, remains, runs, interval)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, order.UserID, order.ServiceID, order.Link, order.Quantity, order.Price,
		order.USDPrice, order.Currency, order.Status, order.Remains,
		order.Runs, order.Interval).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	return order, nil
}

// ListOrders returns the caller's orders, newest first, with optional
// status filter and pagination.
func ListOrders(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))
	if userID == "" {
		respondErr(c, api.ErrCodeUnauthorized, "Authentication required")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
	if limit < 1 || limit > 100 {
		limit = 25
	}
	status := c.Query("status")
	if status != "" && !models.ValidOrderStatus(status) {
		respondErr(c, api.ErrCodeValidation, "Unknown order status filter")
		return
	}

	where := "WHERE user_id = $1"
	args := []interface{}{userID}
	if status != "" {
		where += " AND status = $2"
		args = append(args, status)
	}

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		logger.WithError(err).Error("Failed to count orders")
		respondErr(c, api.ErrCodeInternal, "Failed to list orders")
		return
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, service_id, link, quantity, price, usd_price, currency,
		       charge, profit, status, remains, start_count, provider_order_id,
		       provider_status, runs, interval, created_at, updated_at
		FROM orders %s
		ORDER BY created_at DESC
		LIMIT %d OFFSET %d
	`, where, limit, (page-1)*limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		logger.WithError(err).Error("Failed to query orders")
		respondErr(c, api.ErrCodeInternal, "Failed to list orders")
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			logger.WithError(err).Error("Failed to scan order row")
			respondErr(c, api.ErrCodeInternal, "Failed to list orders")
			return
		}
		orders = append(orders, *order)
	}

	respondOK(c, api.OrderListResponse{Orders: orders, Total: total, Page: page, Limit: limit})
}

// GetOrder returns one order. Users only see their own; admins see any.
func GetOrder(c middleware.Context) {
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

	if !canSeeOrder(c, order) {
		respondErr(c, api.ErrCodeNotFound, "Order not found")
		return
	}

	respondOK(c, api.OrderResponse{Order: *order})
}

// GetOrderRequests returns the cancel and refill request history for an
// order the caller owns.
func GetOrderRequests(c middleware.Context) {
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
	if !canSeeOrder(c, order) {
		respondErr(c, api.ErrCodeNotFound, "Order not found")
		return
	}

	cancels, err := listCancelRequests(orderID)
	if err != nil {
		logger.WithError(err).Error("Failed to list cancel requests")
		respondErr(c, api.ErrCodeInternal, "Failed to list requests")
		return
	}
	refills, err := listRefillRequests(orderID)
	if err != nil {
		logger.WithError(err).Error("Failed to list refill requests")
		respondErr(c, api.ErrCodeInternal, "Failed to list requests")
		return
	}

	respondOK(c, api.RequestListResponse{CancelRequests: cancels, RefillRequests: refills})
}

func canSeeOrder(c middleware.Context, order *models.Order) bool {
	role := c.GetString(string(ctxkeys.KeyRole))
	if role == models.RoleAdmin || role == models.RoleModerator || role == "service" {
		return true
	}
	return order.UserID == c.GetString(string(ctxkeys.KeyUserID))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	err := row.Scan(
		&order.ID, &order.UserID, &order.ServiceID, &order.Link, &order.Quantity,
		&order.Price, &order.USDPrice, &order.Currency, &order.Charge, &order.Profit,
		&order.Status, &order.Remains, &order.StartCount, &order.ProviderOrderID,
		&order.ProviderStatus, &order.Runs, &order.Interval,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func getOrder(orderID string) (*models.Order, error) {
	row := db.QueryRow(`
		SELECT id, user_id, service_id, link, quantity, price, usd_price, currency,
		       charge, profit, status, remains, start_count, provider_order_id,
		       provider_status, runs, interval, created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID)
	return scanOrder(row)
}

func getService(serviceID string) (*models.Service, error) {
	var service models.Service
	err := db.QueryRow(`
		SELECT id, name, rate, min_order, max_order, dripfeed, refill, cancel,
		       refill_days, is_active, provider_id, provider_service_id
		FROM services WHERE id = $1
	`, serviceID).Scan(
		&service.ID, &service.Name, &service.Rate, &service.MinOrder,
		&service.MaxOrder, &service.Dripfeed, &service.Refill, &service.Cancel,
		&service.RefillDays, &service.IsActive, &service.ProviderID,
		&service.ProviderServiceID,
	)
	if err != nil {
		return nil, err
	}
	return &service, nil
}
