package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"panelworks/stevedore/internal/provider"
	api "panelworks/stevedore/pkg/api/stevedore"
	"panelworks/stevedore/pkg/models"
)

type fakeProviderClient struct {
	addResult    *provider.AddOrderResult
	addErr       error
	statusResult *provider.StatusResult
	statusErr    error
}

func (f *fakeProviderClient) AddOrder(ctx context.Context, serviceID, link string, quantity, runs, interval int) (*provider.AddOrderResult, error) {
	return f.addResult, f.addErr
}

func (f *fakeProviderClient) OrderStatus(ctx context.Context, providerOrderID string) (*provider.StatusResult, error) {
	return f.statusResult, f.statusErr
}

func (f *fakeProviderClient) Cancel(ctx context.Context, providerOrderID string) error { return nil }
func (f *fakeProviderClient) Refill(ctx context.Context, providerOrderID string) error { return nil }
func (f *fakeProviderClient) Balance(ctx context.Context) (*provider.BalanceResult, error) {
	return nil, nil
}

func useFakeProvider(t *testing.T, fake *fakeProviderClient) {
	t.Helper()
	original := newProviderClient
	newProviderClient = func(spec provider.Spec) providerAPI { return fake }
	t.Cleanup(func() { newProviderClient = original })
}

var orderColumns = []string{
	"id", "user_id", "service_id", "link", "quantity", "price", "usd_price",
	"currency", "charge", "profit", "status", "remains", "start_count",
	"provider_order_id", "provider_status", "runs", "interval",
	"created_at", "updated_at",
}

func pendingOrderRow(providerOrderID interface{}, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(orderColumns).AddRow(
		"order-1", "user-1", "svc-1", "https://example.com/p/1", 500, 1.0, 1.0,
		"USD", 0.0, 0.0, status, 500, 0, providerOrderID, nil, 0, 0, now, now,
	)
}

var serviceColumns = []string{
	"id", "name", "rate", "min_order", "max_order", "dripfeed", "refill",
	"cancel", "refill_days", "is_active", "provider_id", "provider_service_id",
}

func forwardableServiceRow() *sqlmock.Rows {
	return sqlmock.NewRows(serviceColumns).AddRow(
		"svc-1", "Followers", 2.0, 100, 10000, false, true, true, 30, true,
		"prov-1", "9001",
	)
}

var providerColumns = []string{
	"id", "name", "api_url", "api_key", "http_method", "timeout_seconds",
	"balance", "is_active",
}

func providerRowWithBalance(balance float64) *sqlmock.Rows {
	return sqlmock.NewRows(providerColumns).AddRow(
		"prov-1", "Upstream", "https://upstream.example.com/api/v2", "k",
		"POST", 30, balance, true,
	)
}

func inactiveProviderRow() *sqlmock.Rows {
	return sqlmock.NewRows(providerColumns).AddRow(
		"prov-1", "Upstream", "https://upstream.example.com/api/v2", "k",
		"POST", 30, 100.0, false,
	)
}

func expectForwardTarget(mock sqlmock.Sqlmock, orderRows *sqlmock.Rows) {
	expectForwardTargetProvider(mock, orderRows, providerRowWithBalance(100.0))
}

func expectForwardTargetProvider(mock sqlmock.Sqlmock, orderRows, providerRows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT id, user_id, service_id").
		WithArgs("order-1").
		WillReturnRows(orderRows)
	mock.ExpectQuery("FROM services").
		WithArgs("svc-1").
		WillReturnRows(forwardableServiceRow())
	mock.ExpectQuery("FROM providers").
		WithArgs("prov-1").
		WillReturnRows(providerRows)
}

func TestForwardOrderSuccess(t *testing.T) {
	mock := setupHandlerTest(t)
	useFakeProvider(t, &fakeProviderClient{
		addResult: &provider.AddOrderResult{OrderID: "90210", Charge: 0.75},
		statusResult: &provider.StatusResult{
			Status: models.OrderStatusProcessing, RawStatus: "In progress",
			Charge: 0.75, Remains: 500,
		},
	})

	expectForwardTarget(mock, pendingOrderRow(nil, models.OrderStatusPending))
	mock.ExpectQuery("INSERT INTO provider_order_logs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("log-1"))
	mock.ExpectExec("UPDATE provider_order_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The provider order id is written first so nothing after can lose it
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Activation charges the user and applies the seeded state
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id, status, price FROM orders").
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "status", "price"}).
			AddRow("user-1", models.OrderStatusPending, 1.0))
	mock.ExpectQuery("SELECT balance FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(50.0))
	mock.ExpectExec("UPDATE users").
		WithArgs(1.0, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result := forwardOrder(context.Background(), "order-1")
	if !result.Forwarded {
		t.Fatal("expected order to be forwarded")
	}
	if result.Status != models.OrderStatusProcessing {
		t.Errorf("expected processing, got %q", result.Status)
	}
	if result.ProviderOrderID == nil || *result.ProviderOrderID != "90210" {
		t.Errorf("expected provider order id 90210, got %v", result.ProviderOrderID)
	}
	if result.Error != "" {
		t.Errorf("unexpected error code %q", result.Error)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestForwardOrderInactiveProviderFailsOrder(t *testing.T) {
	mock := setupHandlerTest(t)
	useFakeProvider(t, &fakeProviderClient{})

	expectForwardTargetProvider(mock, pendingOrderRow(nil, models.OrderStatusPending),
		inactiveProviderRow())
	// Failed hard so the resend path applies once the provider returns
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result := forwardOrder(context.Background(), "order-1")
	if result.Forwarded {
		t.Fatal("expected no forward against a disabled provider")
	}
	if result.Status != models.OrderStatusFailed {
		t.Errorf("expected failed, got %q", result.Status)
	}
	if result.Error != api.ErrCodeValidation {
		t.Errorf("expected validation_error, got %q", result.Error)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestForwardOrderProviderBalanceGate(t *testing.T) {
	mock := setupHandlerTest(t)
	useFakeProvider(t, &fakeProviderClient{})

	// Provider account holds 0.50 against a 1.00 order: no call is made
	expectForwardTargetProvider(mock, pendingOrderRow(nil, models.OrderStatusPending),
		providerRowWithBalance(0.5))

	result := forwardOrder(context.Background(), "order-1")
	if result.Forwarded {
		t.Fatal("expected forwarding to be held back")
	}
	if result.Status != models.OrderStatusPending {
		t.Errorf("expected pending, got %q", result.Status)
	}
	if result.Error != api.ErrCodeInsufficientBalance {
		t.Errorf("expected insufficient_balance, got %q", result.Error)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestForwardOrderTransportErrorMarksFailed(t *testing.T) {
	mock := setupHandlerTest(t)
	useFakeProvider(t, &fakeProviderClient{
		addErr: &provider.TransportError{Op: provider.ActionAdd, StatusCode: 502},
	})

	expectForwardTarget(mock, pendingOrderRow(nil, models.OrderStatusPending))
	mock.ExpectQuery("INSERT INTO provider_order_logs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("log-1"))
	mock.ExpectExec("UPDATE provider_order_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// No provider order id exists, so the order fails hard and becomes
	// eligible for resend
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result := forwardOrder(context.Background(), "order-1")
	if result.Forwarded {
		t.Fatal("expected forwarding to fail")
	}
	if result.Status != models.OrderStatusFailed {
		t.Errorf("expected failed, got %q", result.Status)
	}
	if result.Error != api.ErrCodeProviderError {
		t.Errorf("expected provider_error, got %q", result.Error)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestForwardOrderRejectionMarksFailed(t *testing.T) {
	mock := setupHandlerTest(t)
	useFakeProvider(t, &fakeProviderClient{
		addErr: &provider.ParseError{Op: provider.ActionAdd, Message: "Incorrect service ID"},
	})

	expectForwardTarget(mock, pendingOrderRow(nil, models.OrderStatusPending))
	mock.ExpectQuery("INSERT INTO provider_order_logs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("log-1"))
	mock.ExpectExec("UPDATE provider_order_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result := forwardOrder(context.Background(), "order-1")
	if result.Forwarded {
		t.Fatal("expected forwarding to fail")
	}
	if result.Status != models.OrderStatusFailed {
		t.Errorf("expected failed, got %q", result.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestForwardOrderSeedFailureKeepsProviderID(t *testing.T) {
	mock := setupHandlerTest(t)
	useFakeProvider(t, &fakeProviderClient{
		addResult: &provider.AddOrderResult{OrderID: "90210", Charge: 0.75},
		statusErr: &provider.TransportError{Op: provider.ActionStatus, StatusCode: 502},
	})

	expectForwardTarget(mock, pendingOrderRow(nil, models.OrderStatusPending))
	mock.ExpectQuery("INSERT INTO provider_order_logs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("log-1"))
	mock.ExpectExec("UPDATE provider_order_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Seed read failed: no activation, sync picks the order up later

	result := forwardOrder(context.Background(), "order-1")
	if !result.Forwarded {
		t.Fatal("expected order to be forwarded")
	}
	if result.Status != models.OrderStatusPending {
		t.Errorf("expected pending, got %q", result.Status)
	}
	if result.ProviderOrderID == nil || *result.ProviderOrderID != "90210" {
		t.Errorf("expected provider order id 90210, got %v", result.ProviderOrderID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestForwardOrderSkipsAlreadyForwarded(t *testing.T) {
	mock := setupHandlerTest(t)
	useFakeProvider(t, &fakeProviderClient{})

	expectForwardTarget(mock, pendingOrderRow("77", models.OrderStatusProcessing))

	result := forwardOrder(context.Background(), "order-1")
	if result.Forwarded {
		t.Fatal("expected no second forward")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResendOrderRejectsNonFailed(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectQuery("SELECT id, user_id, service_id").
		WithArgs("order-1").
		WillReturnRows(pendingOrderRow("77", models.OrderStatusProcessing))

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "id", Value: "order-1"}}
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/orders/order-1/resend", nil)

	ResendOrder(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResendOrderLosesRace(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectQuery("SELECT id, user_id, service_id").
		WithArgs("order-1").
		WillReturnRows(pendingOrderRow(nil, models.OrderStatusFailed))
	// Another resend flipped the order first: zero rows affected
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 0))

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "id", Value: "order-1"}}
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/orders/order-1/resend", nil)

	ResendOrder(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSyncOrderKeepsRefundedStatus(t *testing.T) {
	mock := setupHandlerTest(t)
	useFakeProvider(t, &fakeProviderClient{
		statusResult: &provider.StatusResult{
			Status: models.OrderStatusCompleted, RawStatus: "Completed",
		},
	})

	expectForwardTarget(mock, pendingOrderRow("77", models.OrderStatusRefunded))

	result, err := syncOrderByID(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.OrderStatusRefunded {
		t.Errorf("expected refunded to stick, got %q", result.Status)
	}
	if result.Changed {
		t.Error("expected no change")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSyncOrderAppliesProviderState(t *testing.T) {
	mock := setupHandlerTest(t)
	useFakeProvider(t, &fakeProviderClient{
		statusResult: &provider.StatusResult{
			Status: models.OrderStatusPartial, RawStatus: "Partial",
			Remains: 157, StartCount: 3572,
		},
	})

	expectForwardTarget(mock, pendingOrderRow("77", models.OrderStatusProcessing))
	// processing and partial are both charged states: no money moves
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id, status, price FROM orders").
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "status", "price"}).
			AddRow("user-1", models.OrderStatusProcessing, 1.0))
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := syncOrderByID(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected change to be applied")
	}
	if result.Status != models.OrderStatusPartial || result.Remains != 157 {
		t.Errorf("unexpected result %+v", result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSyncOrderChargesOnFirstActivation(t *testing.T) {
	mock := setupHandlerTest(t)
	useFakeProvider(t, &fakeProviderClient{
		statusResult: &provider.StatusResult{
			Status: models.OrderStatusProcessing, RawStatus: "In progress",
			Remains: 500,
		},
	})

	// Forwarded but never seeded: the sync is the first move out of pending
	expectForwardTarget(mock, pendingOrderRow("77", models.OrderStatusPending))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id, status, price FROM orders").
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "status", "price"}).
			AddRow("user-1", models.OrderStatusPending, 1.0))
	mock.ExpectQuery("SELECT balance FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(50.0))
	mock.ExpectExec("UPDATE users").
		WithArgs(1.0, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := syncOrderByID(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected change to be applied")
	}
	if result.Status != models.OrderStatusProcessing {
		t.Errorf("expected processing, got %q", result.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
