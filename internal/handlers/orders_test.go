package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	api "panelworks/stevedore/pkg/api/stevedore"
	"panelworks/stevedore/pkg/ctxkeys"
	"panelworks/stevedore/pkg/models"
)

func setupHandlerTest(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db = mockDB
	logger = logrus.New()
	metrics = nil
	t.Cleanup(func() {
		mockDB.Close()
		db = nil
	})
	return mock
}

func TestInsertOrderStartsPending(t *testing.T) {
	mock := setupHandlerTest(t)

	service := &models.Service{ID: "svc-1", Rate: 2.0}
	req := &api.CreateOrderRequest{ServiceID: "svc-1", Link: "https://example.com/p/1", Quantity: 500}

	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("order-1", time.Now()))

	order, err := insertOrder("user-1", service, req, 1.0, 1.0, "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ID != "order-1" {
		t.Errorf("expected order-1, got %q", order.ID)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("expected pending, got %q", order.Status)
	}
	if order.Remains != 500 {
		t.Errorf("expected remains to start at quantity, got %d", order.Remains)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateOrderRejectsDisabledProvider(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectQuery("FROM services").
		WithArgs("svc-1").
		WillReturnRows(forwardableServiceRow())
	// The provider gate fires before any order row exists
	mock.ExpectQuery("SELECT is_active FROM providers").
		WithArgs("prov-1").
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(false))

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body := strings.NewReader(`{"service_id":"svc-1","link":"https://example.com/p/1","quantity":500}`)
	c.Request = httptest.NewRequest(http.MethodPost, "/orders", body)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(string(ctxkeys.KeyUserID), "user-1")

	CreateOrder(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertOrderPropagatesDBError(t *testing.T) {
	mock := setupHandlerTest(t)

	service := &models.Service{ID: "svc-1", Rate: 2.0}
	req := &api.CreateOrderRequest{ServiceID: "svc-1", Link: "https://example.com/p/1", Quantity: 500}

	mock.ExpectQuery("INSERT INTO orders").
		WillReturnError(errors.New("constraint violation"))

	if _, err := insertOrder("user-1", service, req, 1.0, 1.0, "USD"); err == nil {
		t.Fatal("expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
