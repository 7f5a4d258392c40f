package handlers

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"panelworks/stevedore/pkg/models"
)

func expectOrderLedgerRow(mock sqlmock.Sqlmock, status string, price float64) {
	mock.ExpectQuery("SELECT user_id, status, price FROM orders").
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "status", "price"}).
			AddRow("user-1", status, price))
}

func TestTransitionOrderChargesOnActivation(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectBegin()
	expectOrderLedgerRow(mock, models.OrderStatusPending, 10.0)
	mock.ExpectQuery("SELECT balance FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(50.0))
	mock.ExpectExec("UPDATE users").
		WithArgs(10.0, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := transitionOrder("order-1", models.OrderStatusProcessing, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected transition to apply")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionOrderInsufficientBalanceHoldsOrder(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectBegin()
	expectOrderLedgerRow(mock, models.OrderStatusPending, 10.0)
	// Balance 5.00 cannot cover a 10.00 order; nothing else may run
	mock.ExpectQuery("SELECT balance FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(5.0))
	mock.ExpectRollback()

	_, err := transitionOrder("order-1", models.OrderStatusProcessing, nil)
	if !errors.Is(err, errInsufficientBalance) {
		t.Fatalf("expected errInsufficientBalance, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionOrderRefundsFullPriceOnCancel(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectBegin()
	expectOrderLedgerRow(mock, models.OrderStatusProcessing, 10.0)
	mock.ExpectExec("UPDATE users").
		WithArgs(10.0, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := transitionOrder("order-1", models.OrderStatusCancelled, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected transition to apply")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionOrderBetweenChargedStatesMovesNoMoney(t *testing.T) {
	mock := setupHandlerTest(t)

	remains := 157
	mock.ExpectBegin()
	expectOrderLedgerRow(mock, models.OrderStatusProcessing, 10.0)
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := transitionOrder("order-1", models.OrderStatusPartial, &orderUpdate{Remains: &remains})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected transition to apply")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionOrderRejectsLeavingTerminalState(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectBegin()
	expectOrderLedgerRow(mock, models.OrderStatusRefunded, 10.0)
	mock.ExpectRollback()

	_, err := transitionOrder("order-1", models.OrderStatusProcessing, nil)
	if !errors.Is(err, errOrderTerminal) {
		t.Fatalf("expected errOrderTerminal, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionOrderSameStatusOnlyUpdatesFields(t *testing.T) {
	mock := setupHandlerTest(t)

	startCount := 3572
	mock.ExpectBegin()
	expectOrderLedgerRow(mock, models.OrderStatusProcessing, 10.0)
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := transitionOrder("order-1", models.OrderStatusProcessing, &orderUpdate{StartCount: &startCount})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatal("expected no status change")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
