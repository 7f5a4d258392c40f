package policy

import (
	"testing"
	"time"

	"panelworks/stevedore/pkg/models"
)

func TestCanRequestCancel(t *testing.T) {
	service := &models.Service{Cancel: true}

	for _, status := range []string{models.OrderStatusPending, models.OrderStatusProcessing} {
		order := &models.Order{Status: status}
		if err := CanRequestCancel(order, service); err != nil {
			t.Errorf("expected %s order to be cancellable: %v", status, err)
		}
	}

	for _, status := range []string{
		models.OrderStatusCompleted, models.OrderStatusPartial,
		models.OrderStatusCancelled, models.OrderStatusRefunded,
		models.OrderStatusFailed,
	} {
		order := &models.Order{Status: status}
		if err := CanRequestCancel(order, service); err == nil {
			t.Errorf("expected %s order to be rejected", status)
		}
	}
}

func TestCanRequestCancelServiceDisallows(t *testing.T) {
	order := &models.Order{Status: models.OrderStatusPending}
	service := &models.Service{Cancel: false}
	if err := CanRequestCancel(order, service); err == nil {
		t.Error("expected error when service disallows cancellation")
	}
}

func TestCanRequestRefill(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	service := &models.Service{Refill: true, RefillDays: 30}

	order := &models.Order{
		Status:    models.OrderStatusCompleted,
		CreatedAt: now.AddDate(0, 0, -10),
		UpdatedAt: now.AddDate(0, 0, -10),
	}
	if err := CanRequestRefill(order, service, now); err != nil {
		t.Errorf("expected refill inside window to be allowed: %v", err)
	}

	expired := &models.Order{
		Status:    models.OrderStatusCompleted,
		CreatedAt: now.AddDate(0, 0, -31),
		UpdatedAt: now.AddDate(0, 0, -31),
	}
	if err := CanRequestRefill(expired, service, now); err == nil {
		t.Error("expected refill outside window to be rejected")
	}
}

func TestCanRequestRefillWindowRunsFromLastUpdate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	service := &models.Service{Refill: true, RefillDays: 30}

	// Ordered 40 days ago but delivered 5 days ago: still inside the window
	slowDelivery := &models.Order{
		Status:    models.OrderStatusCompleted,
		CreatedAt: now.AddDate(0, 0, -40),
		UpdatedAt: now.AddDate(0, 0, -5),
	}
	if err := CanRequestRefill(slowDelivery, service, now); err != nil {
		t.Errorf("expected window to run from last update: %v", err)
	}
}

func TestCanRequestRefillNotCompleted(t *testing.T) {
	now := time.Now()
	service := &models.Service{Refill: true, RefillDays: 30}
	order := &models.Order{Status: models.OrderStatusProcessing, CreatedAt: now}
	if err := CanRequestRefill(order, service, now); err == nil {
		t.Error("expected refill on non-completed order to be rejected")
	}
}

func TestCanRequestRefillNoWindow(t *testing.T) {
	// RefillDays of zero means no deadline
	now := time.Now()
	service := &models.Service{Refill: true, RefillDays: 0}
	order := &models.Order{
		Status:    models.OrderStatusCompleted,
		CreatedAt: now.AddDate(-1, 0, 0),
	}
	if err := CanRequestRefill(order, service, now); err != nil {
		t.Errorf("expected refill with no window to be allowed: %v", err)
	}
}

func TestCanResend(t *testing.T) {
	if err := CanResend(&models.Order{Status: models.OrderStatusFailed}); err != nil {
		t.Errorf("expected failed order to be resendable: %v", err)
	}
	for _, status := range []string{
		models.OrderStatusPending, models.OrderStatusProcessing,
		models.OrderStatusCompleted, models.OrderStatusCancelled,
	} {
		if err := CanResend(&models.Order{Status: status}); err == nil {
			t.Errorf("expected %s order resend to be rejected", status)
		}
	}
}
