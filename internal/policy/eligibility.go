package policy

import (
	"fmt"
	"time"

	"panelworks/stevedore/pkg/models"
)

// CanRequestCancel reports whether an order may receive a new cancel
// request. Only orders still in flight can be cancelled, and the service
// must allow it.
func CanRequestCancel(order *models.Order, service *models.Service) error {
	if !service.Cancel {
		return fmt.Errorf("service does not support cancellation")
	}
	switch order.Status {
	case models.OrderStatusPending, models.OrderStatusProcessing:
		return nil
	}
	return fmt.Errorf("order in status %q cannot be cancelled", order.Status)
}

// CanRequestRefill reports whether an order may receive a new refill
// request: the order must be completed, the service refill-enabled, and the
// order still inside the service's refill window. The window runs from the
// order's last update, not its creation, so a slow delivery does not eat
// into the refill guarantee.
func CanRequestRefill(order *models.Order, service *models.Service, now time.Time) error {
	if !service.Refill {
		return fmt.Errorf("service does not support refill")
	}
	if order.Status != models.OrderStatusCompleted {
		return fmt.Errorf("only completed orders can be refilled, order is %q", order.Status)
	}
	if service.RefillDays > 0 {
		deadline := order.UpdatedAt.AddDate(0, 0, service.RefillDays)
		if now.After(deadline) {
			return fmt.Errorf("refill window of %d days has expired", service.RefillDays)
		}
	}
	return nil
}

// CanResend reports whether an order is eligible for re-forwarding to its
// provider. Only failed orders qualify; the UPDATE that flips the order
// back to pending re-checks this inside the transaction.
func CanResend(order *models.Order) error {
	if order.Status != models.OrderStatusFailed {
		return fmt.Errorf("only failed orders can be resent, order is %q", order.Status)
	}
	return nil
}
