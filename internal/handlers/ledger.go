package handlers

import (
	"errors"
	"fmt"

	"panelworks/stevedore/pkg/logging"
	"panelworks/stevedore/pkg/models"
)

var (
	errInsufficientBalance = errors.New("insufficient balance")
	errOrderTerminal       = errors.New("order is in a terminal refunded state")
)

// orderCharged reports whether an order in status s has had its price
// deducted from the user's balance. pending and failed orders have not;
// cancelled and refunded orders have had it returned.
func orderCharged(status string) bool {
	switch status {
	case models.OrderStatusProcessing, models.OrderStatusCompleted, models.OrderStatusPartial:
		return true
	}
	return false
}

// orderUpdate carries the optional delivery fields a transition may set.
// Nil fields keep the stored value.
type orderUpdate struct {
	Remains        *int
	StartCount     *int
	ProviderStatus *string
	Charge         *float64
	Profit         *float64
}

// transitionOrder moves an order to a new status and applies the implied
// balance movement in the same transaction. Entering the charged set
// deducts the order price from the user (gated on sufficient balance);
// leaving it credits the price back. The order row is locked and its
// status re-read, so concurrent transitions serialize and the money moves
// at most once per crossing.
func transitionOrder(orderID, newStatus string, upd *orderUpdate) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var userID, current string
	var price float64
	err = tx.QueryRow(`
		SELECT user_id, status, price FROM orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&userID, &current, &price)
	if err != nil {
		return false, err
	}

	if current != newStatus {
		// Money already went back on the way into cancelled/refunded;
		// leaving again would double-move it.
		if current == models.OrderStatusCancelled || current == models.OrderStatusRefunded {
			return false, errOrderTerminal
		}

		switch {
		case !orderCharged(current) && orderCharged(newStatus):
			var balance float64
			err = tx.QueryRow(`
				SELECT balance FROM users WHERE id = $1 FOR UPDATE
			`, userID).Scan(&balance)
			if err != nil {
				return false, fmt.Errorf("failed to lock user balance: %w", err)
			}
			if balance < price {
				return false, errInsufficientBalance
			}
			_, err = tx.Exec(`
				UPDATE users
				SET balance = balance - $1, total_spent = total_spent + $1, updated_at = NOW()
				WHERE id = $2
			`, price, userID)
			if err != nil {
				return false, fmt.Errorf("failed to charge order: %w", err)
			}
		case orderCharged(current) && !orderCharged(newStatus):
			_, err = tx.Exec(`
				UPDATE users
				SET balance = balance + $1, total_spent = total_spent - $1, updated_at = NOW()
				WHERE id = $2
			`, price, userID)
			if err != nil {
				return false, fmt.Errorf("failed to return order charge: %w", err)
			}
		}
	}

	if upd == nil {
		upd = &orderUpdate{}
	}
	_, err = tx.Exec(`
		UPDATE orders
		SET status = $1,
		    remains = COALESCE($2, remains),
		    start_count = COALESCE($3, start_count),
		    provider_status = COALESCE($4, provider_status),
		    charge = COALESCE($5, charge),
		    profit = COALESCE($6, profit),
		    updated_at = NOW()
		WHERE id = $7
	`, newStatus, upd.Remains, upd.StartCount, upd.ProviderStatus,
		upd.Charge, upd.Profit, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to update order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit order transition: %w", err)
	}

	if current != newStatus {
		logger.WithFields(logging.Fields{
			"order_id":   orderID,
			"old_status": current,
			"new_status": newStatus,
		}).Info("Order status transitioned")
	}
	return current != newStatus, nil
}
