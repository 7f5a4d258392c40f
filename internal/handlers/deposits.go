package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	api "panelworks/stevedore/pkg/api/stevedore"
	"panelworks/stevedore/pkg/logging"
	"panelworks/stevedore/pkg/middleware"
	"panelworks/stevedore/pkg/models"
)

// UpdateTransactionStatus moves a deposit between pending, success and
// cancelled. Crediting happens exactly once per transition into success;
// repeating the same status is a no-op. Moving a deposit out of success
// claws the credit back, clamped at the user's available balance.
func UpdateTransactionStatus(c middleware.Context) {
	txID := c.Param("id")

	var req api.UpdateTransactionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, api.ErrCodeValidation, "Invalid request body: "+err.Error())
		return
	}
	switch req.Status {
	case models.TransactionStatusPending, models.TransactionStatusSuccess, models.TransactionStatusCancelled:
	default:
		respondErr(c, api.ErrCodeValidation, "Status must be pending, success or cancelled")
		return
	}

	changed, err := applyTransactionStatus(c.Request.Context(), txID, req.Status)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(c, api.ErrCodeNotFound, "Transaction not found")
		return
	} else if err != nil {
		logger.WithError(err).WithFields(logging.Fields{"transaction_id": txID}).Error("Failed to update transaction status")
		respondErr(c, api.ErrCodeInternal, "Failed to update transaction")
		return
	}

	if !changed {
		respondMessage(c, nil, "Transaction already in requested status")
		return
	}
	respondMessage(c, nil, "Transaction updated")
}

// applyTransactionStatus performs the status transition and any balance
// movement in one transaction. Returns false when the row was already in
// the requested status. The USD-denominated shadow balance moves alongside
// the local-currency one so the two cannot drift apart.
func applyTransactionStatus(ctx context.Context, txID, newStatus string) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var userID, currentStatus string
	var amount, bonusPercent float64
	err = tx.QueryRow(`
		SELECT user_id, amount, bonus_percent, status
		FROM transactions WHERE id = $1 FOR UPDATE
	`, txID).Scan(&userID, &amount, &bonusPercent, &currentStatus)
	if err != nil {
		return false, err
	}

	if currentStatus == newStatus {
		return false, nil
	}

	credit, _ := decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(1 + bonusPercent/100)).
		Round(2).Float64()

	if newStatus == models.TransactionStatusSuccess || currentStatus == models.TransactionStatusSuccess {
		var balance float64
		var userCurrency string
		err = tx.QueryRow(`
			SELECT balance, currency FROM users WHERE id = $1 FOR UPDATE
		`, userID).Scan(&balance, &userCurrency)
		if err != nil {
			return false, fmt.Errorf("failed to lock user balance: %w", err)
		}

		if newStatus == models.TransactionStatusSuccess {
			usdCredit, err := depositUSD(ctx, credit, userCurrency)
			if err != nil {
				return false, fmt.Errorf("failed to convert deposit to usd: %w", err)
			}
			_, err = tx.Exec(`
				UPDATE users
				SET balance = balance + $1, balance_usd = balance_usd + $2,
				    total_deposit = total_deposit + $3, updated_at = NOW()
				WHERE id = $4
			`, credit, usdCredit, amount, userID)
			if err != nil {
				return false, fmt.Errorf("failed to credit deposit: %w", err)
			}
		} else {
			// Claw the earlier credit back, but never push the balance
			// negative: the user may have spent it already.
			debit := credit
			if balance < credit {
				debit = balance
				logger.WithFields(logging.Fields{
					"transaction_id": txID,
					"user_id":        userID,
					"credit":         credit,
					"reversed":       debit,
				}).Warn("Deposit reversal clamped at available balance")
			}

			usdDebit, err := depositUSD(ctx, debit, userCurrency)
			if err != nil {
				return false, fmt.Errorf("failed to convert deposit to usd: %w", err)
			}
			_, err = tx.Exec(`
				UPDATE users
				SET balance = balance - $1, balance_usd = balance_usd - $2,
				    total_deposit = total_deposit - $3, updated_at = NOW()
				WHERE id = $4
			`, debit, usdDebit, amount, userID)
			if err != nil {
				return false, fmt.Errorf("failed to reverse deposit: %w", err)
			}
		}
	}

	_, err = tx.Exec(`
		UPDATE transactions SET status = $1, admin_status = $1, updated_at = NOW() WHERE id = $2
	`, newStatus, txID)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction update: %w", err)
	}

	logger.WithFields(logging.Fields{
		"transaction_id": txID,
		"old_status":     currentStatus,
		"new_status":     newStatus,
	}).Info("Transaction status updated")
	return true, nil
}

// depositUSD converts a local-currency deposit amount into USD for the
// shadow balance. USD accounts skip the rate lookup entirely.
func depositUSD(ctx context.Context, amount float64, userCurrency string) (float64, error) {
	if userCurrency == "" || userCurrency == "USD" {
		return amount, nil
	}
	return rateCache.Convert(ctx, amount, userCurrency, "USD")
}
