package handlers

import (
	"panelworks/stevedore/pkg/logging"
	"panelworks/stevedore/pkg/models"
)

// logProviderIntent writes the audit row before the provider call goes out.
// A crash mid-call leaves the pending row behind as evidence of intent.
func logProviderIntent(orderID, providerID, action string, request models.JSONB) (string, error) {
	// The raw API key never reaches the audit trail
	sanitized := models.JSONB{}
	for k, v := range request {
		if k == "key" {
			continue
		}
		sanitized[k] = v
	}

	var logID string
	err := db.QueryRow(`
		INSERT INTO provider_order_logs (order_id, provider_id, action, request, outcome)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, orderID, providerID, action, sanitized, models.ProviderLogOutcomePending).Scan(&logID)
	if err != nil {
		return "", err
	}
	return logID, nil
}

// finishProviderLog records the outcome of a provider call on its intent row.
func finishProviderLog(logID, outcome string, response models.JSONB) {
	if logID == "" {
		return
	}
	_, err := db.Exec(`
		UPDATE provider_order_logs
		SET outcome = $1, response = $2, updated_at = NOW()
		WHERE id = $3
	`, outcome, response, logID)
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"log_id": logID,
		}).Error("Failed to finalize provider order log")
	}
}
