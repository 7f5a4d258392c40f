package provider

import (
	"strings"

	"panelworks/stevedore/pkg/models"
)

// statusTable maps the provider status vocabulary onto the canonical one.
// Keys are lowercased before lookup.
var statusTable = map[string]string{
	"pending":     models.OrderStatusPending,
	"queued":      models.OrderStatusPending,
	"in progress": models.OrderStatusProcessing,
	"inprogress":  models.OrderStatusProcessing,
	"in_progress": models.OrderStatusProcessing,
	"processing":  models.OrderStatusProcessing,
	"active":      models.OrderStatusProcessing,
	"completed":   models.OrderStatusCompleted,
	"complete":    models.OrderStatusCompleted,
	"done":        models.OrderStatusCompleted,
	"partial":     models.OrderStatusPartial,
	"canceled":    models.OrderStatusCancelled,
	"cancelled":   models.OrderStatusCancelled,
	"refunded":    models.OrderStatusRefunded,
	"failed":      models.OrderStatusFailed,
	"error":       models.OrderStatusFailed,
	"fail":        models.OrderStatusFailed,
}

// MapStatus normalizes a provider-reported status. Unknown values map to
// pending so an upstream vocabulary change never strands an order in a
// bogus terminal state.
func MapStatus(raw string) string {
	if mapped, ok := statusTable[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	return models.OrderStatusPending
}
