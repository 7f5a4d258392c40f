package provider

import (
	"testing"

	"panelworks/stevedore/pkg/models"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]string{
		"Pending":     models.OrderStatusPending,
		"In progress": models.OrderStatusProcessing,
		"Processing":  models.OrderStatusProcessing,
		"Completed":   models.OrderStatusCompleted,
		"COMPLETE":    models.OrderStatusCompleted,
		"Partial":     models.OrderStatusPartial,
		"Canceled":    models.OrderStatusCancelled,
		"Cancelled":   models.OrderStatusCancelled,
		"Refunded":    models.OrderStatusRefunded,
		"Error":       models.OrderStatusFailed,
		" failed ":    models.OrderStatusFailed,
	}
	for raw, want := range cases {
		if got := MapStatus(raw); got != want {
			t.Errorf("MapStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestMapStatusUnknownDefaultsToPending(t *testing.T) {
	for _, raw := range []string{"Awaiting", "???", "", "archived"} {
		if got := MapStatus(raw); got != models.OrderStatusPending {
			t.Errorf("MapStatus(%q) = %q, want pending", raw, got)
		}
	}
}
