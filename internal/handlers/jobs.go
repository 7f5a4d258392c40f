package handlers

import (
	"context"
	"database/sql"
	"time"

	"panelworks/stevedore/pkg/logging"
	"panelworks/stevedore/pkg/models"
)

// JobManager runs the background status sync against upstream providers.
type JobManager struct {
	db           *sql.DB
	logger       logging.Logger
	syncInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
}

// NewJobManager creates a job manager. A zero syncInterval disables the
// sync loop entirely; operators without forwarded services run that way.
func NewJobManager(database *sql.DB, log logging.Logger, syncInterval time.Duration) *JobManager {
	return &JobManager{
		db:           database,
		logger:       log,
		syncInterval: syncInterval,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the background jobs.
func (jm *JobManager) Start(ctx context.Context) {
	if jm.syncInterval <= 0 {
		jm.logger.Info("Order status sync disabled")
		return
	}
	jm.logger.WithFields(logging.Fields{
		"interval": jm.syncInterval.String(),
	}).Info("Starting order status sync")
	go jm.runSyncLoop(ctx)
}

// Stop signals all background jobs to exit.
func (jm *JobManager) Stop() {
	close(jm.stopCh)
}

func (jm *JobManager) runSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(jm.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.syncInFlightOrders(ctx)
		}
	}
}

// syncInFlightOrders pulls provider status for the oldest in-flight
// forwarded orders. One bad order must not stall the rest, so failures are
// logged and skipped.
func (jm *JobManager) syncInFlightOrders(ctx context.Context) {
	rows, err := jm.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE status IN ($1, $2, $3)
		  AND provider_order_id IS NOT NULL
		ORDER BY updated_at ASC
		LIMIT $4
	`, models.OrderStatusPending, models.OrderStatusProcessing,
		models.OrderStatusPartial, jm.batchSize)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to select orders for sync")
		return
	}
	defer rows.Close()

	var orderIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			jm.logger.WithError(err).Error("Failed to scan order id for sync")
			return
		}
		orderIDs = append(orderIDs, id)
	}
	if err := rows.Err(); err != nil {
		jm.logger.WithError(err).Error("Failed to iterate orders for sync")
		return
	}

	synced, changed := 0, 0
	for _, orderID := range orderIDs {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		default:
		}

		result, err := syncOrderByID(ctx, orderID)
		if err != nil {
			jm.logger.WithError(err).WithFields(logging.Fields{
				"order_id": orderID,
			}).Warn("Order sync failed, will retry next cycle")
			continue
		}
		synced++
		if result.Changed {
			changed++
		}
	}

	if synced > 0 {
		jm.logger.WithFields(logging.Fields{
			"synced":  synced,
			"changed": changed,
		}).Info("Order status sync cycle complete")
	}
}
