package handlers

import (
	"context"
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"panelworks/stevedore/internal/provider"
	"panelworks/stevedore/pkg/currency"
	"panelworks/stevedore/pkg/logging"
)

var (
	db        *sql.DB
	logger    logging.Logger
	metrics   *StevedoreMetrics
	rateCache *currency.Cache

	// newProviderClient is swapped out in tests
	newProviderClient = func(spec provider.Spec) providerAPI {
		return provider.NewClient(provider.Config{Spec: spec, Logger: logger})
	}
)

// providerAPI is the slice of the provider client the handlers use.
type providerAPI interface {
	AddOrder(ctx context.Context, serviceID, link string, quantity, runs, interval int) (*provider.AddOrderResult, error)
	OrderStatus(ctx context.Context, providerOrderID string) (*provider.StatusResult, error)
	Cancel(ctx context.Context, providerOrderID string) error
	Refill(ctx context.Context, providerOrderID string) error
	Balance(ctx context.Context) (*provider.BalanceResult, error)
}

// StevedoreMetrics holds all Prometheus metrics for Stevedore
type StevedoreMetrics struct {
	OrderOperations  *prometheus.CounterVec
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	RefundsIssued    *prometheus.CounterVec
	DBQueries        *prometheus.CounterVec
	DBDuration       *prometheus.HistogramVec
	DBConnections    *prometheus.GaugeVec
}

// Init initializes the handlers with database, logger, metrics and the
// exchange rate cache
func Init(database *sql.DB, log logging.Logger, stevedoreMetrics *StevedoreMetrics, rates *currency.Cache) {
	db = database
	logger = log
	metrics = stevedoreMetrics
	rateCache = rates
}
