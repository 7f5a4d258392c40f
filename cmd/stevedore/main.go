package main

import (
	"context"
	"time"

	"panelworks/stevedore/internal/handlers"
	"panelworks/stevedore/pkg/auth"
	"panelworks/stevedore/pkg/config"
	"panelworks/stevedore/pkg/currency"
	"panelworks/stevedore/pkg/database"
	"panelworks/stevedore/pkg/logging"
	"panelworks/stevedore/pkg/models"
	"panelworks/stevedore/pkg/monitoring"
	"panelworks/stevedore/pkg/server"
	"panelworks/stevedore/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("stevedore")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Stevedore (Order Forwarding API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("stevedore", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("stevedore", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
	}))

	// Create custom order metrics
	metrics := &handlers.StevedoreMetrics{
		OrderOperations:  metricsCollector.NewCounter("order_operations_total", "Order operations performed", []string{"operation", "status"}),
		ProviderCalls:    metricsCollector.NewCounter("provider_calls_total", "Upstream provider calls", []string{"action", "outcome"}),
		ProviderDuration: metricsCollector.NewHistogram("provider_call_duration_seconds", "Upstream provider call duration", []string{"action"}, nil),
		RefundsIssued:    metricsCollector.NewCounter("refunds_issued_total", "Refunds issued on cancel approvals", []string{"refund_type"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Exchange rate cache over the currencies table
	rateTTL := time.Duration(config.GetEnvInt("RATE_CACHE_TTL_SECONDS", 300)) * time.Second
	rateCache := currency.NewCache(currency.NewDBSource(db), rateTTL)

	// Initialize handlers
	handlers.Init(db, logger, metrics, rateCache)

	// Background order status sync, disabled unless configured
	syncInterval := time.Duration(config.GetEnvInt("SYNC_INTERVAL_SECONDS", 0)) * time.Second
	jobManager := handlers.NewJobManager(db, logger, syncInterval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobManager.Start(ctx)
	defer jobManager.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "stevedore", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/orders/ prefix)
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.POST("/orders", handlers.CreateOrder)
			protected.GET("/orders", handlers.ListOrders)
			protected.GET("/orders/:id", handlers.GetOrder)
			protected.GET("/orders/:id/requests", handlers.GetOrderRequests)
			protected.POST("/orders/:id/cancel-request", handlers.CreateCancelRequest)
			protected.POST("/orders/:id/refill-request", handlers.CreateRefillRequest)
		}

		// Staff endpoints
		admin := router.Group("/admin")
		admin.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		admin.Use(auth.RequireRole(models.RoleAdmin, models.RoleModerator))
		{
			admin.POST("/orders/:id/resend", handlers.ResendOrder)
			admin.POST("/orders/:id/sync", handlers.SyncOrder)
			admin.POST("/orders/:id/status", handlers.UpdateOrderStatus)
			admin.POST("/cancel-requests/:id/resolve", handlers.ResolveCancelRequest)
			admin.POST("/refill-requests/:id/resolve", handlers.ResolveRefillRequest)
			admin.POST("/transactions/:id/status", handlers.UpdateTransactionStatus)
			admin.GET("/statistics", handlers.GetStatistics)
			admin.GET("/providers/:id/balance", handlers.GetProviderBalance)
		}

		// Service-to-service endpoints
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/internal/orders/:id/sync", handlers.SyncOrder)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("stevedore", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
