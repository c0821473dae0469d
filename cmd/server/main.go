package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/commentsense/backend/docs"
	"github.com/commentsense/backend/internal/config"
	"github.com/commentsense/backend/internal/database"
	"github.com/commentsense/backend/internal/handlers"
	"github.com/commentsense/backend/internal/logging"
	mW "github.com/commentsense/backend/internal/middleware"
	"github.com/commentsense/backend/internal/retry"
	"github.com/commentsense/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// @title CommentSense Credits API
// @version 1.0
// @description Credit ledger for AI analysis of YouTube comments
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.migrate", "DATABASE_MIGRATE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("mongo.uri", "MONGO_URI")
	viper.BindEnv("mongo.database", "MONGO_DATABASE")
	viper.BindEnv("mongo.users_collection", "MONGO_USERS_COLLECTION")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("payments.webhook_secret", "PAYMENTS_WEBHOOK_SECRET")
	viper.BindEnv("store.driver", "STORE_DRIVER")
	viper.BindEnv("legacy.source", "LEGACY_SOURCE")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.encoding", "LOG_ENCODING")

	viper.SetDefault("store.driver", "postgres")
	viper.SetDefault("legacy.source", "postgres")
	viper.SetDefault("database.migrate", true)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	logger, err := logging.New(viper.GetString("log.level"), viper.GetString("log.encoding"))
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	credits := config.LoadCreditsConfig(viper.GetViper())
	ctx := context.Background()

	// Initialize Swagger docs
	docs.SwaggerInfo.Host = viper.GetString("swagger.host")
	if docs.SwaggerInfo.Host == "" {
		docs.SwaggerInfo.Host = "localhost:8080"
	}

	var (
		db    *sql.DB
		store services.LedgerStore
	)
	switch driver := viper.GetString("store.driver"); driver {
	case "memory":
		logger.Warn("Using in-memory ledger store; balances are lost on restart")
		store = services.NewMemoryLedgerStore()
	case "postgres":
		db, err = database.InitDB(ctx, database.GetConfig(), logger)
		if err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		defer db.Close()

		if viper.GetBool("database.migrate") {
			if err := database.Migrate(ctx, db, logger); err != nil {
				logger.Fatal("Failed to migrate database", zap.Error(err))
			}
		}
		store = services.NewPostgresLedgerStore(db)
	default:
		logger.Fatal("Unknown store driver", zap.String("driver", driver))
	}

	var legacy services.TransactionSource
	switch source := viper.GetString("legacy.source"); source {
	case "none":
	case "postgres":
		if db == nil {
			logger.Warn("Postgres legacy source needs the postgres store driver; legacy history disabled")
			break
		}
		legacy = services.NewPostgresLegacySource(db, logger)
	case "mongo":
		mongoClient, users, err := database.InitMongo(ctx, database.GetMongoConfig(), logger)
		if err != nil {
			logger.Fatal("Failed to initialize mongo", zap.Error(err))
		}
		defer mongoClient.Disconnect(context.Background())
		legacy = services.NewMongoLegacySource(users, logger)
	default:
		logger.Fatal("Unknown legacy source", zap.String("source", source))
	}

	redisClient := database.InitRedis(ctx, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	view := services.NewReconciliationView(services.NewCurrentSource(store.Log()), legacy, services.ReconciliationOptions{
		DedupWindow:     credits.LegacyDedupWindow,
		DefaultPageSize: credits.DefaultPageSize,
		MaxPageSize:     credits.MaxPageSize,
		Workers:         credits.ReconcileWorkers,
		Logger:          logger,
	})
	defer view.Close()

	ledger := services.NewLedgerService(store, view, services.LedgerOptions{
		SignupBonus: credits.SignupBonus,
		Cache:       services.NewSummaryCache(redisClient, credits.SummaryCacheTTL, logger),
		Logger:      logger,
	})

	creditsHandler := handlers.NewCreditsHandler(ledger, logger)
	analysisHandler := handlers.NewAnalysisHandler(ledger,
		services.NewHTTPAnalysisClient(credits.AnalysisServiceURL, credits.AnalysisHTTPTimeout),
		handlers.AnalysisHandlerConfig{
			FetchCost:    credits.FetchCost,
			AnalysisCost: credits.AnalysisCost,
			RefundRetry:  retry.DefaultConfig(),
		}, logger)
	paymentHandler := handlers.NewPaymentHandler(ledger, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(3 * time.Minute))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Gateway callbacks, authenticated by shared secret
		r.With(mW.WebhookSecret(viper.GetString("payments.webhook_secret"))).
			Post("/payments/webhook", paymentHandler.Webhook)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/credits/balance", creditsHandler.GetBalance)
			r.Get("/credits/transactions", creditsHandler.ListTransactions)
			r.Get("/credits/summary", creditsHandler.GetSummary)
			r.Delete("/credits/account", creditsHandler.EraseAccount)

			r.Post("/comments/fetch", analysisHandler.FetchComments)
			r.Post("/analysis", analysisHandler.Analyze)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 4 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Info("Server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("Server stopped")
}
