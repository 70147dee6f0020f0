/**
 * @description
 * This is the main entry point for the settlement service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3: Scheduled card expiry sweeps.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/captureclient, pkg/issuingclient: Clients for the payment vendor APIs.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/B-Ventures/bpay-v2-sub000/internal/api"
	"github.com/B-Ventures/bpay-v2-sub000/internal/app"
	"github.com/B-Ventures/bpay-v2-sub000/internal/config"
	"github.com/B-Ventures/bpay-v2-sub000/internal/store"
	"github.com/B-Ventures/bpay-v2-sub000/pkg/captureclient"
	"github.com/B-Ventures/bpay-v2-sub000/pkg/issuingclient"
	"github.com/B-Ventures/bpay-v2-sub000/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if !cfg.CaptureDemoMode && strings.TrimSpace(cfg.CaptureAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"capture api key must be configured\" env=CAPTURE_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s demo_mode=%t", cfg.ServerPort, cfg.CaptureDemoMode)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish settlement events. An
	// unreachable broker downgrades to a no-op publisher rather than blocking
	// settlements.
	var eventProducer rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rabbitmq.EventProducerFallback{}
	} else {
		eventProducer = producer
	}
	defer eventProducer.Close()

	// Initialize the payment vendor clients.
	captureClient := captureclient.NewClient(cfg.CaptureAPIBaseURL, cfg.CaptureAPIKey, cfg.CaptureDemoMode)
	issuingClient := issuingclient.NewClient(cfg.IssuingAPIBaseURL, cfg.IssuingAPIKey)

	// Optional Redis connection for settlement rate limiting. A missing or
	// unreachable Redis disables the limiter with a warning.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; settlement rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; settlement rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; settlement rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	settlementService := app.NewService(
		repository,
		captureClient,
		issuingClient,
		eventProducer,
		cfg.VendorName,
		cfg.Currency,
		cfg.CaptureDemoMode,
	)
	settlementService.SetCaptureTimeout(time.Duration(cfg.CaptureTimeoutSeconds) * time.Second)
	if redisClient != nil {
		settlementService.SetSettlementRateLimiter(
			app.NewRedisSettlementRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.SettleRateLimitPerMinute,
		)
	}

	// Schedule the card expiry sweep.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CardExpirySweepSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		settlementService.SweepExpiredCards(sweepCtx)
	}); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"card expiry sweep schedule invalid\" schedule=%q err=%v", cfg.CardExpirySweepSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize the API handlers.
	settlementHandlers := api.NewSettlementHandlers(settlementService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.SettlementRoutes(settlementHandlers, cfg.AuthJWKSURL))

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
