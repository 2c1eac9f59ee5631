package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/travel-bookings-and-payments/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/travel-bookings-and-payments/internal/adapters/mongo"
	"github.com/robertarktes/travel-bookings-and-payments/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/travel-bookings-and-payments/internal/adapters/redis"
	stripeadapter "github.com/robertarktes/travel-bookings-and-payments/internal/adapters/stripe"
	"github.com/robertarktes/travel-bookings-and-payments/internal/booking"
	"github.com/robertarktes/travel-bookings-and-payments/internal/config"
	httphandler "github.com/robertarktes/travel-bookings-and-payments/internal/http"
	"github.com/robertarktes/travel-bookings-and-payments/internal/idempotency"
	"github.com/robertarktes/travel-bookings-and-payments/internal/lock"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"github.com/robertarktes/travel-bookings-and-payments/internal/participants"
	"github.com/robertarktes/travel-bookings-and-payments/internal/payment"
	"github.com/robertarktes/travel-bookings-and-payments/internal/rateLimit"
	"github.com/robertarktes/travel-bookings-and-payments/internal/saga"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()
	observability.InitMetrics()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("tbp")
	history := mongoadapter.NewHistoryRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)
	locks := lock.NewManager(redisadapter.NewLockStore(redisClient), logger)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	registry := payment.NewRegistry(stripeadapter.NewGateway(cfg.StripeKey, logger))
	engine := payment.NewEngine(repo, registry, locks, repo, logger)

	svc := booking.NewService(repo, locks, rabbitPub, engine, history, audit, cfg.ReservationHold, logger)
	queries := booking.NewQueries(repo, history)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The API process owns the saga reply queue: participant outcomes
	// drive booking state transitions here.
	replyConsumer, err := rabbit.NewConsumer(rabbitConn, rabbit.ReplyQueue, "saga.reply")
	if err != nil {
		log.Fatalf("failed to create reply consumer: %v", err)
	}
	replyDispatcher := saga.NewDispatcher(logger)
	svc.RegisterReplyHandlers(replyDispatcher)
	replyWorker := participants.NewWorker(replyConsumer, replyDispatcher, logger)
	go func() {
		if err := replyWorker.Run(ctx); err != nil {
			logger.Error("reply worker stopped", err)
		}
	}()

	handlers := httphandler.NewHandlers(cfg, svc, queries, engine, idemp)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
