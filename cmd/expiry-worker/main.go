package main

import (
	"context"
	"log"
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
	"github.com/robertarktes/travel-bookings-and-payments/internal/booking"
	"github.com/robertarktes/travel-bookings-and-payments/internal/config"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/lock"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

const sweepBatchSize = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

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
	history := mongoadapter.NewHistoryRepository(mongoClient.Database("tbp"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	locks := lock.NewManager(redisadapter.NewLockStore(redisClient), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	pub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	svc := booking.NewService(repo, locks, pub, nil, history, nil, cfg.ReservationHold, logger)

	worker := NewExpiryWorker(repo, svc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.ExpirySweepEvery)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

type ExpiryWorker struct {
	repo   *crdb.Repository
	svc    *booking.Service
	logger observability.Logger
}

func NewExpiryWorker(repo *crdb.Repository, svc *booking.Service, logger observability.Logger) *ExpiryWorker {
	return &ExpiryWorker{repo: repo, svc: svc, logger: logger}
}

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired, err := w.repo.GetExpiredPendingBookings(ctx, now, sweepBatchSize)
			if err != nil {
				w.logger.Error("failed to get expired bookings", err)
				continue
			}
			if len(expired) == 0 {
				continue
			}

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(8)
			for _, b := range expired {
				b := b
				g.Go(func() error {
					if err := w.expireWithRetry(gctx, b); err != nil {
						w.logger.WithField("booking_id", b.ID).Error("failed to expire booking after retries", err)
					}
					return nil
				})
			}
			g.Wait()
		}
	}
}

func (w *ExpiryWorker) expireWithRetry(ctx context.Context, b domain.Booking) error {
	var err error
	for i := 0; i < 3; i++ {
		err = w.svc.ExpireReservation(ctx, b, "reservation hold expired")
		if err == nil {
			return nil
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
