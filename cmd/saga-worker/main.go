package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/travel-bookings-and-payments/internal/adapters/crdb"
	"github.com/robertarktes/travel-bookings-and-payments/internal/adapters/rabbit"
	"github.com/robertarktes/travel-bookings-and-payments/internal/config"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"github.com/robertarktes/travel-bookings-and-payments/internal/participants"
	"github.com/robertarktes/travel-bookings-and-payments/internal/saga"
)

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

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	pub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	hotel := participants.NewHotelService(repo, pub, logger)
	flight := participants.NewFlightService(repo, pub, logger)

	hotelDispatcher := saga.NewDispatcher(logger)
	hotel.Register(hotelDispatcher)
	flightDispatcher := saga.NewDispatcher(logger)
	flight.Register(flightDispatcher)

	hotelConsumer, err := rabbit.NewConsumer(conn, rabbit.HotelQueue, "saga.hotel")
	if err != nil {
		log.Fatalf("failed to create hotel consumer: %v", err)
	}
	flightConsumer, err := rabbit.NewConsumer(conn, rabbit.FlightQueue, "saga.flight")
	if err != nil {
		log.Fatalf("failed to create flight consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := participants.NewWorker(hotelConsumer, hotelDispatcher, logger).Run(ctx); err != nil {
			logger.Error("hotel worker stopped", err)
		}
	}()
	go func() {
		if err := participants.NewWorker(flightConsumer, flightDispatcher, logger).Run(ctx); err != nil {
			logger.Error("flight worker stopped", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown saga worker")
}
