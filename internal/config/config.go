package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN          string
	MongoURI         string
	RedisAddr        string
	RabbitURL        string
	StripeKey        string
	JWTPublicKey     string
	ReservationHold  time.Duration
	ExpirySweepEvery time.Duration
	OTLPEndpoint     string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	hold, _ := time.ParseDuration(os.Getenv("RESERVATION_HOLD"))
	if hold == 0 {
		hold = 15 * time.Minute
	}
	sweep, _ := time.ParseDuration(os.Getenv("EXPIRY_SWEEP_INTERVAL"))
	if sweep == 0 {
		sweep = time.Minute
	}

	return &Config{
		CRDBDSN:          os.Getenv("CRDB_DSN"),
		MongoURI:         os.Getenv("MONGO_URI"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RabbitURL:        os.Getenv("RABBIT_URL"),
		StripeKey:        os.Getenv("STRIPE_KEY"),
		JWTPublicKey:     os.Getenv("JWT_PUBLIC_KEY"),
		ReservationHold:  hold,
		ExpirySweepEvery: sweep,
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}
