package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"trustflow/audit"
	"trustflow/auth"
	"trustflow/db"
	"trustflow/dispute"
	"trustflow/escrow"
	"trustflow/job"
	"trustflow/notify"
	"trustflow/property"
	"trustflow/trust"
	"trustflow/worker"
)

type config struct {
	DatabaseURL string
	NATSURL     string
	JWTSecret   string
}

func loadConfig(lookup func(string) (string, bool)) (config, error) {
	cfg := config{}

	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return fallback
	}

	cfg.DatabaseURL = get("DATABASE_URL", "")
	cfg.NATSURL = get("NATS_URL", "")
	cfg.JWTSecret = get("JWT_SECRET", "")

	if cfg.DatabaseURL == "" {
		return config{}, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return config{}, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

func main() {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("bootstrap database pool", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var notifier notify.Notifier = notify.Noop{}
	if cfg.NATSURL != "" {
		publisher, err := notify.NewPublisher(cfg.NATSURL)
		if err != nil {
			log.Warn("nats unavailable, notifications disabled", "err", err)
		} else {
			defer publisher.Close()
			notifier = publisher
		}
	}

	auditor := audit.NewLogger(log)

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	escrowLedger := escrow.NewLedger()
	trustLedger := trust.NewLedger()

	propertyService := property.NewService(pool, property.NewRepository(pool), notifier, auditor)
	jobService := job.NewService(pool, job.NewRepository(pool), escrowLedger, trustLedger, notifier, auditor)
	disputeService := dispute.NewService(pool, dispute.NewRepository(pool), job.NewRepository(pool), escrowLedger, trustLedger, notifier, auditor)
	workerService := worker.NewService(worker.NewRepository(pool))

	log.Info("trustflow services ready",
		"auth", authService != nil,
		"property", propertyService != nil,
		"job", jobService != nil,
		"dispute", disputeService != nil,
		"worker", workerService != nil,
	)
}
