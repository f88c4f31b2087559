package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketly/internal/booking"
	"ticketly/internal/booking/api"
	"ticketly/internal/config"
	"ticketly/internal/discount"
	"ticketly/internal/inventory"
	"ticketly/internal/kafka"
	"ticketly/internal/keylock"
	"ticketly/internal/ledger"
	"ticketly/internal/logger"
	"ticketly/internal/notification"
	"ticketly/internal/qrgen"
	"ticketly/internal/redislock"
	"ticketly/internal/settlement"
	"ticketly/internal/sse"
	"ticketly/internal/trending"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func connectDatabase(cfg *config.Config, log *logger.Logger) *bun.DB {
	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("open postgres: %v", err))
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	for attempt := 1; attempt <= 10; attempt++ {
		if err = sqldb.Ping(); err == nil {
			break
		}
		log.Warn("DATABASE", fmt.Sprintf("ping attempt %d failed: %v", attempt, err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("postgres unreachable: %v", err))
	}

	log.Info("DATABASE", "postgres connection established")
	return bun.NewDB(sqldb, pgdialect.New())
}

func buildLocker(cfg *config.Config, log *logger.Logger) booking.Locker {
	if !cfg.Redis.Enabled {
		log.Info("LOCKS", "redis disabled, using in-process key locks")
		return keylock.New()
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("LOCKS", fmt.Sprintf("redis unreachable (%v), falling back to in-process key locks", err))
		return keylock.New()
	}

	log.Info("LOCKS", "redis key locks enabled")
	return redislock.New(client, cfg.Locks.TTL)
}

func main() {
	_ = godotenv.Load()

	log := logger.NewLogger()
	defer log.Close()

	cfg := config.Load()
	clock := clockwork.NewRealClock()

	db := connectDatabase(cfg, log)
	defer db.Close()

	locks := buildLocker(cfg, log)

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		topics := []string{
			cfg.Kafka.Topics.TicketPaid,
			cfg.Kafka.Topics.TicketUnpaid,
			cfg.Kafka.Topics.TicketDeleted,
			cfg.Kafka.Topics.TicketCheckedIn,
			cfg.Kafka.Topics.EventUpdated,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("topic setup failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		log.Info("KAFKA", fmt.Sprintf("event feed enabled, brokers %v", cfg.Kafka.Brokers))
	} else {
		log.Info("KAFKA", "event feed disabled")
	}

	trendingService := trending.NewService(db, clock, log)
	inventoryService := inventory.NewService(db, locks, qrgen.NewRenderer(), clock, log)
	validator := discount.NewValidator()

	// A nil *kafka.Producer inside a non-nil interface would dodge the
	// services' nil guards, so only hand it over when it exists.
	var ledgerService *ledger.Service
	var settlementService *settlement.Service
	var notificationService *notification.Service
	notifier := sse.NewHub()
	if producer != nil {
		ledgerService = ledger.NewService(db, trendingService, producer, cfg.Kafka.Topics, clock, log)
		settlementService = settlement.NewService(db, locks, validator, trendingService, producer, cfg.Kafka.Topics, clock, log)
		notificationService = notification.NewService(db, notifier, producer, cfg.Kafka.Topics, clock, log)
	} else {
		ledgerService = ledger.NewService(db, trendingService, nil, cfg.Kafka.Topics, clock, log)
		settlementService = settlement.NewService(db, locks, validator, trendingService, nil, cfg.Kafka.Topics, clock, log)
		notificationService = notification.NewService(db, notifier, nil, cfg.Kafka.Topics, clock, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if producer != nil {
		feedTopics := []string{
			cfg.Kafka.Topics.TicketPaid,
			cfg.Kafka.Topics.TicketUnpaid,
			cfg.Kafka.Topics.TicketDeleted,
			cfg.Kafka.Topics.TicketCheckedIn,
		}
		for _, topic := range feedTopics {
			consumer := kafka.NewConsumer(cfg.Kafka.Brokers, topic, cfg.Kafka.GroupID)
			defer consumer.Close()
			go consumer.Start(ctx, trendingService.HandleTicketEvent)
			log.LogKafka("CONSUME", topic, "score recompute consumer started")
		}
	}

	handler := api.NewHandler(inventoryService, ledgerService, settlementService, trendingService, notificationService, notifier, clock, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Mount("/api/v1", handler.Routes())

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("booking core listening on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("http server: %v", err))
		}
	}()

	<-ctx.Done()
	log.Info("SERVER", "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("SERVER", fmt.Sprintf("shutdown: %v", err))
		os.Exit(1)
	}
	log.Info("SERVER", "booking core shutdown complete")
}
