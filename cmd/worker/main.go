package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"checkin/internal/config"
	"checkin/internal/fraud"
	"checkin/internal/queue"
	"checkin/internal/store"
)

// Worker consumes queued fraud-scan jobs and runs the rule set over the
// full attendance history.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "checkin:jobs")
	}

	fraudStore := fraud.NewPostgresStore(db.Client)
	detector := fraud.NewDetector(fraudStore, fraudStore)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypeFraudScan {
			continue
		}

		report, err := detector.RunFullScan(ctx)
		if err != nil {
			log.Printf("fraud scan failed: %v", err)
			continue
		}
		log.Printf("fraud scan done: %d logs scanned, %d alerts created",
			report.Scanned, report.AlertsCreated)
	}

	log.Println("worker stopped")
}
