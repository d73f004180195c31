package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/cache"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/config"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/events"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/service"
	pgstore "github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store/postgres"
)

// The reconciler consumes purchase-created events and re-runs the stock
// decrement for any purchase whose decremented flag never landed. It is safe
// to run alongside the server and to replay the topic from the beginning.
func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	defer startCancel()

	pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[reconciler] postgres: %v", err)
	}
	defer pg.Close()
	if err := pg.EnsureSchema(startCtx); err != nil {
		log.Fatalf("[reconciler] postgres schema: %v", err)
	}

	svc := service.New(pg, nil, events.NoopPublisher{}, cache.NoopReceiptCache{}, cfg.StationID)

	consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	go func() {
		log.Printf("[reconciler] consuming topic=%s group=%s brokers=%v", cfg.KafkaTopic, cfg.KafkaGroupID, cfg.KafkaBrokers)
		if err := consumer.Consume(ctx, svc.Reconcile); err != nil {
			log.Printf("[reconciler] consumer stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[reconciler] shutting down")
	cancel()
}
