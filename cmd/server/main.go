package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/cache"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/config"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/events"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/gateway"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/httpapi"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/service"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store/memory"
	pgstore "github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var txStore store.TxStore
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("postgres schema: %v", err)
		}
		txStore = pg
		closers = append(closers, pg.Close)
		log.Println("store: postgres")
	} else {
		txStore = memory.NewSeeded()
		log.Println("store: in-memory")
	}

	receipts := cache.ReceiptCache(cache.NoopReceiptCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReceiptCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop receipt cache", err)
		} else {
			receipts = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("receipt cache: redis")
		}
	} else {
		log.Println("receipt cache: noop")
	}

	gateways := map[string]gateway.Gateway{
		gateway.ProviderMayapos:    gateway.NewMayaposClient(cfg.MayaposBaseURL, cfg.MayaposAPIKey),
		gateway.ProviderStripeline: gateway.NewStripelineClient(cfg.StripelineBaseURL, cfg.StripelineAPIKey),
	}

	// With no brokers configured the safety net runs in-process: purchase
	// events are handed straight to the reconciler instead of Kafka.
	var publisher events.Publisher
	svc := service.New(txStore, gateways, nil, receipts, cfg.StationID)
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, producer.Close)
		publisher = producer
		log.Println("events: kafka")
	} else {
		publisher = events.NewDispatcher(svc.Reconcile)
		log.Println("events: in-process dispatcher")
	}
	svc.SetPublisher(publisher)

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, txStore)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("checkout backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
