package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mercadolocal/fulfillment/internal/config"
	"github.com/mercadolocal/fulfillment/internal/dispatch"
	"github.com/mercadolocal/fulfillment/internal/fulfillment"
	kafkax "github.com/mercadolocal/fulfillment/internal/kafka"
	"github.com/mercadolocal/fulfillment/internal/notify"
	"github.com/mercadolocal/fulfillment/internal/orders"
	"github.com/mercadolocal/fulfillment/internal/postgres"
	"github.com/mercadolocal/fulfillment/internal/redisx"
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// assignments made here publish their own transition events
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderTransitioned, 1024)
	prod.Start(ctx)

	serviceName := cfg.ServiceName + "-dispatch"
	repo := &orders.Repo{DB: db}
	stock := &orders.StockRepo{DB: db}
	coord := fulfillment.New(repo, stock, &notify.Kafka{
		Producer: prod,
		Cache:    &redisx.StatusCache{C: rdb},
		Service:  serviceName,
	})

	svc := &dispatch.Service{
		Coord:   coord,
		Dedup:   &redisx.Deduper{C: rdb, Service: "dispatch"},
		Drivers: &redisx.DriverRotation{C: rdb},
	}

	group := getenv("DISPATCH_GROUP", "dispatch-svc")
	workers := mustAtoi(os.Getenv("DISPATCH_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrderTransitioned, workers)

	go func() {
		log.Printf("dispatch consumer started: group=%s topic=%s workers=%d", group, orders.TopicOrderTransitioned, workers)
		if err := cons.Start(ctx, svc.HandleTransition); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	prod.Close()
	prod.WaitClosed()
}
