package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mercadolocal/fulfillment/internal/config"
	"github.com/mercadolocal/fulfillment/internal/fulfillment"
	"github.com/mercadolocal/fulfillment/internal/httpx"
	kafkax "github.com/mercadolocal/fulfillment/internal/kafka"
	"github.com/mercadolocal/fulfillment/internal/notify"
	"github.com/mercadolocal/fulfillment/internal/orders"
	"github.com/mercadolocal/fulfillment/internal/postgres"
	"github.com/mercadolocal/fulfillment/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// one producer per topic: intake events and transition events
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	pCreated.Start(ctx)
	pTransitioned := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderTransitioned, 1024)
	pTransitioned.Start(ctx)

	repo := &orders.Repo{DB: db}
	stock := &orders.StockRepo{DB: db}
	statusCache := &redisx.StatusCache{C: rdb}
	coord := fulfillment.New(repo, stock, &notify.Kafka{
		Producer: pTransitioned,
		Cache:    statusCache,
		Service:  cfg.ServiceName,
	})

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Repo:     repo,
		Coord:    coord,
		Producer: pCreated,
		Redis:    rdb,
		Cache:    statusCache,
		Service:  cfg.ServiceName,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	// close inboxes -> flush & close writers, then wait for the drain
	pCreated.Close()
	pTransitioned.Close()
	cancel()
	pCreated.WaitClosed()
	pTransitioned.WaitClosed()
}
