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

	"github.com/hydrolia/checkout/internal/catalog"
	"github.com/hydrolia/checkout/internal/checkout"
	"github.com/hydrolia/checkout/internal/config"
	"github.com/hydrolia/checkout/internal/httpx"
	kafkax "github.com/hydrolia/checkout/internal/kafka"
	"github.com/hydrolia/checkout/internal/orders"
	"github.com/hydrolia/checkout/internal/payment"
	"github.com/hydrolia/checkout/internal/postgres"
	"github.com/hydrolia/checkout/internal/redisx"
	"github.com/hydrolia/checkout/internal/stock"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatus, 1024)
	prod.Start(ctx)

	feed := &orders.Feed{Redis: rdb}
	recorder := &orders.Recorder{
		DB:       db,
		Redis:    rdb,
		Feed:     feed,
		Producer: prod,
		Service:  cfg.ServiceName,
	}
	ledger := &stock.Ledger{DB: db, TTL: cfg.ReservationTTL}
	cat := &catalog.Repo{DB: db}

	orch := &checkout.Orchestrator{
		Ledger:   ledger,
		Catalog:  cat,
		Payments: payment.NewClient(cfg.PaymentAPIURL, cfg.PaymentSecretKey),
		Recorder: recorder,
		Idem:     &checkout.RedisIdem{Client: rdb},
	}

	go ledger.RunSweeper(ctx, cfg.SweepInterval)

	r := httpx.NewRouter()
	h := &httpx.CheckoutHandler{
		Orchestrator: orch,
		Recorder:     recorder,
		Catalog:      cat,
		Feed:         feed,
		Redis:        rdb,
	}
	h.Register(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Printf("%s listening on %s", cfg.ServiceName, cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	prod.Close()
	cancel()
	prod.WaitClosed()
	log.Println("bye")
}
