package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hydrolia/checkout/internal/config"
	kafkax "github.com/hydrolia/checkout/internal/kafka"
	"github.com/hydrolia/checkout/internal/notify"
	"github.com/hydrolia/checkout/internal/orders"
	"github.com/hydrolia/checkout/internal/postgres"
	"github.com/hydrolia/checkout/internal/redisx"
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

	disp := &notify.Dispatcher{
		Users:  &notify.PGDirectory{DB: db},
		Mailer: notify.NewMailer(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom),
	}
	c := &notify.Consumer{
		Dispatcher:  disp,
		Redis:       rdb,
		ServiceName: "notifier-svc",
	}

	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := getint("NOTIFIER_WORKERS", 8)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrderStatus, workers)

	go func() {
		stopCh := make(chan os.Signal, 1)
		signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
		<-stopCh
		log.Println("shutting down")
		cancel()
	}()

	log.Printf("notifier consuming %s as group %s", orders.TopicOrderStatus, group)
	if err := cons.Start(ctx, c.HandleStatusChanged); err != nil {
		log.Fatalf("consumer: %v", err)
	}
	log.Println("bye")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
