package orders

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	return rdb
}

func TestFeedPublishSubscribe(t *testing.T) {
	rdb := getRedis(t)
	defer rdb.Close()
	ctx := context.Background()

	f := &Feed{Redis: rdb}
	orderID := uuid.NewString()

	ch, cancel, err := f.Subscribe(ctx, orderID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := f.Publish(ctx, orderID, StatusProcessing); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case s := <-ch:
		if s != StatusProcessing {
			t.Errorf("expected processing, got %s", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no status delivered")
	}
}

func TestFeedSlowConsumerStillGetsNewestStatus(t *testing.T) {
	rdb := getRedis(t)
	defer rdb.Close()
	ctx := context.Background()

	f := &Feed{Redis: rdb}
	orderID := uuid.NewString()

	ch, cancel, err := f.Subscribe(ctx, orderID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// overflow the subscriber buffer without reading; the oldest updates may
	// be evicted but the final one must survive
	for i := 0; i < 20; i++ {
		if err := f.Publish(ctx, orderID, StatusProcessing); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := f.Publish(ctx, orderID, StatusDelivered); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(500 * time.Millisecond) // let the pump drain the pubsub channel

	var last Status
	deadline := time.After(3 * time.Second)
	for last != StatusDelivered {
		select {
		case s := <-ch:
			last = s
		case <-deadline:
			t.Fatalf("newest status never delivered, last seen %q", last)
		}
	}
}

func TestFeedCancelStopsDelivery(t *testing.T) {
	rdb := getRedis(t)
	defer rdb.Close()
	ctx := context.Background()

	f := &Feed{Redis: rdb}
	orderID := uuid.NewString()

	ch, cancel, err := f.Subscribe(ctx, orderID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	// channel closes once the pubsub connection is gone
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}
