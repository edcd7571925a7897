package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/hydrolia/checkout/internal/kafka"
	"github.com/hydrolia/checkout/internal/orders"
	"github.com/hydrolia/checkout/internal/redisx"
)

// Consumer turns order lifecycle events into customer emails. It commits
// offsets even when delivery fails: notification is fire-and-forget and must
// never hold back the order stream.
type Consumer struct {
	Dispatcher  *Dispatcher
	Redis       *redis.Client
	ServiceName string
}

func (c *Consumer) HandleStatusChanged(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderStatusChanged {
		return nil // ignore
	}

	// dedup on event_id: redelivery after a rebalance must not double-send
	dkey := fmt.Sprintf(redisx.KeyDedup, "notify", env.EventID)
	if exists, _ := redisx.Exists(ctx, c.Redis, dkey); exists {
		return nil
	}
	_ = c.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
	if err != nil {
		return err
	}

	if err := c.Dispatcher.Notify(ctx, p.UserID, p.OrderID, p.Status, p.TotalCents, p.Extra); err != nil {
		log.Printf("notify order %s (%s): %v", p.OrderID, p.Status, err)
	}
	return nil
}
