package orders

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hydrolia/checkout/internal/redisx"
)

// Feed carries live status changes per order over Redis pub/sub. Delivery is
// at-least-once per change; subscribers treat each message as an overwrite.
type Feed struct {
	Redis *redis.Client
}

func (f *Feed) Publish(ctx context.Context, orderID string, status Status) error {
	ch := fmt.Sprintf(redisx.ChanOrderFeed, orderID)
	return f.Redis.Publish(ctx, ch, string(status)).Err()
}

// Subscribe streams status changes for one order. The returned cancel func
// closes the subscription and, eventually, the channel. Slow consumers get
// coalesced updates rather than blocking the feed.
func (f *Feed) Subscribe(ctx context.Context, orderID string) (<-chan Status, func(), error) {
	ch := fmt.Sprintf(redisx.ChanOrderFeed, orderID)
	ps := f.Redis.Subscribe(ctx, ch)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan Status, 8)
	go func() {
		defer close(out)
		for m := range ps.Channel() {
			s := Status(m.Payload)
			select {
			case out <- s:
				continue
			default:
			}
			// buffer full: evict the oldest update so the newest one always
			// lands, a watcher must never miss the terminal status
			select {
			case <-out:
			default:
			}
			select {
			case out <- s:
			default:
			}
		}
	}()

	cancel := func() { _ = ps.Close() }
	return out, cancel, nil
}
