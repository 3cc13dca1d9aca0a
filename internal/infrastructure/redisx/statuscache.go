package redisx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// keyOrderStatus caches the latest status pair per order.
	keyOrderStatus = "order_status:"
	// ChannelOrderStatus carries status-change notifications for
	// realtime subscribers.
	ChannelOrderStatus = "orders.status"
)

var statusTTL = 5 * time.Minute

// StatusUpdate is the payload cached and published on every transition.
type StatusUpdate struct {
	OrderID       string    `json:"order_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StatusCache keeps the latest order status in Redis and fans out changes
// on a pub/sub channel. All operations are best effort; the order store
// remains the source of truth.
type StatusCache struct {
	rdb *redis.Client
}

func New(addr string) *StatusCache {
	return &StatusCache{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func NewWithClient(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb}
}

// Set caches the update and publishes it on the status channel.
func (c *StatusCache) Set(ctx context.Context, upd StatusUpdate) error {
	data, err := json.Marshal(upd)
	if err != nil {
		return err
	}

	if err := c.rdb.Set(ctx, keyOrderStatus+upd.OrderID, data, statusTTL).Err(); err != nil {
		return err
	}
	return c.rdb.Publish(ctx, ChannelOrderStatus, data).Err()
}

func (c *StatusCache) Close() error {
	return c.rdb.Close()
}

// Get returns the cached status, or ok=false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (StatusUpdate, bool, error) {
	data, err := c.rdb.Get(ctx, keyOrderStatus+orderID).Bytes()
	if err == redis.Nil {
		return StatusUpdate{}, false, nil
	}
	if err != nil {
		return StatusUpdate{}, false, err
	}

	var upd StatusUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return StatusUpdate{}, false, err
	}
	return upd, true, nil
}
