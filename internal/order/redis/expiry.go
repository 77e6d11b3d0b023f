package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

const orderHoldPrefix = "order_hold:"

func orderHoldKey(orderID string) string {
	return orderHoldPrefix + orderID
}

// HoldOrder starts the payment window of a pending order. When the key
// expires the order is abandoned.
func (l *SeatLock) HoldOrder(ctx context.Context, orderID string) error {
	return l.Client.Set(ctx, orderHoldKey(orderID), "1", l.TTL).Err()
}

func (l *SeatLock) ReleaseOrder(ctx context.Context, orderID string) error {
	return l.Client.Del(ctx, orderHoldKey(orderID)).Err()
}

// EnableExpiryEvents turns on keyspace notifications for expired keys.
func (l *SeatLock) EnableExpiryEvents(ctx context.Context) {
	if err := l.Client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		l.Logger.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
		return
	}
	l.Logger.Info("REDIS", "Keyspace notifications enabled for expired events")
}

// WatchExpiredOrders calls expire for every order whose payment window runs
// out. It blocks until ctx is done.
func (l *SeatLock) WatchExpiredOrders(ctx context.Context, expire func(ctx context.Context, orderID string) error) {
	channel := fmt.Sprintf("__keyevent@%d__:expired", l.Client.Options().DB)
	pubsub := l.Client.PSubscribe(ctx, channel)
	defer pubsub.Close()
	l.Logger.Info("REDIS", fmt.Sprintf("Subscribed to %s", channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			l.handleExpired(ctx, msg, expire)
		}
	}
}

func (l *SeatLock) handleExpired(ctx context.Context, msg *redis.Message, expire func(ctx context.Context, orderID string) error) {
	if !strings.HasPrefix(msg.Payload, orderHoldPrefix) {
		return
	}
	orderID := strings.TrimPrefix(msg.Payload, orderHoldPrefix)
	l.Logger.Info("SEAT_UNLOCK", fmt.Sprintf("Payment window expired for order %s", orderID))
	if err := expire(ctx, orderID); err != nil {
		l.Logger.Warn("SEAT_UNLOCK", fmt.Sprintf("Order %s not expired: %v", orderID, err))
	}
}
