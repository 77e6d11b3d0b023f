package redis

import (
	"context"
	"fmt"
	"time"

	"ms-stepping/internal/logger"

	"github.com/go-redis/redis/v8"
)

const DefaultSeatLockTTL = 5 * time.Minute

// unlockScript deletes a hold only when it still belongs to the order.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SeatLock holds seats of an event for a pending order. A hold expires on its
// own after TTL so an abandoned checkout frees its seats.
type SeatLock struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewSeatLock(client *redis.Client, ttl time.Duration, log *logger.Logger) *SeatLock {
	if ttl <= 0 {
		log.Warn("REDIS", fmt.Sprintf("Invalid seat lock TTL %s, using default %s", ttl, DefaultSeatLockTTL))
		ttl = DefaultSeatLockTTL
	}
	return &SeatLock{Client: client, TTL: ttl, Logger: log}
}

func seatKey(eventID, seatID string) string {
	return fmt.Sprintf("seat_lock:%s:%s", eventID, seatID)
}

// CheckSeatsAvailability reports the seats of seatIDs that are currently held.
func (l *SeatLock) CheckSeatsAvailability(ctx context.Context, eventID string, seatIDs []string) (bool, []string, error) {
	var held []string
	for _, seatID := range seatIDs {
		n, err := l.Client.Exists(ctx, seatKey(eventID, seatID)).Result()
		if err != nil {
			return false, nil, err
		}
		if n > 0 {
			held = append(held, seatID)
		}
	}
	return len(held) == 0, held, nil
}

// HolderOf returns the order holding a seat, or "" when it is free.
func (l *SeatLock) HolderOf(ctx context.Context, eventID, seatID string) (string, error) {
	val, err := l.Client.Get(ctx, seatKey(eventID, seatID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (l *SeatLock) LockSeat(ctx context.Context, eventID, seatID, orderID string) (bool, error) {
	return l.Client.SetNX(ctx, seatKey(eventID, seatID), orderID, l.TTL).Result()
}

func (l *SeatLock) UnlockSeat(ctx context.Context, eventID, seatID, orderID string) error {
	return unlockScript.Run(ctx, l.Client, []string{seatKey(eventID, seatID)}, orderID).Err()
}

// LockSeats holds every seat or none of them.
func (l *SeatLock) LockSeats(ctx context.Context, eventID string, seatIDs []string, orderID string) (bool, error) {
	locked := make([]string, 0, len(seatIDs))
	release := func() {
		for _, s := range locked {
			if err := l.UnlockSeat(ctx, eventID, s, orderID); err != nil {
				l.Logger.Warn("REDIS", fmt.Sprintf("Failed to release seat %s for order %s: %v", s, orderID, err))
			}
		}
	}
	for _, seatID := range seatIDs {
		ok, err := l.LockSeat(ctx, eventID, seatID, orderID)
		if err != nil {
			release()
			return false, err
		}
		if !ok {
			release()
			l.Logger.Debug("REDIS", fmt.Sprintf("Seat %s of event %s already held", seatID, eventID))
			return false, nil
		}
		locked = append(locked, seatID)
	}
	l.Logger.Debug("REDIS", fmt.Sprintf("Held %d seats of event %s for order %s (ttl %s)", len(seatIDs), eventID, orderID, l.TTL))
	return true, nil
}

// UnlockSeats releases the order's holds. Seats held by other orders are left
// alone.
func (l *SeatLock) UnlockSeats(ctx context.Context, eventID string, seatIDs []string, orderID string) error {
	var firstErr error
	for _, seatID := range seatIDs {
		if err := l.UnlockSeat(ctx, eventID, seatID, orderID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
