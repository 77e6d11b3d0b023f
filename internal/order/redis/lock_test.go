package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ms-stepping/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestLockSeatsAllOrNothing(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewSeatLock(client, time.Minute, logger.NewConsoleLogger())
	ctx := context.Background()

	locked, err := lock.LockSeats(ctx, "event-1", []string{"A2"}, "order-other")
	require.NoError(t, err)
	require.True(t, locked)

	locked, err = lock.LockSeats(ctx, "event-1", []string{"A1", "A2", "A3"}, "order-1")
	require.NoError(t, err)
	assert.False(t, locked)

	// A1 was rolled back, A3 never taken.
	holder, err := lock.HolderOf(ctx, "event-1", "A1")
	require.NoError(t, err)
	assert.Empty(t, holder)

	available, held, err := lock.CheckSeatsAvailability(ctx, "event-1", []string{"A1", "A2", "A3"})
	require.NoError(t, err)
	assert.False(t, available)
	assert.Equal(t, []string{"A2"}, held)
}

func TestSeatsAreScopedByEvent(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewSeatLock(client, time.Minute, logger.NewConsoleLogger())
	ctx := context.Background()

	ok, err := lock.LockSeats(ctx, "event-1", []string{"A1"}, "order-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lock.LockSeats(ctx, "event-2", []string{"A1"}, "order-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockOnlyReleasesOwnHolds(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewSeatLock(client, time.Minute, logger.NewConsoleLogger())
	ctx := context.Background()

	ok, err := lock.LockSeats(ctx, "event-1", []string{"B1"}, "order-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.UnlockSeats(ctx, "event-1", []string{"B1"}, "order-2"))
	holder, err := lock.HolderOf(ctx, "event-1", "B1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", holder)

	require.NoError(t, lock.UnlockSeats(ctx, "event-1", []string{"B1"}, "order-1"))
	holder, err = lock.HolderOf(ctx, "event-1", "B1")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestHoldsExpire(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewSeatLock(client, 2*time.Minute, logger.NewConsoleLogger())
	ctx := context.Background()

	ok, err := lock.LockSeats(ctx, "event-1", []string{"C1"}, "order-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(3 * time.Minute)

	ok, err = lock.LockSeats(ctx, "event-1", []string{"C1"}, "order-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewSeatLockDefaultsTTL(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewSeatLock(client, 0, logger.NewConsoleLogger())
	assert.Equal(t, DefaultSeatLockTTL, lock.TTL)
}

func TestConcurrentLockingHasOneWinner(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewSeatLock(client, time.Minute, logger.NewConsoleLogger())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orderID := fmt.Sprintf("order-%d", i)
			ok, err := lock.LockSeats(ctx, "event-1", []string{"D1", "D2"}, orderID)
			if err == nil && ok {
				mu.Lock()
				winners = append(winners, orderID)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, winners, 1)
}

func TestSeatLockAgainstRedisContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()

	lock := NewSeatLock(client, time.Minute, logger.NewConsoleLogger())
	seatIDs := []string{"seat1", "seat2", "seat3"}

	locked, err := lock.LockSeats(ctx, "event-1", seatIDs, "order-1")
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = lock.LockSeats(ctx, "event-1", seatIDs, "order-2")
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, lock.UnlockSeats(ctx, "event-1", seatIDs, "order-1"))

	locked, err = lock.LockSeats(ctx, "event-1", seatIDs, "order-2")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestOrderHoldLifecycle(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewSeatLock(client, time.Minute, logger.NewConsoleLogger())
	ctx := context.Background()

	require.NoError(t, lock.HoldOrder(ctx, "order-1"))
	assert.True(t, mr.Exists("order_hold:order-1"))
	assert.Equal(t, time.Minute, mr.TTL("order_hold:order-1"))

	require.NoError(t, lock.ReleaseOrder(ctx, "order-1"))
	assert.False(t, mr.Exists("order_hold:order-1"))
}

func TestHandleExpiredOnlyOrderHolds(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewSeatLock(client, time.Minute, logger.NewConsoleLogger())
	var expired []string
	expire := func(_ context.Context, orderID string) error {
		expired = append(expired, orderID)
		return nil
	}

	lock.handleExpired(context.Background(), &redis.Message{Payload: "seat_lock:e1:A1"}, expire)
	lock.handleExpired(context.Background(), &redis.Message{Payload: "order_hold:o-9"}, expire)
	assert.Equal(t, []string{"o-9"}, expired)
}
