package follower

import (
	"context"
	"database/sql"
	"testing"

	"ms-stepping/internal/config"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic, key string, value []byte) error {
	return m.Called(topic, key, value).Error(0)
}

func setupService(t *testing.T) (*Service, *MockPublisher) {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	db := &DB{Bun: bunDB}
	require.NoError(t, db.CreateSchema(context.Background()))

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return &Service{Store: db, Producer: pub, Topics: config.Load().Kafka.Topics, Logger: logger.NewConsoleLogger()}, pub
}

func sellerGrant(rate string) models.PromotionRequest {
	return models.PromotionRequest{CanSellTickets: true, CommissionRate: decimal.RequireFromString(rate)}
}

func TestFollowIsIdempotent(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	first, err := svc.Follow(ctx, "fan", "org")
	require.NoError(t, err)
	second, err := svc.Follow(ctx, "fan", "org")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = svc.Follow(ctx, "fan-2", "org")
	require.NoError(t, err)

	n, err := svc.FollowerCount(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	following, err := svc.ListFollowing(ctx, "fan")
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, "org", following[0].OrganizerID)

	ok, err := svc.IsFollowing(ctx, "fan", "org")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.IsFollowing(ctx, "org", "fan")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCannotFollowSelf(t *testing.T) {
	svc, _ := setupService(t)
	_, err := svc.Follow(context.Background(), "org", "org")
	assert.ErrorIs(t, err, ErrSelfFollow)
}

func TestPromoteRequiresFollow(t *testing.T) {
	svc, pub := setupService(t)
	ctx := context.Background()

	_, err := svc.Promote(ctx, "org", "stranger", sellerGrant("10"))
	assert.ErrorIs(t, err, ErrNotFollowing)

	_, err = svc.Follow(ctx, "fan", "org")
	require.NoError(t, err)
	p, err := svc.Promote(ctx, "org", "fan", sellerGrant("12.5"))
	require.NoError(t, err)
	assert.True(t, p.CanSellTickets)
	assert.True(t, p.CommissionRate.Equal(decimal.RequireFromString("12.5")))
	pub.AssertCalled(t, "Publish", "stepping.follower.promoted", "org:fan", mock.Anything)

	again, err := svc.Promote(ctx, "org", "fan", models.PromotionRequest{CanWorkEvents: true})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	assert.False(t, again.CanSellTickets)

	list, err := svc.ListPromotions(ctx, "org")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestHasPermission(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	_, err := svc.Follow(ctx, "fan", "org")
	require.NoError(t, err)
	_, err = svc.Promote(ctx, "org", "fan", models.PromotionRequest{CanWorkEvents: true})
	require.NoError(t, err)

	ok, err := svc.HasPermission(ctx, "org", "fan", models.PermissionWorkEvents)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.HasPermission(ctx, "org", "fan", models.PermissionSellTickets)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.HasPermission(ctx, "org", "org", models.PermissionCoOrganize)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.HasPermission(ctx, "org", "nobody", models.PermissionWorkEvents)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnfollowRevokesPromotion(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	_, err := svc.Follow(ctx, "fan", "org")
	require.NoError(t, err)
	_, err = svc.Promote(ctx, "org", "fan", sellerGrant("5"))
	require.NoError(t, err)

	require.NoError(t, svc.Unfollow(ctx, "fan", "org"))
	_, err = svc.GetPromotion(ctx, "org", "fan")
	assert.ErrorIs(t, err, ErrNoPromotion)
	assert.ErrorIs(t, svc.Unfollow(ctx, "fan", "org"), ErrNotFollowing)

	_, err = svc.Follow(ctx, "fan", "org")
	require.NoError(t, err)
	ok, err := svc.HasPermission(ctx, "org", "fan", models.PermissionSellTickets)
	require.NoError(t, err)
	assert.False(t, ok, "re-following does not restore grants")
}

func TestRevokeKeepsFollow(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	_, err := svc.Follow(ctx, "fan", "org")
	require.NoError(t, err)
	_, err = svc.Promote(ctx, "org", "fan", sellerGrant("5"))
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, "org", "fan"))
	assert.ErrorIs(t, svc.Revoke(ctx, "org", "fan"), ErrNoPromotion)
	ok, err := svc.IsFollowing(ctx, "fan", "org")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.UpdatePromotion(ctx, "org", "fan", sellerGrant("5"))
	assert.ErrorIs(t, err, ErrNoPromotion)
}

func TestCommissionRateBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("rates outside 0..100 are rejected", prop.ForAll(
		func(hundredths int64) bool {
			rate := decimal.New(hundredths, -2)
			err := validRate(rate)
			inside := !rate.IsNegative() && rate.LessThanOrEqual(decimal.NewFromInt(100))
			return (err == nil) == inside
		},
		gen.Int64Range(-20000, 20000),
	))

	properties.TestingRun(t)
}
