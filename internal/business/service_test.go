package business

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"ms-stepping/internal/config"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"

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
	return &Service{
		Store:    db,
		Producer: pub,
		Topics:   config.Load().Kafka.Topics,
		Logger:   logger.NewConsoleLogger(),
	}, pub
}

var (
	owner = models.Principal{UserID: "owner-1"}
	admin = models.Principal{UserID: "admin-1", Role: "admin"}
	guest = models.Principal{}
)

func input(name, category, city string) BusinessInput {
	return BusinessInput{
		Name:         name,
		Description:  "Dance shoes and apparel",
		Category:     category,
		ContactEmail: "hello@example.com",
		City:         city,
	}
}

func TestCreateDefaultsToPendingAndPublishes(t *testing.T) {
	svc, pub := setupService(t)

	b, err := svc.Create(context.Background(), owner.UserID, input("Step Shop", "retail", "Chicago"))
	require.NoError(t, err)
	assert.Equal(t, models.BusinessStatusPending, b.Status)
	assert.Equal(t, owner.UserID, b.OwnerID)

	pub.AssertCalled(t, "Publish", "stepping.business.submitted", b.ID, mock.MatchedBy(func(raw []byte) bool {
		var evt SubmittedEvent
		return json.Unmarshal(raw, &evt) == nil && evt.Name == "Step Shop"
	}))
}

func TestCreateValidation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, owner.UserID, BusinessInput{ContactEmail: "x@example.com"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "name, category")

	bad := input("Step Shop", "retail", "")
	bad.ContactEmail = "not-an-email"
	_, err = svc.Create(ctx, owner.UserID, bad)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPublicListingShowsApprovedOnly(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	shop, err := svc.Create(ctx, owner.UserID, input("Step Shop", "retail", "Chicago"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, owner.UserID, input("Groove Cafe", "food", "Chicago"))
	require.NoError(t, err)
	studio, err := svc.Create(ctx, "owner-2", input("Step Studio", "instruction", "Detroit"))
	require.NoError(t, err)

	for _, id := range []string{shop.ID, studio.ID} {
		_, err := svc.SetStatus(ctx, admin, id, models.BusinessStatusApproved)
		require.NoError(t, err)
	}

	list, err := svc.List(ctx, guest, models.BusinessFilter{Status: models.BusinessStatusPending})
	require.NoError(t, err)
	assert.Len(t, list, 2, "status filter ignored for the public")

	list, err = svc.List(ctx, guest, models.BusinessFilter{Search: "step", City: "chicago"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, shop.ID, list[0].ID)

	list, err = svc.List(ctx, admin, models.BusinessFilter{Status: models.BusinessStatusPending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Groove Cafe", list[0].Name)

	mine, err := svc.ListByOwner(ctx, owner.UserID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestGetHidesUnapprovedFromOthers(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	b, err := svc.Create(ctx, owner.UserID, input("Step Shop", "retail", "Chicago"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, guest, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, owner, b.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, admin, b.ID)
	assert.NoError(t, err)
}

func TestOwnerCannotChangeStatus(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	b, err := svc.Create(ctx, owner.UserID, input("Step Shop", "retail", "Chicago"))
	require.NoError(t, err)

	approved := models.BusinessStatusApproved
	_, err = svc.Update(ctx, owner.UserID, b.ID, BusinessUpdate{Status: &approved})
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := svc.Get(ctx, admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BusinessStatusPending, got.Status)

	_, err = svc.SetStatus(ctx, owner, b.ID, models.BusinessStatusApproved)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateAndDelete(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	b, err := svc.Create(ctx, owner.UserID, input("Step Shop", "retail", "Chicago"))
	require.NoError(t, err)

	name := "Step Shop & Co"
	pending := models.BusinessStatusPending
	updated, err := svc.Update(ctx, owner.UserID, b.ID, BusinessUpdate{Name: &name, Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)

	_, err = svc.Update(ctx, "intruder", b.ID, BusinessUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)

	empty := ""
	_, err = svc.Update(ctx, owner.UserID, b.ID, BusinessUpdate{Category: &empty})
	assert.ErrorIs(t, err, ErrValidation)

	assert.ErrorIs(t, svc.Delete(ctx, models.Principal{UserID: "intruder"}, b.ID), ErrForbidden)
	require.NoError(t, svc.Delete(ctx, owner, b.ID))
	_, err = svc.Get(ctx, admin, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
