package redis

import (
	"context"
	"testing"
	"time"

	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/wizard"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDraftStore(t *testing.T) (*DraftStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewDraftStore(client, 2*time.Hour, logger.NewConsoleLogger()), mr
}

func TestSaveAndGetDraft(t *testing.T) {
	store, mr := setupDraftStore(t)
	ctx := context.Background()

	nav := wizard.NewNavigator(models.EventTypePremium, 0)
	d := &Draft{
		ID:          "d1",
		OrganizerID: "org-1",
		EventType:   models.EventTypePremium,
		Form:        wizard.FormState{Title: "Gala", Categories: []string{"gala"}},
		Navigation:  nav.State(),
	}
	require.NoError(t, store.Save(ctx, d))
	assert.True(t, mr.Exists("event_draft:d1"))

	got, err := store.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Gala", got.Form.Title)
	assert.Equal(t, models.EventTypePremium, got.Navigation.EventType)
	assert.False(t, got.CreatedAt.IsZero())

	ttl, err := store.TTLRemaining(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, ttl)
}

func TestDraftExpires(t *testing.T) {
	store, mr := setupDraftStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Draft{ID: "d2", OrganizerID: "org-1", EventType: models.EventTypeSimple}))
	mr.FastForward(3 * time.Hour)

	_, err := store.Get(ctx, "d2")
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestDeleteDraft(t *testing.T) {
	store, _ := setupDraftStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Draft{ID: "d3", OrganizerID: "org-1", EventType: models.EventTypeSimple}))
	require.NoError(t, store.Delete(ctx, "d3"))
	_, err := store.Get(ctx, "d3")
	assert.ErrorIs(t, err, ErrDraftNotFound)
}
