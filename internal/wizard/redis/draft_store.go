package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/wizard"

	"github.com/go-redis/redis/v8"
)

const draftKeyPrefix = "event_draft:"

var ErrDraftNotFound = errors.New("draft not found or expired")

// Draft is one organizer's in-progress event.
type Draft struct {
	ID          string           `json:"id"`
	OrganizerID string           `json:"organizer_id"`
	EventType   models.EventType `json:"event_type"`
	Form        wizard.FormState `json:"form"`
	Navigation  wizard.State     `json:"navigation"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type DraftStore struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewDraftStore(client *redis.Client, ttl time.Duration, log *logger.Logger) *DraftStore {
	return &DraftStore{Client: client, TTL: ttl, Logger: log}
}

func draftKey(id string) string {
	return draftKeyPrefix + id
}

// Save writes the draft and restarts its TTL.
func (s *DraftStore) Save(ctx context.Context, d *Draft) error {
	d.UpdatedAt = time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = d.UpdatedAt
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.Client.Set(ctx, draftKey(d.ID), payload, s.TTL).Err(); err != nil {
		s.Logger.Error("REDIS", fmt.Sprintf("Failed to save draft %s: %v", d.ID, err))
		return err
	}
	return nil
}

func (s *DraftStore) Get(ctx context.Context, id string) (*Draft, error) {
	raw, err := s.Client.Get(ctx, draftKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", id, err)
	}
	return &d, nil
}

func (s *DraftStore) Delete(ctx context.Context, id string) error {
	return s.Client.Del(ctx, draftKey(id)).Err()
}

// TTLRemaining reports how long the draft has left.
func (s *DraftStore) TTLRemaining(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.Client.TTL(ctx, draftKey(id)).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, ErrDraftNotFound
	}
	return ttl, nil
}
