// Package events manages published events and their ticket types.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-stepping/internal/config"
	"ms-stepping/internal/kafka"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/utils"
)

var (
	ErrNotFound   = errors.New("event not found")
	ErrForbidden  = errors.New("only the organizer can change this event")
	ErrValidation = errors.New("invalid event")
)

type Store interface {
	InsertEvent(ctx context.Context, event *models.Event, ticketTypes []*models.TicketType) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	ListByOrganizer(ctx context.Context, organizerID string) ([]models.Event, error)
	ListPublished(ctx context.Context, from time.Time, limit, offset int) ([]models.Event, error)
	UpdateStatus(ctx context.Context, id string, status models.EventStatus) error
	GetTicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error)
}

type EventService struct {
	Store    Store
	Producer kafka.Publisher
	Topics   config.TopicConfig
	Logger   *logger.Logger
}

// CreatedEvent is published when an event goes live.
type CreatedEvent struct {
	EventID     string           `json:"event_id"`
	OrganizerID string           `json:"organizer_id"`
	Title       string           `json:"title"`
	EventType   models.EventType `json:"event_type"`
	StartsAt    time.Time        `json:"starts_at"`
	Timestamp   time.Time        `json:"timestamp"`
}

// CreateEvent assigns ids and timestamps and stores the event with its ticket
// types. Events are created published unless a status is given.
func (s *EventService) CreateEvent(ctx context.Context, event *models.Event, ticketTypes []*models.TicketType) error {
	if strings.TrimSpace(event.Title) == "" || event.OrganizerID == "" {
		return fmt.Errorf("%w: title and organizer are required", ErrValidation)
	}
	if !event.EventType.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, event.EventType)
	}
	if event.EventType == models.EventTypeSimple && len(ticketTypes) > 0 {
		return fmt.Errorf("%w: simple events do not sell tickets", ErrValidation)
	}

	now := time.Now().UTC()
	if event.ID == "" {
		event.ID = utils.GenerateID()
	}
	if event.Status == "" {
		event.Status = models.EventStatusPublished
	}
	event.CreatedAt, event.UpdatedAt = now, now
	for _, tt := range ticketTypes {
		if tt.ID == "" {
			tt.ID = utils.GenerateID()
		}
		tt.EventID = event.ID
		tt.CreatedAt = now
	}

	if err := s.Store.InsertEvent(ctx, event, ticketTypes); err != nil {
		s.Logger.Error("EVENTS", fmt.Sprintf("Failed to create event %s: %v", event.ID, err))
		return err
	}
	s.Logger.Info("EVENTS", fmt.Sprintf("Created %s event %s with %d ticket types", event.EventType, event.ID, len(ticketTypes)))

	if err := kafka.PublishJSON(s.Producer, s.Topics.EventCreated, event.ID, CreatedEvent{
		EventID:     event.ID,
		OrganizerID: event.OrganizerID,
		Title:       event.Title,
		EventType:   event.EventType,
		StartsAt:    event.StartsAt,
		Timestamp:   now,
	}); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish event.created for %s: %v", event.ID, err))
	}
	return nil
}

func (s *EventService) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return s.Store.GetEvent(ctx, id)
}

func (s *EventService) ListEventsByOrganizer(ctx context.Context, organizerID string) ([]models.Event, error) {
	return s.Store.ListByOrganizer(ctx, organizerID)
}

func (s *EventService) ListPublishedEvents(ctx context.Context, limit, offset int) ([]models.Event, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.Store.ListPublished(ctx, time.Now().UTC().Add(-24*time.Hour), limit, offset)
}

// UpdateStatus changes an event's status. Only its organizer may do so.
func (s *EventService) UpdateStatus(ctx context.Context, userID, eventID string, status models.EventStatus) error {
	switch status {
	case models.EventStatusDraft, models.EventStatusPublished, models.EventStatusCancelled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	event, err := s.Store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.OrganizerID != userID {
		return ErrForbidden
	}
	if err := s.Store.UpdateStatus(ctx, eventID, status); err != nil {
		return err
	}
	s.Logger.Info("EVENTS", fmt.Sprintf("Event %s status %s -> %s", eventID, event.Status, status))
	return nil
}

func (s *EventService) GetTicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error) {
	return s.Store.GetTicketTypes(ctx, eventID)
}

// IsOrganizer reports whether userID owns eventID.
func (s *EventService) IsOrganizer(ctx context.Context, userID, eventID string) (bool, error) {
	event, err := s.Store.GetEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	return event.OrganizerID == userID, nil
}
