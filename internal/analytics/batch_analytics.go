package analytics

import (
	"context"
	"errors"
	"fmt"

	"ms-stepping/internal/events"
	"ms-stepping/internal/models"
)

const maxBatchEvents = 50

// GetBatchEventAnalytics aggregates the given events. Every event must belong
// to userID; unknown ids are skipped.
func (s *Service) GetBatchEventAnalytics(ctx context.Context, userID string, eventIDs []string) (*OrganizerAnalytics, error) {
	if len(eventIDs) > maxBatchEvents {
		return nil, fmt.Errorf("at most %d events per batch", maxBatchEvents)
	}

	seen := make(map[string]bool, len(eventIDs))
	var owned []models.Event
	for _, id := range eventIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		event, err := s.Events.GetEvent(ctx, id)
		if errors.Is(err, events.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if event.OrganizerID != userID {
			return nil, ErrForbidden
		}
		owned = append(owned, *event)
	}
	return s.summarize(ctx, userID, owned)
}
