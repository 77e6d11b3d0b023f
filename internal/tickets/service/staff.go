package tickets

import (
	"context"

	"ms-stepping/internal/models"
)

type EventLookup interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

type PermissionChecker interface {
	HasPermission(ctx context.Context, organizerID, userID string, perm models.Permission) (bool, error)
}

type TeamRoles interface {
	ActiveRole(ctx context.Context, organizerID, userID string) (models.TeamRole, error)
}

// StaffPolicy lets an event's organizer, its active team members and
// followers promoted to work events scan tickets.
type StaffPolicy struct {
	Events    EventLookup
	Followers PermissionChecker
	Team      TeamRoles
}

func (p *StaffPolicy) CanScan(ctx context.Context, userID, eventID string) (bool, error) {
	event, err := p.Events.GetEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	if event.OrganizerID == userID {
		return true, nil
	}
	if p.Team != nil {
		role, err := p.Team.ActiveRole(ctx, event.OrganizerID, userID)
		if err != nil {
			return false, err
		}
		if role != "" {
			return true, nil
		}
	}
	if p.Followers != nil {
		return p.Followers.HasPermission(ctx, event.OrganizerID, userID, models.PermissionWorkEvents)
	}
	return false, nil
}
