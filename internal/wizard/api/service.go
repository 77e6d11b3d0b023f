package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/storage"
	"ms-stepping/internal/utils"
	"ms-stepping/internal/wizard"
	draftredis "ms-stepping/internal/wizard/redis"
)

var (
	ErrForbidden  = errors.New("draft belongs to another organizer")
	ErrValidation = errors.New("draft is not valid")
)

type DraftRepository interface {
	Save(ctx context.Context, d *draftredis.Draft) error
	Get(ctx context.Context, id string) (*draftredis.Draft, error)
	Delete(ctx context.Context, id string) error
}

type EventCreator interface {
	CreateEvent(ctx context.Context, event *models.Event, ticketTypes []*models.TicketType) error
}

type FileUploader interface {
	Upload(ctx context.Context, kind storage.Kind, prefix string, r io.Reader) (string, error)
}

// PublishError carries every blocking message from every visible step.
type PublishError struct {
	Errors []string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("draft has %d validation errors: %s", len(e.Errors), strings.Join(e.Errors, "; "))
}

func (e *PublishError) Unwrap() error { return ErrValidation }

type Service struct {
	Drafts      DraftRepository
	Events      EventCreator
	Uploads     FileUploader
	HistorySize int
	Logger      *logger.Logger
}

type StepView struct {
	ID          wizard.StepID `json:"id"`
	Number      int           `json:"number"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
}

// DraftView is what the wizard endpoints return.
type DraftView struct {
	ID                 string                  `json:"id"`
	EventType          models.EventType        `json:"event_type"`
	Form               wizard.FormState        `json:"form"`
	CurrentStep        StepView                `json:"current_step"`
	Steps              []StepView              `json:"steps"`
	Progress           int                     `json:"progress"`
	CanNavigateForward bool                    `json:"can_navigate_forward"`
	Validation         wizard.ValidationResult `json:"validation"`
	History            []wizard.HistoryEntry   `json:"history"`
	Moved              *bool                   `json:"moved,omitempty"`
}

func (s *Service) navigator(d *draftredis.Draft) *wizard.Navigator {
	state := d.Navigation
	state.EventType = d.EventType
	return wizard.Restore(state, s.HistorySize)
}

func (s *Service) view(d *draftredis.Draft, nav *wizard.Navigator) *DraftView {
	steps := nav.Steps()
	v := &DraftView{
		ID:                 d.ID,
		EventType:          d.EventType,
		Form:               d.Form,
		Progress:           nav.Progress(),
		CanNavigateForward: nav.CanNavigateForward(d.Form),
		Validation:         nav.LastValidation(),
		History:            nav.History(),
	}
	for _, st := range steps {
		sv := StepView{ID: st.ID, Number: st.Number, Title: st.Title, Description: st.Description}
		v.Steps = append(v.Steps, sv)
		if st.Number == nav.Current() {
			v.CurrentStep = sv
		}
	}
	return v
}

func (s *Service) CreateDraft(ctx context.Context, organizerID string, eventType models.EventType) (*DraftView, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, eventType)
	}
	nav := wizard.NewNavigator(eventType, s.HistorySize)
	d := &draftredis.Draft{
		ID:          utils.GenerateID(),
		OrganizerID: organizerID,
		EventType:   eventType,
		Navigation:  nav.State(),
	}
	if err := s.Drafts.Save(ctx, d); err != nil {
		return nil, err
	}
	s.Logger.LogWizard(d.ID, fmt.Sprintf("created %s draft for %s", eventType, organizerID))
	return s.view(d, nav), nil
}

func (s *Service) load(ctx context.Context, organizerID, id string) (*draftredis.Draft, error) {
	d, err := s.Drafts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.OrganizerID != organizerID {
		return nil, ErrForbidden
	}
	return d, nil
}

func (s *Service) GetDraft(ctx context.Context, organizerID, id string) (*DraftView, error) {
	d, err := s.load(ctx, organizerID, id)
	if err != nil {
		return nil, err
	}
	return s.view(d, s.navigator(d)), nil
}

// UpdateForm replaces the form snapshot. A new event type changes the visible
// steps and re-clamps the current one.
func (s *Service) UpdateForm(ctx context.Context, organizerID, id string, form wizard.FormState, eventType models.EventType) (*DraftView, error) {
	d, err := s.load(ctx, organizerID, id)
	if err != nil {
		return nil, err
	}
	nav := s.navigator(d)
	if eventType != "" && eventType != d.EventType {
		if !eventType.Valid() {
			return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, eventType)
		}
		d.EventType = eventType
		nav.SetEventType(eventType)
	}
	// Uploaded asset URLs survive a form save that omits them.
	if form.VenueImageURL == "" {
		form.VenueImageURL = d.Form.VenueImageURL
	}
	if form.SeatingChartURL == "" {
		form.SeatingChartURL = d.Form.SeatingChartURL
	}
	d.Form = form
	d.Navigation = nav.State()
	if err := s.Drafts.Save(ctx, d); err != nil {
		return nil, err
	}
	return s.view(d, nav), nil
}

// Navigate moves the draft to step target. A blocked move is not an error;
// the view reports moved=false with the blocking messages.
func (s *Service) Navigate(ctx context.Context, organizerID, id string, target int) (*DraftView, error) {
	d, err := s.load(ctx, organizerID, id)
	if err != nil {
		return nil, err
	}
	nav := s.navigator(d)
	moved, errs := nav.GoToStep(target, d.Form, func(errs []string) {
		s.Logger.LogWizard(d.ID, fmt.Sprintf("forward move to %d blocked: %s", target, strings.Join(errs, "; ")))
	})
	d.Navigation = nav.State()
	if err := s.Drafts.Save(ctx, d); err != nil {
		return nil, err
	}
	v := s.view(d, nav)
	v.Moved = &moved
	if !moved {
		v.Validation.Errors = errs
	}
	return v, nil
}

// UploadAsset stores a venue image or (premium only) a seating chart and
// records its URL on the draft.
func (s *Service) UploadAsset(ctx context.Context, organizerID, id string, kind storage.Kind, r io.Reader) (*DraftView, error) {
	d, err := s.load(ctx, organizerID, id)
	if err != nil {
		return nil, err
	}
	if kind == storage.KindSeatingChart && d.EventType != models.EventTypePremium {
		return nil, fmt.Errorf("%w: seating charts are only used by premium events", ErrValidation)
	}
	url, err := s.Uploads.Upload(ctx, kind, "drafts/"+d.ID, r)
	if err != nil {
		return nil, err
	}
	switch kind {
	case storage.KindVenueImage:
		d.Form.VenueImageURL = url
	case storage.KindSeatingChart:
		d.Form.SeatingChartURL = url
	}
	if err := s.Drafts.Save(ctx, d); err != nil {
		return nil, err
	}
	s.Logger.LogWizard(d.ID, fmt.Sprintf("uploaded %s", kind))
	return s.view(d, s.navigator(d)), nil
}

// Publish validates every visible step, creates the event and its ticket
// types and removes the draft.
func (s *Service) Publish(ctx context.Context, organizerID, id string) (*models.Event, error) {
	d, err := s.load(ctx, organizerID, id)
	if err != nil {
		return nil, err
	}
	nav := s.navigator(d)
	if res := nav.ValidateAll(d.Form); !res.Valid {
		return nil, &PublishError{Errors: res.Errors}
	}

	event, ticketTypes, err := buildEvent(d)
	if err != nil {
		return nil, err
	}
	if err := s.Events.CreateEvent(ctx, event, ticketTypes); err != nil {
		return nil, err
	}
	if err := s.Drafts.Delete(ctx, d.ID); err != nil {
		s.Logger.Warn("WIZARD", fmt.Sprintf("Published event %s but failed to delete draft %s: %v", event.ID, d.ID, err))
	}
	s.Logger.LogWizard(d.ID, fmt.Sprintf("published as event %s", event.ID))
	return event, nil
}

func buildEvent(d *draftredis.Draft) (*models.Event, []*models.TicketType, error) {
	f := d.Form
	startsAt, err := utils.ParseEventTime(f.Date, f.Time)
	if err != nil {
		return nil, nil, &PublishError{Errors: []string{err.Error()}}
	}
	event := &models.Event{
		OrganizerID:      d.OrganizerID,
		Title:            strings.TrimSpace(f.Title),
		Description:      strings.TrimSpace(f.Description),
		OrganizationName: strings.TrimSpace(f.OrganizationName),
		EventType:        d.EventType,
		Categories:       f.Categories,
		StartsAt:         startsAt,
		Address:          strings.TrimSpace(f.Address),
		VenueImageURL:    f.VenueImageURL,
		Status:           models.EventStatusPublished,
	}
	if f.EndTime != "" {
		endsAt, err := utils.ParseEventTime(f.Date, f.EndTime)
		if err != nil {
			return nil, nil, &PublishError{Errors: []string{err.Error()}}
		}
		if !endsAt.After(startsAt) {
			// Ends after midnight.
			endsAt = endsAt.AddDate(0, 0, 1)
		}
		event.EndsAt = endsAt
	}
	if d.EventType == models.EventTypePremium {
		event.SeatingChartURL = f.SeatingChartURL
		event.SeatingSections = f.SeatingSections
	}

	var ticketTypes []*models.TicketType
	if d.EventType != models.EventTypeSimple {
		for _, tt := range f.TicketTypes {
			ticketTypes = append(ticketTypes, &models.TicketType{
				Name:        strings.TrimSpace(tt.Name),
				Description: tt.Description,
				Price:       tt.Price.Round(2),
				Quantity:    tt.Quantity,
			})
		}
	}
	return event, ticketTypes, nil
}
