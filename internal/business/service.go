// Package business runs the community business directory.
package business

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"ms-stepping/internal/config"
	"ms-stepping/internal/kafka"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/utils"
)

var (
	ErrNotFound   = errors.New("business not found")
	ErrForbidden  = errors.New("not allowed to modify this business")
	ErrValidation = errors.New("invalid business")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Store interface {
	Insert(ctx context.Context, b *models.CommunityBusiness) error
	Get(ctx context.Context, id string) (*models.CommunityBusiness, error)
	List(ctx context.Context, f models.BusinessFilter) ([]models.CommunityBusiness, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.CommunityBusiness, error)
	Update(ctx context.Context, b *models.CommunityBusiness) error
	SetStatus(ctx context.Context, id string, status models.BusinessStatus, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type Service struct {
	Store    Store
	Producer kafka.Publisher
	Topics   config.TopicConfig
	Logger   *logger.Logger
}

// BusinessInput is the owner-supplied part of a listing.
type BusinessInput struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	Website      string `json:"website"`
	Address      string `json:"address"`
	City         string `json:"city"`
	State        string `json:"state"`
	ImageURL     string `json:"image_url"`
}

// BusinessUpdate carries the fields an owner changes. Status is decoded only
// so an owner's attempt to set it can be refused.
type BusinessUpdate struct {
	Name         *string                `json:"name"`
	Description  *string                `json:"description"`
	Category     *string                `json:"category"`
	ContactEmail *string                `json:"contact_email"`
	ContactPhone *string                `json:"contact_phone"`
	Website      *string                `json:"website"`
	Address      *string                `json:"address"`
	City         *string                `json:"city"`
	State        *string                `json:"state"`
	ImageURL     *string                `json:"image_url"`
	Status       *models.BusinessStatus `json:"status"`
}

// SubmittedEvent is published when a listing awaits review.
type SubmittedEvent struct {
	BusinessID string    `json:"business_id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Timestamp  time.Time `json:"timestamp"`
}

func validate(b *models.CommunityBusiness) error {
	var missing []string
	if strings.TrimSpace(b.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(b.Category) == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(b.ContactEmail) == "" {
		missing = append(missing, "contact_email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrValidation, strings.Join(missing, ", "))
	}
	if _, err := mail.ParseAddress(b.ContactEmail); err != nil {
		return fmt.Errorf("%w: contact_email %q is not a valid address", ErrValidation, b.ContactEmail)
	}
	return nil
}

// Create stores a new listing owned by ownerID. Listings start pending.
func (s *Service) Create(ctx context.Context, ownerID string, in BusinessInput) (*models.CommunityBusiness, error) {
	now := time.Now().UTC()
	b := &models.CommunityBusiness{
		ID:           utils.GenerateID(),
		OwnerID:      ownerID,
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		Category:     strings.TrimSpace(in.Category),
		ContactEmail: strings.TrimSpace(in.ContactEmail),
		ContactPhone: in.ContactPhone,
		Website:      in.Website,
		Address:      in.Address,
		City:         in.City,
		State:        in.State,
		ImageURL:     in.ImageURL,
		Status:       models.BusinessStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validate(b); err != nil {
		return nil, err
	}
	if err := s.Store.Insert(ctx, b); err != nil {
		s.Logger.Error("BUSINESS", fmt.Sprintf("Failed to create business for %s: %v", ownerID, err))
		return nil, err
	}
	s.Logger.Info("BUSINESS", fmt.Sprintf("Business %s (%s) submitted by %s", b.ID, b.Name, ownerID))

	if err := kafka.PublishJSON(s.Producer, s.Topics.BusinessCreated, b.ID, SubmittedEvent{
		BusinessID: b.ID,
		OwnerID:    ownerID,
		Name:       b.Name,
		Category:   b.Category,
		Timestamp:  now,
	}); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish business.submitted for %s: %v", b.ID, err))
	}
	return b, nil
}

// Get returns a listing. Listings that are not approved are visible only to
// their owner and to admins.
func (s *Service) Get(ctx context.Context, viewer models.Principal, id string) (*models.CommunityBusiness, error) {
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BusinessStatusApproved && b.OwnerID != viewer.UserID && !viewer.IsAdmin() {
		return nil, ErrNotFound
	}
	return b, nil
}

// List searches the directory. Only admins may list statuses other than
// approved.
func (s *Service) List(ctx context.Context, viewer models.Principal, f models.BusinessFilter) ([]models.CommunityBusiness, error) {
	if !viewer.IsAdmin() {
		f.Status = models.BusinessStatusApproved
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.Limit <= 0 || f.Limit > maxPageSize {
		f.Limit = defaultPageSize
	}
	return s.Store.List(ctx, f)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]models.CommunityBusiness, error) {
	return s.Store.ListByOwner(ctx, ownerID)
}

func (s *Service) owned(ctx context.Context, userID, id string) (*models.CommunityBusiness, error) {
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != userID {
		return nil, ErrForbidden
	}
	return b, nil
}

// Update applies an owner's edits. Owners cannot change the review status.
func (s *Service) Update(ctx context.Context, ownerID, id string, in BusinessUpdate) (*models.CommunityBusiness, error) {
	b, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if in.Status != nil && *in.Status != b.Status {
		s.Logger.LogSecurity("BUSINESS_STATUS", fmt.Sprintf("Owner %s tried to set business %s to %s", ownerID, id, *in.Status))
		return nil, fmt.Errorf("%w: status is set by an administrator", ErrForbidden)
	}

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&b.Name, in.Name)
	set(&b.Description, in.Description)
	set(&b.Category, in.Category)
	set(&b.ContactEmail, in.ContactEmail)
	set(&b.ContactPhone, in.ContactPhone)
	set(&b.Website, in.Website)
	set(&b.Address, in.Address)
	set(&b.City, in.City)
	set(&b.State, in.State)
	set(&b.ImageURL, in.ImageURL)
	if err := validate(b); err != nil {
		return nil, err
	}

	b.UpdatedAt = time.Now().UTC()
	if err := s.Store.Update(ctx, b); err != nil {
		return nil, err
	}
	s.Logger.Info("BUSINESS", fmt.Sprintf("Business %s updated by owner", id))
	return b, nil
}

// Delete removes a listing. Owners delete their own; admins delete any.
func (s *Service) Delete(ctx context.Context, viewer models.Principal, id string) error {
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.OwnerID != viewer.UserID && !viewer.IsAdmin() {
		return ErrForbidden
	}
	if err := s.Store.Delete(ctx, id); err != nil {
		return err
	}
	s.Logger.Info("BUSINESS", fmt.Sprintf("Business %s deleted by %s", id, viewer.UserID))
	return nil
}

// SetStatus records an admin review decision.
func (s *Service) SetStatus(ctx context.Context, admin models.Principal, id string, status models.BusinessStatus) (*models.CommunityBusiness, error) {
	if !admin.IsAdmin() {
		return nil, ErrForbidden
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	now := time.Now().UTC()
	if err := s.Store.SetStatus(ctx, id, status, now); err != nil {
		return nil, err
	}
	s.Logger.Info("BUSINESS", fmt.Sprintf("Business %s set to %s by %s", id, status, admin.UserID))
	return s.Store.Get(ctx, id)
}
