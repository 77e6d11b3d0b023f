// Package follower tracks who follows an organizer and which followers the
// organizer has promoted to sell tickets, work events or co-organize.
package follower

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-stepping/internal/config"
	"ms-stepping/internal/kafka"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/utils"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFollowing = errors.New("user does not follow this organizer")
	ErrNoPromotion  = errors.New("follower has no promotion")
	ErrSelfFollow   = errors.New("cannot follow yourself")
	ErrValidation   = errors.New("invalid promotion")
)

var maxCommissionRate = decimal.NewFromInt(100)

type Store interface {
	GetFollow(ctx context.Context, followerID, organizerID string) (*models.UserFollow, error)
	InsertFollow(ctx context.Context, f *models.UserFollow) error
	DeleteFollow(ctx context.Context, followerID, organizerID string) (bool, error)
	ListFollowers(ctx context.Context, organizerID string) ([]models.UserFollow, error)
	ListFollowing(ctx context.Context, followerID string) ([]models.UserFollow, error)
	CountFollowers(ctx context.Context, organizerID string) (int, error)
	GetPromotion(ctx context.Context, organizerID, followerID string) (*models.FollowerPromotion, error)
	InsertPromotion(ctx context.Context, p *models.FollowerPromotion) error
	UpdatePromotion(ctx context.Context, p *models.FollowerPromotion) error
	DeletePromotion(ctx context.Context, organizerID, followerID string) (bool, error)
	ListPromotions(ctx context.Context, organizerID string) ([]models.FollowerPromotion, error)
}

type Service struct {
	Store    Store
	Producer kafka.Publisher
	Topics   config.TopicConfig
	Logger   *logger.Logger
}

// PromotedEvent is published whenever a follower's grants change.
type PromotedEvent struct {
	OrganizerID    string          `json:"organizer_id"`
	FollowerID     string          `json:"follower_id"`
	CanSellTickets bool            `json:"can_sell_tickets"`
	CanWorkEvents  bool            `json:"can_work_events"`
	IsCoOrganizer  bool            `json:"is_co_organizer"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Revoked        bool            `json:"revoked,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Follow records that followerID follows organizerID. Following twice
// returns the existing follow.
func (s *Service) Follow(ctx context.Context, followerID, organizerID string) (*models.UserFollow, error) {
	if organizerID == "" {
		return nil, fmt.Errorf("%w: organizer_id is required", ErrValidation)
	}
	if followerID == organizerID {
		return nil, ErrSelfFollow
	}
	if existing, err := s.Store.GetFollow(ctx, followerID, organizerID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFollowing) {
		return nil, err
	}

	f := &models.UserFollow{
		ID:          utils.GenerateID(),
		FollowerID:  followerID,
		OrganizerID: organizerID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Store.InsertFollow(ctx, f); err != nil {
		return nil, err
	}
	s.Logger.Info("FOLLOWER", fmt.Sprintf("%s now follows %s", followerID, organizerID))
	return f, nil
}

// Unfollow removes the follow together with any promotion it carried.
func (s *Service) Unfollow(ctx context.Context, followerID, organizerID string) error {
	removed, err := s.Store.DeleteFollow(ctx, followerID, organizerID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFollowing
	}
	s.Logger.Info("FOLLOWER", fmt.Sprintf("%s unfollowed %s", followerID, organizerID))
	return nil
}

func (s *Service) IsFollowing(ctx context.Context, followerID, organizerID string) (bool, error) {
	_, err := s.Store.GetFollow(ctx, followerID, organizerID)
	if errors.Is(err, ErrNotFollowing) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) ListFollowers(ctx context.Context, organizerID string) ([]models.UserFollow, error) {
	return s.Store.ListFollowers(ctx, organizerID)
}

func (s *Service) ListFollowing(ctx context.Context, followerID string) ([]models.UserFollow, error) {
	return s.Store.ListFollowing(ctx, followerID)
}

func (s *Service) FollowerCount(ctx context.Context, organizerID string) (int, error) {
	return s.Store.CountFollowers(ctx, organizerID)
}

func validRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxCommissionRate) {
		return fmt.Errorf("%w: commission_rate must be between 0 and 100, got %s", ErrValidation, rate)
	}
	return nil
}

// Promote grants permissions to one of the organizer's followers.
// Promoting an already promoted follower replaces the grants.
func (s *Service) Promote(ctx context.Context, organizerID, followerID string, req models.PromotionRequest) (*models.FollowerPromotion, error) {
	if err := validRate(req.CommissionRate); err != nil {
		return nil, err
	}
	if _, err := s.Store.GetFollow(ctx, followerID, organizerID); err != nil {
		return nil, err
	}

	existing, err := s.Store.GetPromotion(ctx, organizerID, followerID)
	switch {
	case err == nil:
		return s.apply(ctx, existing, req)
	case !errors.Is(err, ErrNoPromotion):
		return nil, err
	}

	now := time.Now().UTC()
	p := &models.FollowerPromotion{
		ID:             utils.GenerateID(),
		OrganizerID:    organizerID,
		FollowerID:     followerID,
		CanSellTickets: req.CanSellTickets,
		CanWorkEvents:  req.CanWorkEvents,
		IsCoOrganizer:  req.IsCoOrganizer,
		CommissionRate: req.CommissionRate.Round(2),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.InsertPromotion(ctx, p); err != nil {
		return nil, err
	}
	s.Logger.Info("FOLLOWER", fmt.Sprintf("%s promoted %s (sell=%t work=%t co=%t rate=%s%%)",
		organizerID, followerID, p.CanSellTickets, p.CanWorkEvents, p.IsCoOrganizer, p.CommissionRate))
	s.publish(p, false)
	return p, nil
}

// UpdatePromotion changes the grants of an existing promotion.
func (s *Service) UpdatePromotion(ctx context.Context, organizerID, followerID string, req models.PromotionRequest) (*models.FollowerPromotion, error) {
	if err := validRate(req.CommissionRate); err != nil {
		return nil, err
	}
	p, err := s.Store.GetPromotion(ctx, organizerID, followerID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, p, req)
}

func (s *Service) apply(ctx context.Context, p *models.FollowerPromotion, req models.PromotionRequest) (*models.FollowerPromotion, error) {
	p.CanSellTickets = req.CanSellTickets
	p.CanWorkEvents = req.CanWorkEvents
	p.IsCoOrganizer = req.IsCoOrganizer
	p.CommissionRate = req.CommissionRate.Round(2)
	p.UpdatedAt = time.Now().UTC()
	if err := s.Store.UpdatePromotion(ctx, p); err != nil {
		return nil, err
	}
	s.Logger.Info("FOLLOWER", fmt.Sprintf("%s updated promotion of %s", p.OrganizerID, p.FollowerID))
	s.publish(p, false)
	return p, nil
}

// Revoke removes a follower's promotion. The follow itself stays.
func (s *Service) Revoke(ctx context.Context, organizerID, followerID string) error {
	removed, err := s.Store.DeletePromotion(ctx, organizerID, followerID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNoPromotion
	}
	s.Logger.Info("FOLLOWER", fmt.Sprintf("%s revoked promotion of %s", organizerID, followerID))
	s.publish(&models.FollowerPromotion{OrganizerID: organizerID, FollowerID: followerID}, true)
	return nil
}

func (s *Service) ListPromotions(ctx context.Context, organizerID string) ([]models.FollowerPromotion, error) {
	return s.Store.ListPromotions(ctx, organizerID)
}

func (s *Service) GetPromotion(ctx context.Context, organizerID, followerID string) (*models.FollowerPromotion, error) {
	return s.Store.GetPromotion(ctx, organizerID, followerID)
}

// HasPermission reports whether userID holds perm for organizerID. The
// organizer holds every permission on their own account.
func (s *Service) HasPermission(ctx context.Context, organizerID, userID string, perm models.Permission) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if userID == organizerID {
		return true, nil
	}
	p, err := s.Store.GetPromotion(ctx, organizerID, userID)
	if errors.Is(err, ErrNoPromotion) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Grants(perm), nil
}

func (s *Service) publish(p *models.FollowerPromotion, revoked bool) {
	if err := kafka.PublishJSON(s.Producer, s.Topics.FollowerPromoted, p.OrganizerID+":"+p.FollowerID, PromotedEvent{
		OrganizerID:    p.OrganizerID,
		FollowerID:     p.FollowerID,
		CanSellTickets: p.CanSellTickets,
		CanWorkEvents:  p.CanWorkEvents,
		IsCoOrganizer:  p.IsCoOrganizer,
		CommissionRate: p.CommissionRate,
		Revoked:        revoked,
		Timestamp:      time.Now().UTC(),
	}); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish follower.promoted for %s: %v", p.FollowerID, err))
	}
}
