// Package referral issues referral codes to promoted followers and credits
// them a commission on every completed order placed with their code.
package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-stepping/internal/follower"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/money"
	"ms-stepping/internal/utils"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound    = errors.New("referral not found")
	ErrForbidden   = errors.New("not allowed")
	ErrInactive    = errors.New("referral code is inactive")
	ErrValidation  = errors.New("invalid referral request")
	ErrAlreadyPaid = errors.New("earning already paid")
	ErrVoided      = errors.New("earning was voided")
)

const (
	codeLength   = 8
	codeAttempts = 5
)

type Store interface {
	InsertCode(ctx context.Context, c *models.ReferralCode) error
	GetCode(ctx context.Context, id string) (*models.ReferralCode, error)
	GetCodeByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ListCodesByUser(ctx context.Context, userID string) ([]models.ReferralCode, error)
	ListCodesByOrganizer(ctx context.Context, organizerID string) ([]models.ReferralCode, error)
	SetActive(ctx context.Context, id string, active bool) error
	RecordEarning(ctx context.Context, e *models.CommissionEarning) (*models.CommissionEarning, bool, error)
	GetEarning(ctx context.Context, id string) (*models.CommissionEarning, error)
	ListEarningsByUser(ctx context.Context, userID string) ([]models.CommissionEarning, error)
	ListEarningsByOrganizer(ctx context.Context, organizerID string, status models.EarningStatus) ([]models.CommissionEarning, error)
	MarkPaid(ctx context.Context, id string, at time.Time) error
	VoidEarningForOrder(ctx context.Context, orderID string) (*models.CommissionEarning, error)
}

type Permissions interface {
	HasPermission(ctx context.Context, organizerID, userID string, perm models.Permission) (bool, error)
	GetPromotion(ctx context.Context, organizerID, followerID string) (*models.FollowerPromotion, error)
}

type EventLookup interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

type Service struct {
	Store       Store
	Permissions Permissions
	Events      EventLookup
	Logger      *logger.Logger
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateCode issues a new code for userID to sell organizerID's tickets.
// An empty eventID makes the code valid for all of the organizer's events.
func (s *Service) CreateCode(ctx context.Context, organizerID, userID, eventID string) (*models.ReferralCode, error) {
	if organizerID == "" {
		return nil, fmt.Errorf("%w: organizer_id is required", ErrValidation)
	}
	ok, err := s.Permissions.HasPermission(ctx, organizerID, userID, models.PermissionSellTickets)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.Logger.LogSecurity("REFERRAL_DENIED", fmt.Sprintf("%s may not sell for %s", userID, organizerID))
		return nil, ErrForbidden
	}
	if eventID != "" && s.Events != nil {
		event, err := s.Events.GetEvent(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("%w: event %s: %v", ErrValidation, eventID, err)
		}
		if event.OrganizerID != organizerID {
			return nil, fmt.Errorf("%w: event %s belongs to another organizer", ErrValidation, eventID)
		}
	}

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}
	c := &models.ReferralCode{
		ID:          utils.GenerateID(),
		Code:        code,
		OrganizerID: organizerID,
		UserID:      userID,
		EventID:     eventID,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Store.InsertCode(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save referral code: %w", err)
	}
	s.Logger.Info("REFERRAL", fmt.Sprintf("Issued code %s to %s for organizer %s", c.Code, userID, organizerID))
	return c, nil
}

func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := utils.GenerateCode(codeLength)
		if err != nil {
			return "", err
		}
		taken, err := s.Store.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free referral code after %d attempts", codeAttempts)
}

// Resolve looks up an active code, case-insensitively.
func (s *Service) Resolve(ctx context.Context, code string) (*models.ReferralCode, error) {
	c, err := s.Store.GetCodeByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, ErrInactive
	}
	return c, nil
}

func (s *Service) ListCodes(ctx context.Context, userID string) ([]models.ReferralCode, error) {
	return s.Store.ListCodesByUser(ctx, userID)
}

func (s *Service) ListOrganizerCodes(ctx context.Context, organizerID string) ([]models.ReferralCode, error) {
	return s.Store.ListCodesByOrganizer(ctx, organizerID)
}

// Deactivate disables a code. The code's holder and its organizer may do so.
func (s *Service) Deactivate(ctx context.Context, userID, codeID string) error {
	c, err := s.Store.GetCode(ctx, codeID)
	if err != nil {
		return err
	}
	if c.UserID != userID && c.OrganizerID != userID {
		return ErrForbidden
	}
	if !c.IsActive {
		return nil
	}
	if err := s.Store.SetActive(ctx, c.ID, false); err != nil {
		return err
	}
	s.Logger.Info("REFERRAL", fmt.Sprintf("Code %s deactivated by %s", c.Code, userID))
	return nil
}

// RecordCommission credits the holder of the order's referral code. The rate
// is read from the holder's promotion at completion time. Orders whose code
// holder has no sell grant, or a zero rate, earn nothing and return nil.
// Recording the same order twice returns the first earning.
func (s *Service) RecordCommission(ctx context.Context, order *models.Order) (*models.CommissionEarning, error) {
	if order.ReferralCode == "" {
		return nil, nil
	}
	code, err := s.Store.GetCodeByCode(ctx, NormalizeCode(order.ReferralCode))
	if err != nil {
		return nil, err
	}
	if code.UserID == code.OrganizerID {
		return nil, nil
	}

	promo, err := s.Permissions.GetPromotion(ctx, code.OrganizerID, code.UserID)
	if errors.Is(err, follower.ErrNoPromotion) {
		s.Logger.Warn("REFERRAL", fmt.Sprintf("Order %s used code %s but %s is no longer promoted", order.ID, code.Code, code.UserID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !promo.CanSellTickets || !promo.CommissionRate.IsPositive() {
		return nil, nil
	}

	e := &models.CommissionEarning{
		ID:             utils.GenerateID(),
		ReferralCodeID: code.ID,
		UserID:         code.UserID,
		OrganizerID:    code.OrganizerID,
		OrderID:        order.ID,
		OrderTotal:     order.Total,
		Rate:           promo.CommissionRate,
		Amount:         money.Percent(order.Total, promo.CommissionRate),
		Status:         models.EarningStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	saved, created, err := s.Store.RecordEarning(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("failed to record commission: %w", err)
	}
	if created {
		s.Logger.Info("REFERRAL", fmt.Sprintf("Credited %s %s on order %s (code %s, rate %s%%)",
			saved.UserID, saved.Amount.StringFixed(2), order.ID, code.Code, saved.Rate))
	}
	return saved, nil
}

func (s *Service) ListEarnings(ctx context.Context, userID string) ([]models.CommissionEarning, error) {
	return s.Store.ListEarningsByUser(ctx, userID)
}

func (s *Service) ListOrganizerEarnings(ctx context.Context, organizerID string, status models.EarningStatus) ([]models.CommissionEarning, error) {
	return s.Store.ListEarningsByOrganizer(ctx, organizerID, status)
}

func (s *Service) Summary(ctx context.Context, userID string) (*models.EarningsSummary, error) {
	list, err := s.Store.ListEarningsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum := &models.EarningsSummary{UserID: userID, Pending: decimal.Zero, Paid: decimal.Zero, Total: decimal.Zero}
	for _, e := range list {
		if e.Status == models.EarningStatusVoided {
			continue
		}
		sum.Count++
		switch e.Status {
		case models.EarningStatusPaid:
			sum.Paid = sum.Paid.Add(e.Amount)
		default:
			sum.Pending = sum.Pending.Add(e.Amount)
		}
	}
	sum.Total = sum.Paid.Add(sum.Pending)
	return sum, nil
}

// MarkPaid records that the organizer paid out an earning.
func (s *Service) MarkPaid(ctx context.Context, organizerID, earningID string) (*models.CommissionEarning, error) {
	e, err := s.Store.GetEarning(ctx, earningID)
	if err != nil {
		return nil, err
	}
	if e.OrganizerID != organizerID {
		return nil, ErrForbidden
	}
	if e.Status == models.EarningStatusVoided {
		return nil, ErrVoided
	}
	now := time.Now().UTC()
	if err := s.Store.MarkPaid(ctx, e.ID, now); err != nil {
		return nil, err
	}
	e.Status = models.EarningStatusPaid
	e.PaidAt = now
	s.Logger.Info("REFERRAL", fmt.Sprintf("Earning %s paid to %s by %s", e.ID, e.UserID, organizerID))
	return e, nil
}

// VoidCommission cancels the pending earning of a refunded order so it can no
// longer be paid out. Earnings already paid stay paid and are logged for a
// manual clawback.
func (s *Service) VoidCommission(ctx context.Context, orderID string) error {
	e, err := s.Store.VoidEarningForOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to void commission for order %s: %w", orderID, err)
	}
	switch {
	case e == nil:
	case e.Status == models.EarningStatusPaid:
		s.Logger.Warn("REFERRAL", fmt.Sprintf("Order %s refunded after earning %s was paid to %s", orderID, e.ID, e.UserID))
	default:
		s.Logger.Info("REFERRAL", fmt.Sprintf("Earning %s voided after refund of order %s", e.ID, orderID))
	}
	return nil
}
