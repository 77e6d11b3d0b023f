// Package team manages an organizer's staff and the messages the organizer
// broadcasts to them.
package team

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
	ErrNotFound      = errors.New("team member not found")
	ErrForbidden     = errors.New("not allowed")
	ErrValidation    = errors.New("invalid team request")
	ErrAlreadyMember = errors.New("user is already on the team")
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

type Store interface {
	InsertMember(ctx context.Context, m *models.TeamMember) error
	GetMember(ctx context.Context, id string) (*models.TeamMember, error)
	FindMember(ctx context.Context, organizerID, userID string) (*models.TeamMember, error)
	ListMembers(ctx context.Context, organizerID string) ([]models.TeamMember, error)
	ListMemberships(ctx context.Context, userID string) ([]models.TeamMember, error)
	UpdateMember(ctx context.Context, m *models.TeamMember) error
	InsertMessage(ctx context.Context, m *models.TeamMessage) error
	GetMessage(ctx context.Context, id string) (*models.TeamMessage, error)
	ListMessages(ctx context.Context, organizerID string, limit int) ([]models.TeamMessage, error)
	MarkRead(ctx context.Context, r *models.TeamMessageRead) error
	ReadSet(ctx context.Context, userID string, messageIDs []string) (map[string]bool, error)
}

type Service struct {
	Store    Store
	Producer kafka.Publisher
	Topics   config.TopicConfig
	Logger   *logger.Logger
}

type InviteInput struct {
	UserID string          `json:"user_id"`
	Email  string          `json:"email,omitempty"`
	Role   models.TeamRole `json:"role"`
}

type MessageInput struct {
	Subject       string                 `json:"subject"`
	Body          string                 `json:"body"`
	Priority      models.MessagePriority `json:"priority,omitempty"`
	AudienceRoles []models.TeamRole      `json:"audience_roles,omitempty"`
}

// MessageSent is published for every team broadcast.
type MessageSent struct {
	MessageID     string                 `json:"message_id"`
	OrganizerID   string                 `json:"organizer_id"`
	SenderID      string                 `json:"sender_id"`
	Subject       string                 `json:"subject"`
	Priority      models.MessagePriority `json:"priority"`
	AudienceRoles []models.TeamRole      `json:"audience_roles,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// ActiveRole returns userID's role on organizerID's team, or "" when the
// user is not an active member.
func (s *Service) ActiveRole(ctx context.Context, organizerID, userID string) (models.TeamRole, error) {
	m, err := s.Store.FindMember(ctx, organizerID, userID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if m.Status != models.MemberStatusActive {
		return "", nil
	}
	return m.Role, nil
}

// actorRole resolves what actorID may do on organizerID's team. The
// organizer acts as an admin.
func (s *Service) actorRole(ctx context.Context, organizerID, actorID string) (models.TeamRole, error) {
	if actorID == organizerID {
		return models.TeamRoleAdmin, nil
	}
	return s.ActiveRole(ctx, organizerID, actorID)
}

func canManage(role models.TeamRole) bool {
	return role == models.TeamRoleAdmin || role == models.TeamRoleManager
}

// Invite adds userID to the team in the invited state. Only the organizer
// may invite admins.
func (s *Service) Invite(ctx context.Context, actorID, organizerID string, in InviteInput) (*models.TeamMember, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, in.Role)
	}
	if in.UserID == organizerID {
		return nil, fmt.Errorf("%w: the organizer cannot join their own team", ErrValidation)
	}
	role, err := s.actorRole(ctx, organizerID, actorID)
	if err != nil {
		return nil, err
	}
	if !canManage(role) || (in.Role == models.TeamRoleAdmin && actorID != organizerID) {
		s.Logger.LogSecurity("TEAM_DENIED", fmt.Sprintf("%s tried to invite %s as %s to %s", actorID, in.UserID, in.Role, organizerID))
		return nil, ErrForbidden
	}

	if _, err := s.Store.FindMember(ctx, organizerID, in.UserID); err == nil {
		return nil, ErrAlreadyMember
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	m := &models.TeamMember{
		ID:          utils.GenerateID(),
		OrganizerID: organizerID,
		UserID:      in.UserID,
		Email:       strings.TrimSpace(in.Email),
		Role:        in.Role,
		Status:      models.MemberStatusInvited,
		InvitedAt:   time.Now().UTC(),
	}
	if err := s.Store.InsertMember(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save team member: %w", err)
	}
	s.Logger.Info("TEAM", fmt.Sprintf("%s invited %s to %s as %s", actorID, m.UserID, organizerID, m.Role))
	return m, nil
}

// Accept activates the caller's own invitation.
func (s *Service) Accept(ctx context.Context, userID, memberID string) (*models.TeamMember, error) {
	m, err := s.Store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.UserID != userID {
		return nil, ErrForbidden
	}
	switch m.Status {
	case models.MemberStatusActive:
		return m, nil
	case models.MemberStatusRemoved:
		return nil, ErrNotFound
	}
	m.Status = models.MemberStatusActive
	m.JoinedAt = time.Now().UTC()
	if err := s.Store.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	s.Logger.Info("TEAM", fmt.Sprintf("%s joined %s as %s", userID, m.OrganizerID, m.Role))
	return m, nil
}

func (s *Service) member(ctx context.Context, organizerID, memberID string) (*models.TeamMember, error) {
	m, err := s.Store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.OrganizerID != organizerID || m.Status == models.MemberStatusRemoved {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *Service) UpdateRole(ctx context.Context, actorID, organizerID, memberID string, role models.TeamRole) (*models.TeamMember, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	m, err := s.member(ctx, organizerID, memberID)
	if err != nil {
		return nil, err
	}
	actor, err := s.actorRole(ctx, organizerID, actorID)
	if err != nil {
		return nil, err
	}
	touchesAdmin := role == models.TeamRoleAdmin || m.Role == models.TeamRoleAdmin
	if !canManage(actor) || (touchesAdmin && actorID != organizerID) {
		return nil, ErrForbidden
	}
	m.Role = role
	if err := s.Store.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	s.Logger.Info("TEAM", fmt.Sprintf("%s set %s to %s on %s", actorID, m.UserID, role, organizerID))
	return m, nil
}

// Remove takes a member off the team. Members may remove themselves.
func (s *Service) Remove(ctx context.Context, actorID, organizerID, memberID string) error {
	m, err := s.member(ctx, organizerID, memberID)
	if err != nil {
		return err
	}
	if m.UserID != actorID {
		actor, err := s.actorRole(ctx, organizerID, actorID)
		if err != nil {
			return err
		}
		if !canManage(actor) || (m.Role == models.TeamRoleAdmin && actorID != organizerID) {
			return ErrForbidden
		}
	}
	m.Status = models.MemberStatusRemoved
	if err := s.Store.UpdateMember(ctx, m); err != nil {
		return err
	}
	s.Logger.Info("TEAM", fmt.Sprintf("%s removed %s from %s", actorID, m.UserID, organizerID))
	return nil
}

// ListMembers is visible to the organizer and to active members.
func (s *Service) ListMembers(ctx context.Context, actorID, organizerID string) ([]models.TeamMember, error) {
	role, err := s.actorRole(ctx, organizerID, actorID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, ErrForbidden
	}
	return s.Store.ListMembers(ctx, organizerID)
}

func (s *Service) ListMemberships(ctx context.Context, userID string) ([]models.TeamMember, error) {
	return s.Store.ListMemberships(ctx, userID)
}

// SendMessage broadcasts a message to the team. An empty audience reaches
// every role.
func (s *Service) SendMessage(ctx context.Context, senderID, organizerID string, in MessageInput) (*models.TeamMessage, error) {
	in.Subject = strings.TrimSpace(in.Subject)
	in.Body = strings.TrimSpace(in.Body)
	if in.Subject == "" || in.Body == "" {
		return nil, fmt.Errorf("%w: subject and body are required", ErrValidation)
	}
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
	}
	for _, r := range in.AudienceRoles {
		if !r.Valid() {
			return nil, fmt.Errorf("%w: unknown audience role %q", ErrValidation, r)
		}
	}
	role, err := s.actorRole(ctx, organizerID, senderID)
	if err != nil {
		return nil, err
	}
	if !canManage(role) {
		return nil, ErrForbidden
	}

	msg := &models.TeamMessage{
		ID:            utils.GenerateID(),
		OrganizerID:   organizerID,
		SenderID:      senderID,
		Subject:       in.Subject,
		Body:          in.Body,
		Priority:      in.Priority,
		AudienceRoles: in.AudienceRoles,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.Store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	s.Logger.Info("TEAM", fmt.Sprintf("%s messaged %s team (%s): %s", senderID, organizerID, msg.Priority, msg.Subject))

	if err := kafka.PublishJSON(s.Producer, s.Topics.TeamMessage, organizerID, MessageSent{
		MessageID:     msg.ID,
		OrganizerID:   organizerID,
		SenderID:      senderID,
		Subject:       msg.Subject,
		Priority:      msg.Priority,
		AudienceRoles: msg.AudienceRoles,
		Timestamp:     msg.CreatedAt,
	}); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish team.message %s: %v", msg.ID, err))
	}
	return msg, nil
}

// ListMessages returns the messages userID can see, newest first, with
// their read flag set. The organizer sees every message.
func (s *Service) ListMessages(ctx context.Context, userID, organizerID string, limit int) ([]models.TeamMessage, error) {
	role, err := s.actorRole(ctx, organizerID, userID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, ErrForbidden
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	all, err := s.Store.ListMessages(ctx, organizerID, limit)
	if err != nil {
		return nil, err
	}

	visible := make([]models.TeamMessage, 0, len(all))
	ids := make([]string, 0, len(all))
	for _, m := range all {
		if userID == organizerID || m.Targets(role) {
			visible = append(visible, m)
			ids = append(ids, m.ID)
		}
	}
	read, err := s.Store.ReadSet(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	for i := range visible {
		visible[i].Read = read[visible[i].ID]
	}
	return visible, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, organizerID, messageID string) error {
	msg, err := s.Store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.OrganizerID != organizerID {
		return ErrNotFound
	}
	role, err := s.actorRole(ctx, organizerID, userID)
	if err != nil {
		return err
	}
	if role == "" || (userID != organizerID && !msg.Targets(role)) {
		return ErrForbidden
	}
	return s.Store.MarkRead(ctx, &models.TeamMessageRead{MessageID: msg.ID, UserID: userID, ReadAt: time.Now().UTC()})
}

func (s *Service) UnreadCount(ctx context.Context, userID, organizerID string) (int, error) {
	msgs, err := s.ListMessages(ctx, userID, organizerID, maxMessageLimit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if !m.Read {
			n++
		}
	}
	return n, nil
}
