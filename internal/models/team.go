package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TeamRole string

const (
	TeamRoleAdmin   TeamRole = "admin"
	TeamRoleManager TeamRole = "manager"
	TeamRoleStaff   TeamRole = "staff"
	TeamRoleScanner TeamRole = "scanner"
)

func (r TeamRole) Valid() bool {
	switch r {
	case TeamRoleAdmin, TeamRoleManager, TeamRoleStaff, TeamRoleScanner:
		return true
	}
	return false
}

type MemberStatus string

const (
	MemberStatusInvited MemberStatus = "invited"
	MemberStatusActive  MemberStatus = "active"
	MemberStatusRemoved MemberStatus = "removed"
)

type TeamMember struct {
	bun.BaseModel `bun:"table:team_members"`

	ID          string       `bun:"id,pk" json:"id"`
	OrganizerID string       `bun:"organizer_id,notnull" json:"organizer_id"`
	UserID      string       `bun:"user_id,notnull" json:"user_id"`
	Email       string       `bun:"email" json:"email,omitempty"`
	Role        TeamRole     `bun:"role,notnull" json:"role"`
	Status      MemberStatus `bun:"status,notnull" json:"status"`
	InvitedAt   time.Time    `bun:"invited_at,notnull" json:"invited_at"`
	JoinedAt    time.Time    `bun:"joined_at,nullzero" json:"joined_at,omitempty"`
}

type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
	PriorityUrgent MessagePriority = "urgent"
)

func (p MessagePriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type TeamMessage struct {
	bun.BaseModel `bun:"table:team_messages"`

	ID            string          `bun:"id,pk" json:"id"`
	OrganizerID   string          `bun:"organizer_id,notnull" json:"organizer_id"`
	SenderID      string          `bun:"sender_id,notnull" json:"sender_id"`
	Subject       string          `bun:"subject,notnull" json:"subject"`
	Body          string          `bun:"body,notnull" json:"body"`
	Priority      MessagePriority `bun:"priority,notnull" json:"priority"`
	AudienceRoles []TeamRole      `bun:"audience_roles" json:"audience_roles,omitempty"`
	CreatedAt     time.Time       `bun:"created_at,notnull" json:"created_at"`

	Read bool `bun:"-" json:"read"`
}

// Targets reports whether a member with role receives the message.
func (m *TeamMessage) Targets(role TeamRole) bool {
	if len(m.AudienceRoles) == 0 {
		return true
	}
	for _, r := range m.AudienceRoles {
		if r == role {
			return true
		}
	}
	return false
}

type TeamMessageRead struct {
	bun.BaseModel `bun:"table:team_message_reads"`

	MessageID string    `bun:"message_id,pk" json:"message_id"`
	UserID    string    `bun:"user_id,pk" json:"user_id"`
	ReadAt    time.Time `bun:"read_at,notnull" json:"read_at"`
}
