package team

import (
	"context"
	"database/sql"
	"errors"

	"ms-stepping/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateSchema(ctx context.Context) error {
	for _, m := range []interface{}{
		(*models.TeamMember)(nil),
		(*models.TeamMessage)(nil),
		(*models.TeamMessageRead)(nil),
	} {
		if _, err := d.Bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) InsertMember(ctx context.Context, m *models.TeamMember) error {
	_, err := d.Bun.NewInsert().Model(m).Exec(ctx)
	return err
}

func (d *DB) GetMember(ctx context.Context, id string) (*models.TeamMember, error) {
	m := new(models.TeamMember)
	err := d.Bun.NewSelect().Model(m).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// FindMember returns userID's invited or active membership with organizerID.
func (d *DB) FindMember(ctx context.Context, organizerID, userID string) (*models.TeamMember, error) {
	m := new(models.TeamMember)
	err := d.Bun.NewSelect().Model(m).
		Where("organizer_id = ?", organizerID).
		Where("user_id = ?", userID).
		Where("status != ?", models.MemberStatusRemoved).
		Order("invited_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (d *DB) ListMembers(ctx context.Context, organizerID string) ([]models.TeamMember, error) {
	var list []models.TeamMember
	err := d.Bun.NewSelect().Model(&list).
		Where("organizer_id = ?", organizerID).
		Where("status != ?", models.MemberStatusRemoved).
		Order("invited_at ASC").
		Scan(ctx)
	return list, err
}

func (d *DB) ListMemberships(ctx context.Context, userID string) ([]models.TeamMember, error) {
	var list []models.TeamMember
	err := d.Bun.NewSelect().Model(&list).
		Where("user_id = ?", userID).
		Where("status != ?", models.MemberStatusRemoved).
		Order("invited_at DESC").
		Scan(ctx)
	return list, err
}

func (d *DB) UpdateMember(ctx context.Context, m *models.TeamMember) error {
	res, err := d.Bun.NewUpdate().Model(m).Column("role", "status", "joined_at").WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) InsertMessage(ctx context.Context, m *models.TeamMessage) error {
	_, err := d.Bun.NewInsert().Model(m).Exec(ctx)
	return err
}

func (d *DB) GetMessage(ctx context.Context, id string) (*models.TeamMessage, error) {
	m := new(models.TeamMessage)
	err := d.Bun.NewSelect().Model(m).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (d *DB) ListMessages(ctx context.Context, organizerID string, limit int) ([]models.TeamMessage, error) {
	var list []models.TeamMessage
	err := d.Bun.NewSelect().Model(&list).
		Where("organizer_id = ?", organizerID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	return list, err
}

// MarkRead is a no-op when the read is already recorded.
func (d *DB) MarkRead(ctx context.Context, r *models.TeamMessageRead) error {
	_, err := d.Bun.NewInsert().Model(r).On("CONFLICT DO NOTHING").Exec(ctx)
	return err
}

// ReadSet returns which of messageIDs userID has read.
func (d *DB) ReadSet(ctx context.Context, userID string, messageIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	var reads []models.TeamMessageRead
	err := d.Bun.NewSelect().Model(&reads).
		Where("user_id = ?", userID).
		Where("message_id IN (?)", bun.In(messageIDs)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range reads {
		out[r.MessageID] = true
	}
	return out, nil
}
