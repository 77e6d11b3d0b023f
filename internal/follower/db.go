package follower

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
	for _, model := range []interface{}{(*models.UserFollow)(nil), (*models.FollowerPromotion)(nil)} {
		if _, err := d.Bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) GetFollow(ctx context.Context, followerID, organizerID string) (*models.UserFollow, error) {
	f := new(models.UserFollow)
	err := d.Bun.NewSelect().Model(f).
		Where("follower_id = ?", followerID).
		Where("organizer_id = ?", organizerID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFollowing
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *DB) InsertFollow(ctx context.Context, f *models.UserFollow) error {
	_, err := d.Bun.NewInsert().Model(f).Exec(ctx)
	return err
}

// DeleteFollow removes the follow and any promotion it carried.
func (d *DB) DeleteFollow(ctx context.Context, followerID, organizerID string) (bool, error) {
	var removed bool
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*models.UserFollow)(nil)).
			Where("follower_id = ?", followerID).
			Where("organizer_id = ?", organizerID).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0
		_, err = tx.NewDelete().Model((*models.FollowerPromotion)(nil)).
			Where("follower_id = ?", followerID).
			Where("organizer_id = ?", organizerID).
			Exec(ctx)
		return err
	})
	return removed, err
}

func (d *DB) ListFollowers(ctx context.Context, organizerID string) ([]models.UserFollow, error) {
	var list []models.UserFollow
	err := d.Bun.NewSelect().Model(&list).Where("organizer_id = ?", organizerID).Order("created_at DESC").Scan(ctx)
	return list, err
}

func (d *DB) ListFollowing(ctx context.Context, followerID string) ([]models.UserFollow, error) {
	var list []models.UserFollow
	err := d.Bun.NewSelect().Model(&list).Where("follower_id = ?", followerID).Order("created_at DESC").Scan(ctx)
	return list, err
}

func (d *DB) CountFollowers(ctx context.Context, organizerID string) (int, error) {
	return d.Bun.NewSelect().Model((*models.UserFollow)(nil)).Where("organizer_id = ?", organizerID).Count(ctx)
}

func (d *DB) GetPromotion(ctx context.Context, organizerID, followerID string) (*models.FollowerPromotion, error) {
	p := new(models.FollowerPromotion)
	err := d.Bun.NewSelect().Model(p).
		Where("organizer_id = ?", organizerID).
		Where("follower_id = ?", followerID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPromotion
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (d *DB) InsertPromotion(ctx context.Context, p *models.FollowerPromotion) error {
	_, err := d.Bun.NewInsert().Model(p).Exec(ctx)
	return err
}

func (d *DB) UpdatePromotion(ctx context.Context, p *models.FollowerPromotion) error {
	_, err := d.Bun.NewUpdate().Model(p).
		Column("can_sell_tickets", "can_work_events", "is_co_organizer", "commission_rate", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

func (d *DB) DeletePromotion(ctx context.Context, organizerID, followerID string) (bool, error) {
	res, err := d.Bun.NewDelete().Model((*models.FollowerPromotion)(nil)).
		Where("organizer_id = ?", organizerID).
		Where("follower_id = ?", followerID).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (d *DB) ListPromotions(ctx context.Context, organizerID string) ([]models.FollowerPromotion, error) {
	var list []models.FollowerPromotion
	err := d.Bun.NewSelect().Model(&list).Where("organizer_id = ?", organizerID).Order("created_at ASC").Scan(ctx)
	return list, err
}
