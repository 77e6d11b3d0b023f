package referral

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-stepping/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateSchema(ctx context.Context) error {
	for _, m := range []interface{}{(*models.ReferralCode)(nil), (*models.CommissionEarning)(nil)} {
		if _, err := d.Bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) InsertCode(ctx context.Context, c *models.ReferralCode) error {
	_, err := d.Bun.NewInsert().Model(c).Exec(ctx)
	return err
}

func (d *DB) GetCode(ctx context.Context, id string) (*models.ReferralCode, error) {
	c := new(models.ReferralCode)
	err := d.Bun.NewSelect().Model(c).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *DB) GetCodeByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	c := new(models.ReferralCode)
	err := d.Bun.NewSelect().Model(c).Where("code = ?", code).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *DB) CodeExists(ctx context.Context, code string) (bool, error) {
	return d.Bun.NewSelect().Model((*models.ReferralCode)(nil)).Where("code = ?", code).Exists(ctx)
}

func (d *DB) ListCodesByUser(ctx context.Context, userID string) ([]models.ReferralCode, error) {
	var list []models.ReferralCode
	err := d.Bun.NewSelect().Model(&list).Where("user_id = ?", userID).Order("created_at DESC").Scan(ctx)
	return list, err
}

func (d *DB) ListCodesByOrganizer(ctx context.Context, organizerID string) ([]models.ReferralCode, error) {
	var list []models.ReferralCode
	err := d.Bun.NewSelect().Model(&list).Where("organizer_id = ?", organizerID).Order("created_at DESC").Scan(ctx)
	return list, err
}

func (d *DB) SetActive(ctx context.Context, id string, active bool) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.ReferralCode)(nil)).
		Set("is_active = ?", active).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// RecordEarning inserts e and bumps the code's use count in one transaction.
// An order already credited returns its existing earning and false.
func (d *DB) RecordEarning(ctx context.Context, e *models.CommissionEarning) (*models.CommissionEarning, bool, error) {
	var (
		out     = e
		created bool
	)
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := new(models.CommissionEarning)
		err := tx.NewSelect().Model(existing).Where("order_id = ?", e.OrderID).Limit(1).Scan(ctx)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if _, err := tx.NewInsert().Model(e).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewUpdate().
			Model((*models.ReferralCode)(nil)).
			Set("uses_count = uses_count + 1").
			Where("id = ?", e.ReferralCodeID).
			Exec(ctx); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (d *DB) GetEarning(ctx context.Context, id string) (*models.CommissionEarning, error) {
	e := new(models.CommissionEarning)
	err := d.Bun.NewSelect().Model(e).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (d *DB) ListEarningsByUser(ctx context.Context, userID string) ([]models.CommissionEarning, error) {
	var list []models.CommissionEarning
	err := d.Bun.NewSelect().Model(&list).Where("user_id = ?", userID).Order("created_at DESC").Scan(ctx)
	return list, err
}

func (d *DB) ListEarningsByOrganizer(ctx context.Context, organizerID string, status models.EarningStatus) ([]models.CommissionEarning, error) {
	var list []models.CommissionEarning
	q := d.Bun.NewSelect().Model(&list).Where("organizer_id = ?", organizerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").Scan(ctx)
	return list, err
}

// MarkPaid flips a pending earning to paid. It returns ErrAlreadyPaid when
// the earning is not pending.
func (d *DB) MarkPaid(ctx context.Context, id string, at time.Time) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.CommissionEarning)(nil)).
		Set("status = ?", models.EarningStatusPaid).
		Set("paid_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.EarningStatusPending).
		Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyPaid
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// VoidEarningForOrder marks the order's pending earning voided and returns
// the earning as it now stands. Orders without an earning return nil.
func (d *DB) VoidEarningForOrder(ctx context.Context, orderID string) (*models.CommissionEarning, error) {
	e := new(models.CommissionEarning)
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().Model(e).Where("order_id = ?", orderID).Limit(1).Scan(ctx); err != nil {
			return err
		}
		if e.Status != models.EarningStatusPending {
			return nil
		}
		if _, err := tx.NewUpdate().
			Model((*models.CommissionEarning)(nil)).
			Set("status = ?", models.EarningStatusVoided).
			Where("id = ?", e.ID).
			Where("status = ?", models.EarningStatusPending).
			Exec(ctx); err != nil {
			return err
		}
		e.Status = models.EarningStatusVoided
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}
