package business

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"ms-stepping/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateSchema(ctx context.Context) error {
	_, err := d.Bun.NewCreateTable().Model((*models.CommunityBusiness)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (d *DB) Insert(ctx context.Context, b *models.CommunityBusiness) error {
	_, err := d.Bun.NewInsert().Model(b).Exec(ctx)
	return err
}

func (d *DB) Get(ctx context.Context, id string) (*models.CommunityBusiness, error) {
	b := new(models.CommunityBusiness)
	err := d.Bun.NewSelect().Model(b).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// List returns businesses matching every non-empty filter field, newest first.
func (d *DB) List(ctx context.Context, f models.BusinessFilter) ([]models.CommunityBusiness, error) {
	var list []models.CommunityBusiness
	q := d.Bun.NewSelect().Model(&list)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("LOWER(category) = ?", strings.ToLower(f.Category))
	}
	if f.City != "" {
		q = q.Where("LOWER(city) = ?", strings.ToLower(f.City))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(name) LIKE ?", like).WhereOr("LOWER(description) LIKE ?", like)
		})
	}
	q = q.Order("created_at DESC").Limit(f.Limit)
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) ListByOwner(ctx context.Context, ownerID string) ([]models.CommunityBusiness, error) {
	var list []models.CommunityBusiness
	err := d.Bun.NewSelect().Model(&list).Where("owner_id = ?", ownerID).Order("created_at DESC").Scan(ctx)
	return list, err
}

// Update writes the owner-editable columns. Status and ownership are never
// touched here.
func (d *DB) Update(ctx context.Context, b *models.CommunityBusiness) error {
	res, err := d.Bun.NewUpdate().
		Model(b).
		Column("name", "description", "category", "contact_email", "contact_phone",
			"website", "address", "city", "state", "image_url", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (d *DB) SetStatus(ctx context.Context, id string, status models.BusinessStatus, at time.Time) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.CommunityBusiness)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (d *DB) Delete(ctx context.Context, id string) error {
	res, err := d.Bun.NewDelete().Model((*models.CommunityBusiness)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res)
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
