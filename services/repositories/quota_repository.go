package repositories

import (
	"context"

	"github.com/lac-hong-legacy/guard_api/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaRepository stores admin overrides of the quota table.
type QuotaRepository struct {
	BaseRepository
}

func NewQuotaRepository(db *gorm.DB) *QuotaRepository {
	return &QuotaRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

func (r *QuotaRepository) Upsert(ctx context.Context, o *model.QuotaPolicyOverride) error {
	return r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint_class"}},
		DoUpdates: clause.AssignmentColumns([]string{"max_requests", "window_seconds", "is_active", "updated_by", "updated_at"}),
	}).Create(o).Error
}

func (r *QuotaRepository) List(ctx context.Context) ([]model.QuotaPolicyOverride, error) {
	var out []model.QuotaPolicyOverride
	err := r.conn(ctx).Order("endpoint_class").Find(&out).Error
	return out, err
}
