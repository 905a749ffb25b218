package repositories

import (
	"context"
	"time"

	"github.com/lac-hong-legacy/guard_api/model"
	"gorm.io/gorm"
)

type ReportFilter struct {
	Status    model.ReportStatus
	Platform  string
	Username  string
	TargetKey string
	Limit     int
	Offset    int
}

// ReportRepository handles report persistence
type ReportRepository struct {
	BaseRepository
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

func (r *ReportRepository) Create(ctx context.Context, report *model.Report) error {
	return r.conn(ctx).Create(report).Error
}

func (r *ReportRepository) GetByID(ctx context.Context, id string) (*model.Report, error) {
	var report model.Report
	if err := r.conn(ctx).Where("id = ?", id).First(&report).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *ReportRepository) List(ctx context.Context, f ReportFilter) ([]*model.Report, int64, error) {
	q := r.conn(ctx).Model(&model.Report{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Platform != "" {
		q = q.Where("target_platform = ?", f.Platform)
	}
	if f.Username != "" {
		q = q.Where("LOWER(target_username) = LOWER(?)", f.Username)
	}
	if f.TargetKey != "" {
		q = q.Where("target_key = ?", f.TargetKey)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var reports []*model.Report
	err := q.Order("created_at DESC").Order("id").Limit(f.Limit).Offset(f.Offset).Find(&reports).Error
	return reports, total, err
}

// CountConfirmed counts confirmed reports for a target, optionally only
// those reviewed at or after since.
func (r *ReportRepository) CountConfirmed(ctx context.Context, targetKey string, since *time.Time) (int64, error) {
	q := r.conn(ctx).Model(&model.Report{}).
		Where("target_key = ? AND status = ?", targetKey, model.ReportConfirmed)
	if since != nil {
		q = q.Where("reviewed_at >= ?", *since)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// Transition moves a report to next only if it is still in one of from.
// It reports whether the row changed.
func (r *ReportRepository) Transition(ctx context.Context, id string, from []model.ReportStatus, next model.ReportStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": next}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.conn(ctx).Model(&model.Report{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Withdraw retracts a pending report owned by browserUUID.
func (r *ReportRepository) Withdraw(ctx context.Context, id, browserUUID string, at time.Time) (bool, error) {
	res := r.conn(ctx).Model(&model.Report{}).
		Where("id = ? AND status = ? AND browser_uuid = ?", id, model.ReportPending, browserUUID).
		Updates(map[string]interface{}{
			"status":       model.ReportWithdrawn,
			"withdrawn_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountByStatus feeds the dashboard queue gauges.
func (r *ReportRepository) CountByStatus(ctx context.Context) (map[model.ReportStatus]int64, error) {
	var rows []struct {
		Status model.ReportStatus
		N      int64
	}
	err := r.conn(ctx).Model(&model.Report{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[model.ReportStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
