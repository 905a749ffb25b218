package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/lac-hong-legacy/guard_api/model"
	"gorm.io/gorm"
)

// ErrActiveBlockVanished means an insert hit the active-block index but the
// conflicting row was gone by the time it was read back.
var ErrActiveBlockVanished = errors.New("conflicting active block no longer active")

type BlockFilter struct {
	TargetKey  string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// BlockRepository handles block and block history persistence
type BlockRepository struct {
	BaseRepository
}

func NewBlockRepository(db *gorm.DB) *BlockRepository {
	return &BlockRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// InsertIfAbsent creates block with its first history event unless the target
// already has an active block, in which case that block is returned and
// created is false.
func (r *BlockRepository) InsertIfAbsent(ctx context.Context, block *model.Block, event *model.BlockEvent) (*model.Block, bool, error) {
	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(block).Error; err != nil {
			return err
		}
		if event != nil {
			event.BlockID = block.ID
			return tx.Create(event).Error
		}
		return nil
	})
	if err == nil {
		return block, true, nil
	}
	if !IsDuplicateKey(err) {
		return nil, false, err
	}

	active, err := r.ActiveByTarget(ctx, block.TargetKey)
	if err != nil {
		return nil, false, err
	}
	if len(active) == 0 {
		return nil, false, ErrActiveBlockVanished
	}
	return active[0], false, nil
}

func (r *BlockRepository) GetByID(ctx context.Context, id string, withHistory bool) (*model.Block, error) {
	q := r.conn(ctx)
	if withHistory {
		q = q.Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("id ASC")
		})
	}
	var block model.Block
	if err := q.Where("id = ?", id).First(&block).Error; err != nil {
		return nil, err
	}
	return &block, nil
}

func (r *BlockRepository) ActiveByTarget(ctx context.Context, targetKey string) ([]*model.Block, error) {
	var blocks []*model.Block
	err := r.conn(ctx).
		Where("target_key = ? AND is_active = ?", targetKey, true).
		Order("created_at ASC").
		Find(&blocks).Error
	return blocks, err
}

func (r *BlockRepository) List(ctx context.Context, f BlockFilter) ([]*model.Block, int64, error) {
	q := r.conn(ctx).Model(&model.Block{})
	if f.TargetKey != "" {
		q = q.Where("target_key = ?", f.TargetKey)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var blocks []*model.Block
	err := q.Order("created_at DESC").Order("id").Limit(f.Limit).Offset(f.Offset).Find(&blocks).Error
	return blocks, total, err
}

// UpdateIf writes the selected columns of changes only if the block is still
// at revision, appending event in the same transaction. It reports whether
// the write happened.
func (r *BlockRepository) UpdateIf(ctx context.Context, id string, revision int64, changes model.Block, columns []string, event *model.BlockEvent) (bool, error) {
	changes.Revision = revision + 1
	columns = append(columns, "revision", "updated_at")

	var applied bool
	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Block{}).
			Where("id = ? AND revision = ?", id, revision).
			Select(columns).
			Updates(&changes)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		applied = true
		if event != nil {
			event.BlockID = id
			return tx.Create(event).Error
		}
		return nil
	})
	return applied, err
}

// SweepCandidates returns ids of active temporary blocks already past expiry.
func (r *BlockRepository) SweepCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.conn(ctx).Model(&model.Block{}).
		Where("is_active = ? AND kind = ? AND expires_at < ?", true, model.BlockTemporary, now).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ExpireIfDue deactivates one block, re-checking the sweep predicate in the
// update itself so a concurrent extend or unblock wins.
func (r *BlockRepository) ExpireIfDue(ctx context.Context, id string, now time.Time, event *model.BlockEvent) (bool, error) {
	var applied bool
	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Block{}).
			Where("id = ? AND is_active = ? AND kind = ? AND expires_at < ?", id, true, model.BlockTemporary, now).
			Updates(map[string]interface{}{
				"is_active":      false,
				"deactivated_at": now,
				"updated_at":     now,
				"revision":       gorm.Expr("revision + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		applied = true
		event.BlockID = id
		return tx.Create(event).Error
	})
	return applied, err
}

func (r *BlockRepository) History(ctx context.Context, blockID string) ([]model.BlockEvent, error) {
	var events []model.BlockEvent
	err := r.conn(ctx).
		Where("block_id = ?", blockID).
		Order("created_at ASC").Order("id ASC").
		Find(&events).Error
	return events, err
}

func (r *BlockRepository) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := r.conn(ctx).Model(&model.Block{}).Where("is_active = ?", true).Count(&n).Error
	return n, err
}
