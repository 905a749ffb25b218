package enforcement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services/repositories"
	"github.com/lac-hong-legacy/guard_api/shared"
	log "github.com/sirupsen/logrus"
)

var (
	ErrBlockNotFound  = errors.New("block not found")
	ErrBlockInactive  = errors.New("block is no longer active")
	ErrBlockPermanent = errors.New("permanent blocks have no expiry to extend")
	ErrIntegrity      = errors.New("more than one active block for target")
	ErrContention     = errors.New("block kept changing underneath the update")
)

const (
	DefaultThreshold     = 3
	DefaultDuration      = 60 * time.Minute
	DefaultExcerptLength = 500
	defaultMaxAttempts   = 8
)

// ReportCounter is the read side of the report store the engine needs.
type ReportCounter interface {
	CountConfirmed(ctx context.Context, targetKey string, since *time.Time) (int64, error)
}

type BlockStore interface {
	InsertIfAbsent(ctx context.Context, block *model.Block, event *model.BlockEvent) (*model.Block, bool, error)
	GetByID(ctx context.Context, id string, withHistory bool) (*model.Block, error)
	ActiveByTarget(ctx context.Context, targetKey string) ([]*model.Block, error)
	List(ctx context.Context, f repositories.BlockFilter) ([]*model.Block, int64, error)
	UpdateIf(ctx context.Context, id string, revision int64, changes model.Block, columns []string, event *model.BlockEvent) (bool, error)
	SweepCandidates(ctx context.Context, now time.Time, limit int) ([]string, error)
	ExpireIfDue(ctx context.Context, id string, now time.Time, event *model.BlockEvent) (bool, error)
}

// Notifier hears about blocks the engine creates.
type Notifier interface {
	BlockCreated(ctx context.Context, block *model.Block)
}

// EventObserver is told about every history event the engine writes.
type EventObserver interface {
	ObserveBlockEvent(t model.BlockEventType)
}

type Config struct {
	Threshold       int
	DefaultDuration time.Duration
	// CountWindow limits counted confirmations to those reviewed within it.
	// Zero counts all of them.
	CountWindow   time.Duration
	ExcerptLength int
	MaxAttempts   int
	Clock         shared.Clock
	Notifier      Notifier
	Observer      EventObserver
}

func (c *Config) setDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = DefaultDuration
	}
	if c.ExcerptLength <= 0 {
		c.ExcerptLength = DefaultExcerptLength
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.Clock == nil {
		c.Clock = shared.SystemClock{}
	}
}

// Engine turns confirmed reports into blocks and owns every block mutation.
type Engine struct {
	reports ReportCounter
	blocks  BlockStore
	cfg     Config
}

func NewEngine(reports ReportCounter, blocks BlockStore, cfg Config) *Engine {
	cfg.setDefaults()
	return &Engine{reports: reports, blocks: blocks, cfg: cfg}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// OnReportConfirmed re-evaluates the report's target. It returns the active
// block for the target, or nil while the target is under threshold.
func (e *Engine) OnReportConfirmed(ctx context.Context, report *model.Report) (*model.Block, error) {
	return e.EvaluateTarget(ctx, report.Target(), report)
}

// EvaluateTarget blocks target once its confirmed reports reach the
// threshold. trigger may be nil for a manual re-evaluation.
func (e *Engine) EvaluateTarget(ctx context.Context, target model.TargetIdentity, trigger *model.Report) (*model.Block, error) {
	key := target.Key()

	var since *time.Time
	if e.cfg.CountWindow > 0 {
		s := e.cfg.Clock.Now().Add(-e.cfg.CountWindow)
		since = &s
	}
	count, err := e.reports.CountConfirmed(ctx, key, since)
	if err != nil {
		return nil, fmt.Errorf("count confirmed reports: %w", err)
	}
	if count < int64(e.cfg.Threshold) {
		return nil, nil
	}

	var category, excerpt string
	if trigger != nil {
		category = string(trigger.Classification.Category)
		excerpt = truncateRunes(trigger.Content, e.cfg.ExcerptLength)
	}

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		now := e.cfg.Clock.Now()
		candidate := e.newBlock(target, now)
		candidate.ReasonCode = model.ReasonAutoThreshold
		candidate.ViolationCount = int(count)
		candidate.TriggerExcerpt = excerpt
		if category != "" {
			candidate.ViolationTypes = []string{category}
		}

		event := e.event(model.BlockEventCreated, model.SystemActor, now)
		event.Reason = model.ReasonAutoThreshold
		event.ViolationCount = candidate.ViolationCount
		event.DurationMinutes = candidate.DurationMinutes
		event.ExpiresAt = candidate.ExpiresAt

		block, created, err := e.blocks.InsertIfAbsent(ctx, candidate, event)
		if errors.Is(err, repositories.ErrActiveBlockVanished) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert block: %w", err)
		}
		if created {
			e.created(ctx, block)
			return block, nil
		}

		merged, settled, err := e.reconcile(ctx, block, int(count), category)
		if err != nil {
			return nil, err
		}
		if settled {
			return merged, nil
		}
		// the block went inactive while we were merging; insert again
	}
	return nil, ErrContention
}

// reconcile folds a later count and category into an existing active block.
// settled is false when the block stopped being active.
func (e *Engine) reconcile(ctx context.Context, block *model.Block, count int, category string) (*model.Block, bool, error) {
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if !block.IsActive {
			return nil, false, nil
		}
		needCount := count > block.ViolationCount
		needType := category != "" && !block.HasViolationType(category)
		if !needCount && !needType {
			return block, true, nil
		}

		now := e.cfg.Clock.Now()
		changes := model.Block{
			ViolationCount: block.ViolationCount,
			ViolationTypes: block.ViolationTypes,
			UpdatedAt:      now,
		}
		if needCount {
			changes.ViolationCount = count
		}
		if needType {
			changes.ViolationTypes = appendType(block.ViolationTypes, category)
		}

		event := e.event(model.BlockEventReconciled, model.SystemActor, now)
		event.ViolationCount = changes.ViolationCount

		ok, err := e.blocks.UpdateIf(ctx, block.ID, block.Revision, changes,
			[]string{"violation_count", "violation_types"}, event)
		if err != nil {
			return nil, false, fmt.Errorf("reconcile block %s: %w", block.ID, err)
		}
		if ok {
			e.observe(model.BlockEventReconciled)
			block.ViolationCount = changes.ViolationCount
			block.ViolationTypes = changes.ViolationTypes
			block.Revision++
			block.UpdatedAt = now
			return block, true, nil
		}

		block, err = e.blocks.GetByID(ctx, block.ID, false)
		if err != nil {
			return nil, false, fmt.Errorf("reload block: %w", err)
		}
	}
	return nil, false, ErrContention
}

type ManualBlock struct {
	Target          model.TargetIdentity
	Kind            model.BlockKind
	DurationMinutes int
	ViolationType   string
	Reason          string
	Actor           string
}

// CreateManual places an admin block through the same insert-if-absent path
// as automatic blocks. An existing active block is returned with created false.
func (e *Engine) CreateManual(ctx context.Context, req ManualBlock) (*model.Block, bool, error) {
	if req.Target.IsZero() {
		return nil, false, errors.New("target is required")
	}
	now := e.cfg.Clock.Now()
	block := e.newBlock(req.Target, now)
	block.BlockerID = req.Actor
	block.ReasonCode = model.ReasonManual
	block.TriggerExcerpt = truncateRunes(req.Reason, e.cfg.ExcerptLength)
	if req.ViolationType != "" {
		block.ViolationTypes = []string{req.ViolationType}
		block.ViolationCount = 1
		block.LastViolationAt = &now
	}
	switch req.Kind {
	case model.BlockPermanent:
		block.Kind = model.BlockPermanent
		block.ExpiresAt = nil
		block.DurationMinutes = 0
	default:
		if req.DurationMinutes > 0 {
			block.DurationMinutes = req.DurationMinutes
			expires := now.Add(time.Duration(req.DurationMinutes) * time.Minute)
			block.ExpiresAt = &expires
		}
	}

	event := e.event(model.BlockEventCreated, req.Actor, now)
	event.Reason = req.Reason
	event.DurationMinutes = block.DurationMinutes
	event.ViolationCount = block.ViolationCount
	event.ExpiresAt = block.ExpiresAt

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		got, created, err := e.blocks.InsertIfAbsent(ctx, block, event)
		if errors.Is(err, repositories.ErrActiveBlockVanished) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("insert block: %w", err)
		}
		if created {
			e.created(ctx, got)
		}
		return got, created, nil
	}
	return nil, false, ErrContention
}

// Extend adds extraMinutes to the block's duration and measures the new
// expiry from now.
func (e *Engine) Extend(ctx context.Context, id string, extraMinutes int, actor string) (*model.Block, error) {
	if extraMinutes <= 0 {
		return nil, errors.New("extension must be positive")
	}
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		block, err := e.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !block.IsActive {
			return nil, ErrBlockInactive
		}
		if block.Kind == model.BlockPermanent {
			return nil, ErrBlockPermanent
		}

		now := e.cfg.Clock.Now()
		total := block.DurationMinutes + extraMinutes
		expires := now.Add(time.Duration(total) * time.Minute)
		changes := model.Block{DurationMinutes: total, ExpiresAt: &expires, UpdatedAt: now}

		event := e.event(model.BlockEventExtended, actor, now)
		event.DurationMinutes = total
		event.ExpiresAt = &expires

		ok, err := e.blocks.UpdateIf(ctx, id, block.Revision, changes, []string{"duration_minutes", "expires_at"}, event)
		if err != nil {
			return nil, fmt.Errorf("extend block %s: %w", id, err)
		}
		if !ok {
			continue
		}
		e.observe(model.BlockEventExtended)
		log.WithFields(log.Fields{
			"block_id":   id,
			"target":     block.TargetKey,
			"duration":   total,
			"expires_at": expires,
			"actor":      actor,
		}).Info("Block extended")

		block.DurationMinutes = total
		block.ExpiresAt = &expires
		block.Revision++
		block.UpdatedAt = now
		return block, nil
	}
	return nil, ErrContention
}

// Unblock lifts an active block. Unblocking an inactive block is a no-op
// that returns it unchanged.
func (e *Engine) Unblock(ctx context.Context, id, reason, actor string) (*model.Block, error) {
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		block, err := e.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !block.IsActive {
			return block, nil
		}

		now := e.cfg.Clock.Now()
		changes := model.Block{
			IsActive:      false,
			ExpiresAt:     &now,
			DeactivatedAt: &now,
			UnblockReason: reason,
			UpdatedAt:     now,
		}
		event := e.event(model.BlockEventUnblocked, actor, now)
		event.Reason = reason

		ok, err := e.blocks.UpdateIf(ctx, id, block.Revision, changes,
			[]string{"is_active", "expires_at", "deactivated_at", "unblock_reason"}, event)
		if err != nil {
			return nil, fmt.Errorf("unblock %s: %w", id, err)
		}
		if !ok {
			continue
		}
		e.observe(model.BlockEventUnblocked)
		log.WithFields(log.Fields{
			"block_id": id,
			"target":   block.TargetKey,
			"actor":    actor,
		}).Info("Block lifted")

		block.IsActive = false
		block.ExpiresAt = &now
		block.DeactivatedAt = &now
		block.UnblockReason = reason
		block.Revision++
		block.UpdatedAt = now
		return block, nil
	}
	return nil, ErrContention
}

// AddViolation records another violation on the target's active block
// without touching its expiry.
func (e *Engine) AddViolation(ctx context.Context, target model.TargetIdentity, violationType, actor string) (*model.Block, error) {
	active, err := e.ActiveBlocks(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, ErrBlockNotFound
	}
	block := active[0]

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if !block.IsActive {
			return nil, ErrBlockNotFound
		}
		now := e.cfg.Clock.Now()
		changes := model.Block{
			ViolationCount:  block.ViolationCount + 1,
			ViolationTypes:  appendType(block.ViolationTypes, violationType),
			LastViolationAt: &now,
			UpdatedAt:       now,
		}
		event := e.event(model.BlockEventViolationAdded, actor, now)
		event.Reason = violationType
		event.ViolationCount = changes.ViolationCount

		ok, err := e.blocks.UpdateIf(ctx, block.ID, block.Revision, changes,
			[]string{"violation_count", "violation_types", "last_violation_at"}, event)
		if err != nil {
			return nil, fmt.Errorf("add violation to %s: %w", block.ID, err)
		}
		if ok {
			e.observe(model.BlockEventViolationAdded)
			block.ViolationCount = changes.ViolationCount
			block.ViolationTypes = changes.ViolationTypes
			block.LastViolationAt = &now
			block.Revision++
			block.UpdatedAt = now
			return block, nil
		}
		if block, err = e.get(ctx, block.ID); err != nil {
			return nil, err
		}
	}
	return nil, ErrContention
}

// ActiveBlocks returns the target's active block, if any. Finding more than
// one is reported as ErrIntegrity and never repaired here.
func (e *Engine) ActiveBlocks(ctx context.Context, target model.TargetIdentity) ([]*model.Block, error) {
	blocks, err := e.blocks.ActiveByTarget(ctx, target.Key())
	if err != nil {
		return nil, fmt.Errorf("load active blocks: %w", err)
	}
	if len(blocks) > 1 {
		ids := make([]string, 0, len(blocks))
		for _, b := range blocks {
			ids = append(ids, b.ID)
		}
		log.WithFields(log.Fields{
			"target":    target.Key(),
			"block_ids": ids,
		}).Error("Multiple active blocks for one target")
		return blocks, fmt.Errorf("%w: %s", ErrIntegrity, target.Key())
	}
	return blocks, nil
}

func (e *Engine) GetBlock(ctx context.Context, id string) (*model.Block, error) {
	block, err := e.blocks.GetByID(ctx, id, true)
	if repositories.IsNotFound(err) {
		return nil, ErrBlockNotFound
	}
	return block, err
}

func (e *Engine) ListBlocks(ctx context.Context, f repositories.BlockFilter) ([]*model.Block, int64, error) {
	return e.blocks.List(ctx, f)
}

func (e *Engine) get(ctx context.Context, id string) (*model.Block, error) {
	block, err := e.blocks.GetByID(ctx, id, false)
	if repositories.IsNotFound(err) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load block %s: %w", id, err)
	}
	return block, nil
}

func (e *Engine) newBlock(target model.TargetIdentity, now time.Time) *model.Block {
	expires := now.Add(e.cfg.DefaultDuration)
	return &model.Block{
		ID:              uuid.NewString(),
		BlockerID:       model.SystemActor,
		TargetUsername:  target.Handle(),
		TargetPlatform:  target.PlatformName(),
		TargetKey:       target.Key(),
		ViolationTypes:  []string{},
		LastViolationAt: &now,
		IsActive:        true,
		Kind:            model.BlockTemporary,
		ExpiresAt:       &expires,
		DurationMinutes: int(e.cfg.DefaultDuration / time.Minute),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (e *Engine) event(t model.BlockEventType, actor string, now time.Time) *model.BlockEvent {
	if actor == "" {
		actor = model.SystemActor
	}
	return &model.BlockEvent{ID: uuid.NewString(), Type: t, Actor: actor, CreatedAt: now}
}

func (e *Engine) created(ctx context.Context, block *model.Block) {
	e.observe(model.BlockEventCreated)
	log.WithFields(log.Fields{
		"block_id":        block.ID,
		"target":          block.TargetKey,
		"reason":          block.ReasonCode,
		"violation_count": block.ViolationCount,
		"kind":            block.Kind,
	}).Info("Block created")
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.BlockCreated(ctx, block)
	}
}

func (e *Engine) observe(t model.BlockEventType) {
	if e.cfg.Observer != nil {
		e.cfg.Observer.ObserveBlockEvent(t)
	}
}

func appendType(types []string, t string) []string {
	for _, existing := range types {
		if existing == t {
			return types
		}
	}
	if t == "" {
		return types
	}
	out := make([]string, 0, len(types)+1)
	out = append(out, types...)
	return append(out, t)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
