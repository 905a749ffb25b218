package services

import (
	"context"
	"errors"
	"time"

	alphactx "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services/enforcement"
	"github.com/lac-hong-legacy/guard_api/services/repositories"
	"github.com/lac-hong-legacy/guard_api/shared"
	log "github.com/sirupsen/logrus"
)

type EnforcementService struct {
	alphactx.DefaultService

	cfg           enforcement.Config
	sweepSchedule string
	sweepBatch    int

	engine    *enforcement.Engine
	sweeper   *enforcement.Sweeper
	blockRepo *repositories.BlockRepository
}

const ENFORCEMENT_SVC = "enforcement_svc"

func (svc EnforcementService) Id() string {
	return ENFORCEMENT_SVC
}

func (svc *EnforcementService) Configure(ctx *alphactx.Context) error {
	svc.cfg = enforcement.Config{
		Threshold:       shared.GetEnvInt("ENFORCEMENT_THRESHOLD", enforcement.DefaultThreshold),
		DefaultDuration: shared.GetEnvDuration("ENFORCEMENT_DEFAULT_DURATION", enforcement.DefaultDuration),
		CountWindow:     shared.GetEnvDuration("ENFORCEMENT_COUNT_WINDOW", 0),
		ExcerptLength:   shared.GetEnvInt("ENFORCEMENT_EXCERPT_LENGTH", enforcement.DefaultExcerptLength),
	}
	svc.sweepSchedule = shared.GetEnv("SWEEP_SCHEDULE", enforcement.DefaultSweepSchedule)
	svc.sweepBatch = shared.GetEnvInt("SWEEP_BATCH_SIZE", 0)
	return svc.DefaultService.Configure(ctx)
}

func (svc *EnforcementService) Start() error {
	db := svc.Service(DATABASE_SVC).(*DatabaseService)
	svc.blockRepo = repositories.NewBlockRepository(db.Db())

	sweepOpts := []enforcement.SweeperOption{enforcement.WithSweepBatch(svc.sweepBatch)}
	if monitoring, ok := svc.Service(MONITORING_SVC).(*MonitoringService); ok && monitoring != nil {
		svc.cfg.Observer = monitoring
		sweepOpts = append(sweepOpts, enforcement.WithSweepObserver(monitoring))
	}
	if notifier, ok := svc.Service(NOTIFICATION_SVC).(*NotificationService); ok && notifier.Enabled() {
		svc.cfg.Notifier = notifier
	}

	svc.engine = enforcement.NewEngine(repositories.NewReportRepository(db.Db()), svc.blockRepo, svc.cfg)
	svc.sweeper = enforcement.NewSweeper(svc.blockRepo, sweepOpts...)
	if err := svc.sweeper.Start(svc.sweepSchedule); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"threshold": svc.engine.Config().Threshold,
		"duration":  svc.engine.Config().DefaultDuration,
		"sweep":     svc.sweepSchedule,
	}).Info("Enforcement engine started")
	return nil
}

func (svc *EnforcementService) Shutdown() {
	if svc.sweeper != nil {
		svc.sweeper.Stop()
	}
}

func (svc *EnforcementService) Engine() *enforcement.Engine {
	return svc.engine
}

// OnReportConfirmed implements reporting.Enforcer.
func (svc *EnforcementService) OnReportConfirmed(ctx context.Context, report *model.Report) (*model.Block, error) {
	return svc.engine.OnReportConfirmed(ctx, report)
}

func (svc *EnforcementService) CreateBlock(ctx context.Context, req dto.CreateBlockRequest, actor string) (*dto.BlockResponse, bool, error) {
	block, created, err := svc.engine.CreateManual(ctx, enforcement.ManualBlock{
		Target:          model.TargetIdentity{Username: req.TargetUsername, Platform: req.Platform},
		Kind:            model.BlockKind(req.Kind),
		DurationMinutes: req.DurationMinutes,
		ViolationType:   req.ViolationType,
		Reason:          req.Reason,
		Actor:           actor,
	})
	if err != nil {
		return nil, false, enforcementError(err)
	}
	return dto.NewBlockResponse(block), created, nil
}

func (svc *EnforcementService) ExtendBlock(ctx context.Context, id string, req dto.ExtendBlockRequest, actor string) (*dto.BlockResponse, error) {
	block, err := svc.engine.Extend(ctx, id, req.ExtraMinutes, actor)
	if err != nil {
		return nil, enforcementError(err)
	}
	return dto.NewBlockResponse(block), nil
}

func (svc *EnforcementService) Unblock(ctx context.Context, id string, req dto.UnblockRequest, actor string) (*dto.BlockResponse, error) {
	block, err := svc.engine.Unblock(ctx, id, req.Reason, actor)
	if err != nil {
		return nil, enforcementError(err)
	}
	return dto.NewBlockResponse(block), nil
}

func (svc *EnforcementService) AddViolation(ctx context.Context, req dto.AddViolationRequest, actor string) (*dto.BlockResponse, error) {
	target := model.TargetIdentity{Username: req.TargetUsername, Platform: req.Platform}
	block, err := svc.engine.AddViolation(ctx, target, req.ViolationType, actor)
	if err != nil {
		return nil, enforcementError(err)
	}
	return dto.NewBlockResponse(block), nil
}

// EvaluateTarget re-runs the threshold check for a target outside of a
// review, e.g. after the threshold was lowered.
func (svc *EnforcementService) EvaluateTarget(ctx context.Context, req dto.TargetRequest) (*dto.EvaluateTargetResponse, error) {
	block, err := svc.engine.EvaluateTarget(ctx, req.Target(), nil)
	if err != nil {
		return nil, enforcementError(err)
	}
	return &dto.EvaluateTargetResponse{Blocked: block != nil, Block: dto.NewBlockResponse(block)}, nil
}

func (svc *EnforcementService) GetBlock(ctx context.Context, id string) (*dto.BlockResponse, error) {
	block, err := svc.engine.GetBlock(ctx, id)
	if err != nil {
		return nil, enforcementError(err)
	}
	return dto.NewBlockResponse(block), nil
}

// ListBlocks answers from the target's active blocks when a full target is
// given, otherwise pages through all blocks.
func (svc *EnforcementService) ListBlocks(ctx context.Context, req dto.ListBlocksRequest) (*dto.BlockListResponse, error) {
	req.Normalize()
	if req.Username != "" && req.Platform != "" && req.ActiveOnly {
		blocks, err := svc.engine.ActiveBlocks(ctx, model.TargetIdentity{Username: req.Username, Platform: req.Platform})
		if err != nil {
			return nil, enforcementError(err)
		}
		return &dto.BlockListResponse{
			Blocks:     dto.NewBlockResponses(blocks),
			Pagination: dto.NewPaginationResponse(req.PaginationRequest, int64(len(blocks))),
		}, nil
	}

	f := repositories.BlockFilter{ActiveOnly: req.ActiveOnly, Limit: req.Limit, Offset: req.Offset()}
	if req.Username != "" && req.Platform != "" {
		f.TargetKey = model.TargetIdentity{Username: req.Username, Platform: req.Platform}.Key()
	}
	blocks, total, err := svc.engine.ListBlocks(ctx, f)
	if err != nil {
		return nil, enforcementError(err)
	}
	return &dto.BlockListResponse{
		Blocks:     dto.NewBlockResponses(blocks),
		Pagination: dto.NewPaginationResponse(req.PaginationRequest, total),
	}, nil
}

// Sweep runs one expiry pass on demand.
func (svc *EnforcementService) Sweep(ctx context.Context) (*dto.SweepResponse, error) {
	n, err := svc.sweeper.Sweep(ctx)
	if err != nil {
		return nil, shared.NewInternalError(err, "Expiry sweep failed")
	}
	return &dto.SweepResponse{Deactivated: n, RanAt: time.Now().UTC()}, nil
}

func (svc *EnforcementService) CountActive(ctx context.Context) (int64, error) {
	return svc.blockRepo.CountActive(ctx)
}

func enforcementError(err error) error {
	if _, ok := shared.GetAppError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, enforcement.ErrBlockNotFound):
		return shared.NewNotFoundError(err, "Block not found")
	case errors.Is(err, enforcement.ErrBlockInactive):
		return shared.NewConflictError(err, "Block is no longer active")
	case errors.Is(err, enforcement.ErrBlockPermanent):
		return shared.NewConflictError(err, "Permanent blocks cannot be extended")
	case errors.Is(err, enforcement.ErrContention):
		return shared.NewConflictError(err, "Block is being modified, please retry")
	case errors.Is(err, enforcement.ErrIntegrity):
		return shared.NewIntegrityError(err, "Target has more than one active block")
	}
	return shared.NewInternalError(err, "Enforcement failed")
}
