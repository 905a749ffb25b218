package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	"github.com/lac-hong-legacy/guard_api/services/repositories"
	"github.com/lac-hong-legacy/guard_api/shared"
	log "github.com/sirupsen/logrus"
)

var (
	ErrReportNotFound    = errors.New("report not found")
	ErrInvalidTransition = errors.New("report cannot move to that status")
	ErrNotOwner          = errors.New("report belongs to another browser")
	ErrInvalidReport     = errors.New("invalid report")
)

// DeniedError carries the admission decision that rejected a submission.
type DeniedError struct {
	Decision ratelimit.Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("report submission rate limited, retry in %ds", e.Decision.RetryAfterSeconds())
}

type Store interface {
	Create(ctx context.Context, report *model.Report) error
	GetByID(ctx context.Context, id string) (*model.Report, error)
	List(ctx context.Context, f repositories.ReportFilter) ([]*model.Report, int64, error)
	Transition(ctx context.Context, id string, from []model.ReportStatus, next model.ReportStatus, fields map[string]interface{}) (bool, error)
	Withdraw(ctx context.Context, id, browserUUID string, at time.Time) (bool, error)
}

type Admission interface {
	Check(ctx context.Context, req ratelimit.Request) (ratelimit.Decision, error)
}

type Enforcer interface {
	OnReportConfirmed(ctx context.Context, report *model.Report) (*model.Block, error)
}

// Classifier scores reported content. Scoring is best effort.
type Classifier interface {
	Classify(ctx context.Context, text string) (model.Classification, error)
}

type Options struct {
	Classifier Classifier
	Clock      shared.Clock
}

type Service struct {
	store      Store
	admission  Admission
	enforcer   Enforcer
	classifier Classifier
	clock      shared.Clock
}

func NewService(store Store, admission Admission, enforcer Enforcer, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = shared.SystemClock{}
	}
	return &Service{
		store:      store,
		admission:  admission,
		enforcer:   enforcer,
		classifier: opts.Classifier,
		clock:      opts.Clock,
	}
}

// Submit records a pending report. The submission is charged against the
// report quota before the payload is looked at, so malformed floods are
// throttled too. The returned decision is valid whenever admission ran.
func (s *Service) Submit(ctx context.Context, id ratelimit.Identity, req dto.SubmitReportRequest) (*model.Report, ratelimit.Decision, error) {
	if id.BrowserUUID == "" {
		id.BrowserUUID = req.BrowserUUID
	}
	decision, err := s.admission.Check(ctx, ratelimit.Request{Identity: id, Class: ratelimit.ClassReportSubmission})
	if err != nil {
		return nil, decision, fmt.Errorf("admission: %w", err)
	}
	if !decision.Allowed {
		return nil, decision, &DeniedError{Decision: decision}
	}

	if err := req.Validate(); err != nil {
		return nil, decision, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}

	classification := model.Classification{
		Category:   model.Category(req.Category),
		Confidence: req.Confidence,
		RiskLevel:  req.RiskLevel,
	}
	if s.classifier != nil {
		scored, err := s.classifier.Classify(ctx, req.Content)
		if err != nil {
			log.WithError(err).Warn("Classifier unavailable, keeping reporter classification")
		} else {
			classification.Confidence = scored.Confidence
			if classification.RiskLevel == "" {
				classification.RiskLevel = scored.RiskLevel
			}
		}
	}

	now := s.clock.Now()
	target := model.TargetIdentity{Username: req.TargetUsername, Platform: req.Platform}
	report := &model.Report{
		ID:             uuid.NewString(),
		ReporterID:     id.UserID,
		BrowserUUID:    strings.ToLower(req.BrowserUUID),
		ReporterIP:     id.IP,
		TargetUsername: target.Handle(),
		TargetPlatform: target.PlatformName(),
		TargetKey:      target.Key(),
		Content:        req.Content,
		Classification: classification,
		Status:         model.ReportPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, report); err != nil {
		return nil, decision, fmt.Errorf("store report: %w", err)
	}

	log.WithFields(log.Fields{
		"report_id": report.ID,
		"target":    report.TargetKey,
		"category":  classification.Category,
	}).Info("Report submitted")
	return report, decision, nil
}

// Claim moves a pending report into review.
func (s *Service) Claim(ctx context.Context, id, reviewer string) (*model.Report, error) {
	report, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !report.Status.CanTransitionTo(model.ReportUnderReview) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, report.Status, model.ReportUnderReview)
	}

	now := s.clock.Now()
	ok, err := s.store.Transition(ctx, id, []model.ReportStatus{model.ReportPending}, model.ReportUnderReview, map[string]interface{}{
		"reviewer_id": reviewer,
		"claimed_at":  now,
		"updated_at":  now,
	})
	if err != nil {
		return nil, fmt.Errorf("claim report: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: report changed during claim", ErrInvalidTransition)
	}
	return s.Get(ctx, id)
}

// Review records a moderator decision. Confirming hands the report to the
// enforcement engine; the returned block is the target's active block, if any.
func (s *Service) Review(ctx context.Context, id string, decision model.ReportStatus, reviewer, note string) (*model.Report, *model.Block, error) {
	if !decision.IsReviewDecision() {
		return nil, nil, fmt.Errorf("%w: %q is not a review decision", ErrInvalidTransition, decision)
	}
	report, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !report.Status.CanTransitionTo(decision) {
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, report.Status, decision)
	}

	now := s.clock.Now()
	ok, err := s.store.Transition(ctx, id, model.SourcesFor(decision), decision, map[string]interface{}{
		"reviewer_id": reviewer,
		"review_note": note,
		"reviewed_at": now,
		"updated_at":  now,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("review report: %w", err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: report was decided concurrently", ErrInvalidTransition)
	}

	report, err = s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	log.WithFields(log.Fields{
		"report_id": id,
		"decision":  decision,
		"reviewer":  reviewer,
	}).Info("Report reviewed")

	if decision != model.ReportConfirmed {
		return report, nil, nil
	}
	block, err := s.enforcer.OnReportConfirmed(ctx, report)
	if err != nil {
		return report, nil, fmt.Errorf("enforce confirmed report %s: %w", id, err)
	}
	return report, block, nil
}

// Withdraw lets the submitting browser retract a report still pending.
func (s *Service) Withdraw(ctx context.Context, id, browserUUID string) (*model.Report, error) {
	report, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if browserUUID == "" || !strings.EqualFold(report.BrowserUUID, browserUUID) {
		return nil, ErrNotOwner
	}
	if !report.Status.CanTransitionTo(model.ReportWithdrawn) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, report.Status, model.ReportWithdrawn)
	}

	ok, err := s.store.Withdraw(ctx, id, report.BrowserUUID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("withdraw report: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: report left pending", ErrInvalidTransition)
	}
	return s.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id string) (*model.Report, error) {
	report, err := s.store.GetByID(ctx, id)
	if repositories.IsNotFound(err) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", id, err)
	}
	return report, nil
}

func (s *Service) List(ctx context.Context, req dto.ListReportsRequest) ([]*model.Report, int64, error) {
	req.Normalize()
	f := repositories.ReportFilter{
		Status:   model.ReportStatus(req.Status),
		Platform: model.TargetIdentity{Platform: req.Platform}.PlatformName(),
		Limit:    req.Limit,
		Offset:   req.Offset(),
	}
	if req.Username != "" && req.Platform != "" {
		f.TargetKey = model.TargetIdentity{Username: req.Username, Platform: req.Platform}.Key()
	} else if req.Username != "" {
		f.Username = strings.TrimPrefix(req.Username, "@")
	}
	return s.store.List(ctx, f)
}
