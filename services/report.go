package services

import (
	"context"
	"errors"

	alphactx "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	"github.com/lac-hong-legacy/guard_api/services/reporting"
	"github.com/lac-hong-legacy/guard_api/services/repositories"
	"github.com/lac-hong-legacy/guard_api/shared"
)

type ReportService struct {
	alphactx.DefaultService

	reports    *reporting.Service
	reportRepo *repositories.ReportRepository
	monitoring *MonitoringService
}

const REPORT_SVC = "report_svc"

func (svc ReportService) Id() string {
	return REPORT_SVC
}

func (svc *ReportService) Configure(ctx *alphactx.Context) error {
	return svc.DefaultService.Configure(ctx)
}

func (svc *ReportService) Start() error {
	db := svc.Service(DATABASE_SVC).(*DatabaseService)
	admission := svc.Service(ADMISSION_SVC).(*AdmissionService)
	enforcer := svc.Service(ENFORCEMENT_SVC).(*EnforcementService)
	svc.monitoring, _ = svc.Service(MONITORING_SVC).(*MonitoringService)

	opts := reporting.Options{}
	if clf, ok := svc.Service(CLASSIFIER_SVC).(*ClassifierService); ok && clf.Enabled() {
		opts.Classifier = clf
	}

	svc.reportRepo = repositories.NewReportRepository(db.Db())
	svc.reports = reporting.NewService(svc.reportRepo, admission, enforcer, opts)
	return nil
}

// Submit returns the admission decision alongside the result so the caller
// can set quota headers on success and failure alike.
func (svc *ReportService) Submit(ctx context.Context, id ratelimit.Identity, req dto.SubmitReportRequest) (*dto.ReportResponse, ratelimit.Decision, error) {
	report, dec, err := svc.reports.Submit(ctx, id, req)
	if err != nil {
		return nil, dec, reportError(err)
	}
	if svc.monitoring != nil {
		svc.monitoring.ObserveReport(report.TargetPlatform)
	}
	return dto.NewReportResponse(report), dec, nil
}

func (svc *ReportService) Claim(ctx context.Context, id, reviewer string) (*dto.ReportResponse, error) {
	report, err := svc.reports.Claim(ctx, id, reviewer)
	if err != nil {
		return nil, reportError(err)
	}
	return dto.NewReportResponse(report), nil
}

// Review records the decision. A confirmed report that could not be enforced
// is still reviewed; the enforcement failure is returned as the error.
func (svc *ReportService) Review(ctx context.Context, id string, req dto.ReviewReportRequest, reviewer string) (*dto.ReportResponse, error) {
	report, block, err := svc.reports.Review(ctx, id, model.ReportStatus(req.Decision), reviewer, req.Note)
	if err != nil {
		if report != nil {
			return nil, enforcementError(err)
		}
		return nil, reportError(err)
	}
	resp := dto.NewReportResponse(report)
	resp.Block = dto.NewBlockResponse(block)
	return resp, nil
}

func (svc *ReportService) Withdraw(ctx context.Context, id, browserUUID string) (*dto.ReportResponse, error) {
	report, err := svc.reports.Withdraw(ctx, id, browserUUID)
	if err != nil {
		return nil, reportError(err)
	}
	return dto.NewReportResponse(report), nil
}

func (svc *ReportService) GetReport(ctx context.Context, id string) (*dto.ReportResponse, error) {
	report, err := svc.reports.Get(ctx, id)
	if err != nil {
		return nil, reportError(err)
	}
	return dto.NewReportResponse(report), nil
}

func (svc *ReportService) ListReports(ctx context.Context, req dto.ListReportsRequest) (*dto.ReportListResponse, error) {
	req.Normalize()
	reports, total, err := svc.reports.List(ctx, req)
	if err != nil {
		return nil, reportError(err)
	}
	resp := &dto.ReportListResponse{
		Reports:    make([]*dto.ReportResponse, 0, len(reports)),
		Pagination: dto.NewPaginationResponse(req.PaginationRequest, total),
	}
	for _, r := range reports {
		resp.Reports = append(resp.Reports, dto.NewReportResponse(r))
	}
	return resp, nil
}

func (svc *ReportService) CountByStatus(ctx context.Context) (map[string]int64, error) {
	counts, err := svc.reportRepo.CountByStatus(ctx)
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to count reports")
	}
	out := make(map[string]int64, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out, nil
}

func reportError(err error) error {
	if _, ok := shared.GetAppError(err); ok {
		return err
	}
	var denied *reporting.DeniedError
	switch {
	case errors.As(err, &denied):
		return RateLimitedError(denied.Decision)
	case errors.Is(err, reporting.ErrInvalidReport):
		return shared.NewValidationError(err, "Validation failed").WithData(dto.FormatValidationErrors(err))
	case errors.Is(err, reporting.ErrReportNotFound):
		return shared.NewNotFoundError(err, "Report not found")
	case errors.Is(err, reporting.ErrNotOwner):
		return shared.NewForbiddenError(err, "Report was submitted from another browser")
	case errors.Is(err, reporting.ErrInvalidTransition):
		return shared.NewConflictError(err, "Report cannot move to that status")
	case errors.Is(err, ratelimit.ErrStoreUnavailable):
		return shared.NewServiceUnavailableError(err, "Admission store unavailable")
	}
	return shared.NewInternalError(err, "Report operation failed")
}
