package handlers

import (
	"context"

	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
)

type ReportServiceInterface interface {
	Submit(ctx context.Context, id ratelimit.Identity, req dto.SubmitReportRequest) (*dto.ReportResponse, ratelimit.Decision, error)
	Claim(ctx context.Context, id, reviewer string) (*dto.ReportResponse, error)
	Review(ctx context.Context, id string, req dto.ReviewReportRequest, reviewer string) (*dto.ReportResponse, error)
	Withdraw(ctx context.Context, id, browserUUID string) (*dto.ReportResponse, error)
	GetReport(ctx context.Context, id string) (*dto.ReportResponse, error)
	ListReports(ctx context.Context, req dto.ListReportsRequest) (*dto.ReportListResponse, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type BlockServiceInterface interface {
	CreateBlock(ctx context.Context, req dto.CreateBlockRequest, actor string) (*dto.BlockResponse, bool, error)
	ExtendBlock(ctx context.Context, id string, req dto.ExtendBlockRequest, actor string) (*dto.BlockResponse, error)
	Unblock(ctx context.Context, id string, req dto.UnblockRequest, actor string) (*dto.BlockResponse, error)
	AddViolation(ctx context.Context, req dto.AddViolationRequest, actor string) (*dto.BlockResponse, error)
	EvaluateTarget(ctx context.Context, req dto.TargetRequest) (*dto.EvaluateTargetResponse, error)
	GetBlock(ctx context.Context, id string) (*dto.BlockResponse, error)
	ListBlocks(ctx context.Context, req dto.ListBlocksRequest) (*dto.BlockListResponse, error)
	Sweep(ctx context.Context) (*dto.SweepResponse, error)
	CountActive(ctx context.Context) (int64, error)
}

type AdmissionServiceInterface interface {
	Policies() *dto.PolicyListResponse
	UpdatePolicy(ctx context.Context, class string, req dto.UpdatePolicyRequest, actor string) (*dto.PolicyResponse, error)
	ResetIdentity(ctx context.Context, req dto.ResetAdmissionRequest) (int, error)
	Degraded() bool
}

type ScoringServiceInterface interface {
	ScoreTexts(ctx context.Context, texts []string) (*dto.ExtensionSyncResponse, error)
}
