package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	"github.com/lac-hong-legacy/guard_api/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const browserUUID = "0b7e2a54-7c2e-4b1e-9f7a-2d1c3e4f5a6b"

type fakeReports struct {
	dec        ratelimit.Decision
	err        error
	gotIdent   ratelimit.Identity
	gotReq     dto.SubmitReportRequest
	gotUUID    string
	gotReviews []string
}

func (f *fakeReports) Submit(_ context.Context, id ratelimit.Identity, req dto.SubmitReportRequest) (*dto.ReportResponse, ratelimit.Decision, error) {
	f.gotIdent = id
	f.gotReq = req
	if f.err != nil {
		return nil, f.dec, f.err
	}
	return &dto.ReportResponse{ID: "r-1", Status: model.ReportPending}, f.dec, nil
}

func (f *fakeReports) Claim(_ context.Context, id, reviewer string) (*dto.ReportResponse, error) {
	return &dto.ReportResponse{ID: id, ReviewerID: reviewer}, nil
}

func (f *fakeReports) Review(_ context.Context, id string, req dto.ReviewReportRequest, reviewer string) (*dto.ReportResponse, error) {
	f.gotReviews = append(f.gotReviews, reviewer+":"+req.Decision)
	return &dto.ReportResponse{ID: id, ReviewerID: reviewer}, nil
}

func (f *fakeReports) Withdraw(_ context.Context, id, uuid string) (*dto.ReportResponse, error) {
	f.gotUUID = uuid
	return &dto.ReportResponse{ID: id, Status: model.ReportWithdrawn}, nil
}

func (f *fakeReports) GetReport(_ context.Context, id string) (*dto.ReportResponse, error) {
	return nil, shared.NewNotFoundError(nil, "Report not found")
}

func (f *fakeReports) ListReports(_ context.Context, req dto.ListReportsRequest) (*dto.ReportListResponse, error) {
	return &dto.ReportListResponse{Reports: []*dto.ReportResponse{}}, nil
}

func (f *fakeReports) CountByStatus(_ context.Context) (map[string]int64, error) {
	return map[string]int64{"pending": 4, "confirmed": 1}, nil
}

type fakeBlocks struct {
	existing   bool
	gotUnblock *dto.UnblockRequest
	gotActor   string
}

func (f *fakeBlocks) CreateBlock(_ context.Context, req dto.CreateBlockRequest, actor string) (*dto.BlockResponse, bool, error) {
	f.gotActor = actor
	return &dto.BlockResponse{ID: "b-1", TargetUsername: req.TargetUsername, IsActive: true}, !f.existing, nil
}

func (f *fakeBlocks) ExtendBlock(_ context.Context, id string, req dto.ExtendBlockRequest, actor string) (*dto.BlockResponse, error) {
	return &dto.BlockResponse{ID: id, DurationMinutes: req.ExtraMinutes}, nil
}

func (f *fakeBlocks) Unblock(_ context.Context, id string, req dto.UnblockRequest, actor string) (*dto.BlockResponse, error) {
	f.gotUnblock = &req
	return &dto.BlockResponse{ID: id}, nil
}

func (f *fakeBlocks) AddViolation(_ context.Context, req dto.AddViolationRequest, actor string) (*dto.BlockResponse, error) {
	return &dto.BlockResponse{ID: "b-1"}, nil
}

func (f *fakeBlocks) EvaluateTarget(_ context.Context, req dto.TargetRequest) (*dto.EvaluateTargetResponse, error) {
	return &dto.EvaluateTargetResponse{Blocked: false}, nil
}

func (f *fakeBlocks) GetBlock(_ context.Context, id string) (*dto.BlockResponse, error) {
	return &dto.BlockResponse{ID: id}, nil
}

func (f *fakeBlocks) ListBlocks(_ context.Context, req dto.ListBlocksRequest) (*dto.BlockListResponse, error) {
	return &dto.BlockListResponse{Blocks: []*dto.BlockResponse{}}, nil
}

func (f *fakeBlocks) Sweep(_ context.Context) (*dto.SweepResponse, error) {
	return &dto.SweepResponse{Deactivated: 2, RanAt: time.Now()}, nil
}

func (f *fakeBlocks) CountActive(_ context.Context) (int64, error) {
	return 7, nil
}

type fakeAdmission struct {
	degraded bool
}

func (f *fakeAdmission) Policies() *dto.PolicyListResponse {
	return &dto.PolicyListResponse{Version: 3}
}

func (f *fakeAdmission) UpdatePolicy(_ context.Context, class string, req dto.UpdatePolicyRequest, actor string) (*dto.PolicyResponse, error) {
	return &dto.PolicyResponse{Class: class}, nil
}

func (f *fakeAdmission) ResetIdentity(_ context.Context, req dto.ResetAdmissionRequest) (int, error) {
	return 2, nil
}

func (f *fakeAdmission) Degraded() bool {
	return f.degraded
}

func newTestApp(reports *fakeReports, blocks *fakeBlocks, admission *fakeAdmission) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: shared.ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(shared.RequestIdent, ratelimit.Identity{IP: "203.0.113.7", BrowserUUID: c.Get(shared.HeaderBrowserUUID)})
		c.Locals(shared.UserID, "mod-1")
		return c.Next()
	})

	rh := NewReportHandler(reports)
	bh := NewBlockHandler(blocks)
	ah := NewAdmissionHandler(admission, reports, blocks)

	app.Post("/reports", rh.SubmitReport)
	app.Post("/reports/:reportId/withdraw", rh.WithdrawReport)
	app.Get("/admin/reports/:reportId", rh.GetReport)
	app.Post("/admin/reports/:reportId/review", rh.ReviewReport)
	app.Post("/admin/blocks", bh.CreateBlock)
	app.Get("/admin/blocks", bh.ListBlocks)
	app.Post("/admin/blocks/:blockId/unblock", bh.Unblock)
	app.Get("/admin/stats", ah.Stats)
	app.Post("/admin/admission/reset", ah.ResetIdentity)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

const validReport = `{
	"browser_uuid": "` + browserUUID + `",
	"target_username": "troll_account",
	"platform": "twitter",
	"content": "you should disappear",
	"category": "harassment"
}`

func TestReportHandler_SubmitReport(t *testing.T) {
	resetAt := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)

	t.Run("created with quota headers", func(t *testing.T) {
		reports := &fakeReports{dec: ratelimit.Decision{
			Allowed: true, Class: ratelimit.ClassReportSubmission, Limit: 10, Remaining: 9, ResetAt: resetAt,
		}}
		app := newTestApp(reports, &fakeBlocks{}, &fakeAdmission{})

		resp, body := doJSON(t, app, "POST", "/reports", validReport, map[string]string{shared.HeaderBrowserUUID: browserUUID})
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
		assert.Equal(t, "10", resp.Header.Get(shared.HeaderRateLimitLimit))
		assert.Equal(t, "9", resp.Header.Get(shared.HeaderRateLimitRemaining))
		assert.Equal(t, "1740834000", resp.Header.Get(shared.HeaderRateLimitReset))
		assert.Empty(t, resp.Header.Get(shared.HeaderRetryAfter))
		assert.Equal(t, "r-1", body["data"].(map[string]interface{})["id"])

		assert.Equal(t, "203.0.113.7", reports.gotIdent.IP)
		assert.Equal(t, browserUUID, reports.gotIdent.BrowserUUID)
		assert.Equal(t, "troll_account", reports.gotReq.TargetUsername)
	})

	t.Run("denied carries retry after", func(t *testing.T) {
		dec := ratelimit.Decision{
			Allowed: false, Class: ratelimit.ClassReportSubmission, Limit: 10, Remaining: 0,
			ResetAt: resetAt, RetryAfter: 1800 * time.Second, DeniedScope: "uuid", ReasonCode: ratelimit.ReasonRateLimited,
		}
		reports := &fakeReports{
			dec: dec,
			err: shared.NewTooManyRequestsError(nil, "Too many reports submitted.").WithData(dto.NewRateLimitInfo(dec)),
		}
		app := newTestApp(reports, &fakeBlocks{}, &fakeAdmission{})

		resp, body := doJSON(t, app, "POST", "/reports", validReport, nil)
		assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "1800", resp.Header.Get(shared.HeaderRetryAfter))
		assert.Equal(t, "0", resp.Header.Get(shared.HeaderRateLimitRemaining))

		data := body["data"].(map[string]interface{})
		assert.Equal(t, "uuid", data["denied_scope"])
		assert.Equal(t, float64(1800), data["retry_after_seconds"])
	})

	t.Run("unparseable body still reaches admission", func(t *testing.T) {
		reports := &fakeReports{
			dec: ratelimit.Decision{Allowed: true, Class: ratelimit.ClassReportSubmission, Limit: 10, Remaining: 8},
			err: shared.NewValidationError(nil, "Validation failed"),
		}
		app := newTestApp(reports, &fakeBlocks{}, &fakeAdmission{})

		resp, _ := doJSON(t, app, "POST", "/reports", `{not json`, nil)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "8", resp.Header.Get(shared.HeaderRateLimitRemaining))
		assert.Empty(t, reports.gotReq.TargetUsername)
	})
}

func TestReportHandler_WithdrawReport(t *testing.T) {
	reports := &fakeReports{}
	app := newTestApp(reports, &fakeBlocks{}, &fakeAdmission{})

	resp, _ := doJSON(t, app, "POST", "/reports/r-1/withdraw", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, reports.gotUUID)

	resp, body := doJSON(t, app, "POST", "/reports/r-1/withdraw", "", map[string]string{shared.HeaderBrowserUUID: browserUUID})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, browserUUID, reports.gotUUID)
	assert.Equal(t, "Report withdrawn", body["message"])
}

func TestReportHandler_ReviewReport(t *testing.T) {
	reports := &fakeReports{}
	app := newTestApp(reports, &fakeBlocks{}, &fakeAdmission{})

	t.Run("rejects unknown decision", func(t *testing.T) {
		resp, body := doJSON(t, app, "POST", "/admin/reports/r-1/review", `{"decision":"maybe"}`, nil)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Validation failed", body["message"])
		assert.Len(t, body["errors"], 1)
	})

	t.Run("records reviewer from token", func(t *testing.T) {
		resp, _ := doJSON(t, app, "POST", "/admin/reports/r-1/review", `{"decision":"confirmed","note":"clear"}`, nil)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{"mod-1:confirmed"}, reports.gotReviews)
	})

	t.Run("service errors map to status", func(t *testing.T) {
		resp, body := doJSON(t, app, "GET", "/admin/reports/missing", "", nil)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", body["error"])
	})
}

func TestBlockHandler_CreateBlock(t *testing.T) {
	const payload = `{"target_username":"troll_account","platform":"twitter","kind":"temporary","duration_minutes":60}`

	t.Run("new block", func(t *testing.T) {
		blocks := &fakeBlocks{}
		app := newTestApp(&fakeReports{}, blocks, &fakeAdmission{})
		resp, _ := doJSON(t, app, "POST", "/admin/blocks", payload, nil)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
		assert.Equal(t, "mod-1", blocks.gotActor)
	})

	t.Run("existing block", func(t *testing.T) {
		app := newTestApp(&fakeReports{}, &fakeBlocks{existing: true}, &fakeAdmission{})
		resp, body := doJSON(t, app, "POST", "/admin/blocks", payload, nil)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "Target is already blocked", body["message"])
	})

	t.Run("validation", func(t *testing.T) {
		app := newTestApp(&fakeReports{}, &fakeBlocks{}, &fakeAdmission{})
		resp, _ := doJSON(t, app, "POST", "/admin/blocks", `{"target_username":"troll_account","platform":"myspace","kind":"temporary"}`, nil)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestBlockHandler_Unblock(t *testing.T) {
	blocks := &fakeBlocks{}
	app := newTestApp(&fakeReports{}, blocks, &fakeAdmission{})

	resp, _ := doJSON(t, app, "POST", "/admin/blocks/b-1/unblock", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotNil(t, blocks.gotUnblock)
	assert.Empty(t, blocks.gotUnblock.Reason)

	resp, _ = doJSON(t, app, "POST", "/admin/blocks/b-1/unblock", `{"reason":"appeal accepted"}`, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "appeal accepted", blocks.gotUnblock.Reason)
}

func TestBlockHandler_ListBlocks(t *testing.T) {
	app := newTestApp(&fakeReports{}, &fakeBlocks{}, &fakeAdmission{})

	resp, _ := doJSON(t, app, "GET", "/admin/blocks?platform=twitter&active=true", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, "GET", "/admin/blocks?limit=500", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAdmissionHandler_Stats(t *testing.T) {
	app := newTestApp(&fakeReports{}, &fakeBlocks{}, &fakeAdmission{degraded: true})

	resp, body := doJSON(t, app, "GET", "/admin/stats", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(7), data["active_blocks"])
	assert.Equal(t, true, data["store_degraded"])
	assert.Equal(t, float64(3), data["policy_version"])
	assert.Equal(t, float64(4), data["reports_by_status"].(map[string]interface{})["pending"])
}

func TestAdmissionHandler_ResetIdentity(t *testing.T) {
	app := newTestApp(&fakeReports{}, &fakeBlocks{}, &fakeAdmission{})

	resp, _ := doJSON(t, app, "POST", "/admin/admission/reset", `{"ip":"203.0.113.7"}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, app, "POST", "/admin/admission/reset", `{"endpoint_class":"login","ip":"203.0.113.7"}`, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["data"].(map[string]interface{})["keys_cleared"])
}
