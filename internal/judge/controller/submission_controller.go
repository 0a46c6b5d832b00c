package controller

import (
	"context"
	"strconv"
	"strings"

	"codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/service"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmissionService is the judge surface the HTTP layer needs.
type SubmissionService interface {
	Submit(ctx context.Context, input service.SubmitInput) (*model.Submission, error)
	GetStatus(ctx context.Context, submissionID string) (model.StatusView, error)
	GetResult(ctx context.Context, submissionID string, role model.Role) (*model.Submission, error)
	ListAttempts(ctx context.Context, userID, problemID int64, limit int) ([]model.Submission, error)
	TestExample(ctx context.Context, input service.ExampleInput) (model.TestResult, error)
}

// SubmissionController handles submission HTTP endpoints.
type SubmissionController struct {
	svc     SubmissionService
	watcher *StatusWatcher
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(svc SubmissionService, watchCfg WatchConfig) *SubmissionController {
	return &SubmissionController{svc: svc, watcher: NewStatusWatcher(svc, watchCfg)}
}

// Register mounts the routes on r. auth guards every route.
func (h *SubmissionController) Register(r gin.IRouter, auth gin.HandlerFunc) {
	submissions := r.Group("/api/v1/submissions", auth)
	submissions.POST("", h.Create)
	submissions.GET("/:id", h.GetResult)
	submissions.GET("/:id/status", h.GetStatus)
	submissions.GET("/:id/watch", h.watcher.Watch)

	problems := r.Group("/api/v1/problems", auth)
	problems.GET("/:id/submissions", h.ListAttempts)
	problems.POST("/:id/examples/:index/test", h.TestExample)
}

// Create handles submission requests. The user comes from the token, never the body.
func (h *SubmissionController) Create(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Unauthorized(c, "Missing identity")
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	submission, err := h.svc.Submit(c.Request.Context(), service.SubmitInput{
		UserID:     identity.UserID,
		ProblemID:  req.ProblemID,
		Language:   req.Language,
		SourceCode: req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, SubmitResponse{
		SubmissionID: submission.ID,
		Status:       submission.Status,
		Ordinal:      submission.Ordinal,
		SubmittedAt:  submission.SubmittedAt,
	})
}

// GetStatus returns the polling projection of one submission. Students may
// only poll their own submissions.
func (h *SubmissionController) GetStatus(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Unauthorized(c, "Missing identity")
		return
	}
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	view, err := h.svc.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorizeOwner(identity, view.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// GetResult returns the full record. Students may only read their own
// submissions and never see hidden test results.
func (h *SubmissionController) GetResult(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Unauthorized(c, "Missing identity")
		return
	}
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	role := model.ParseRole(identity.Role)
	submission, err := h.svc.GetResult(c.Request.Context(), submissionID, role)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorizeOwner(identity, submission.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, submission)
}

// ListAttempts returns the caller's attempts on a problem.
func (h *SubmissionController) ListAttempts(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Unauthorized(c, "Missing identity")
		return
	}
	problemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.BadRequest(c, "Invalid limit")
			return
		}
	}
	list, err := h.svc.ListAttempts(c.Request.Context(), identity.UserID, problemID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]AttemptItem, 0, len(list))
	for _, s := range list {
		items = append(items, AttemptItem{
			SubmissionID: s.ID,
			Ordinal:      s.Ordinal,
			Language:     s.Language,
			Status:       s.Status,
			Score:        s.Score,
			SubmittedAt:  s.SubmittedAt,
			CompletedAt:  s.CompletedAt,
		})
	}
	response.Success(c, AttemptListResponse{Items: items})
}

// TestExample runs code against one public example without storing anything.
func (h *SubmissionController) TestExample(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		response.BadRequest(c, "Invalid example index")
		return
	}
	var req TestExampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	result, err := h.svc.TestExample(c.Request.Context(), service.ExampleInput{
		ProblemID:    problemID,
		Language:     req.Language,
		SourceCode:   req.SourceCode,
		ExampleIndex: index,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// authorizeOwner lets teachers and admins through and limits everyone else to
// their own submissions.
func authorizeOwner(identity middleware.Identity, ownerID int64) error {
	if model.ParseRole(identity.Role).CanSeeHidden() || identity.UserID == ownerID {
		return nil
	}
	return appErr.New(appErr.Forbidden).WithMessage("submission belongs to another user")
}
