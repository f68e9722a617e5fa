package controller

import (
	"errors"

	"github.com/gin-gonic/gin"

	"arbiter/internal/contest/service"
	judgemodel "arbiter/internal/judge/model"
	judgerepo "arbiter/internal/judge/repository"
	appErr "arbiter/pkg/errors"
	"arbiter/pkg/utils/response"
)

// SubmissionController handles submission HTTP endpoints.
type SubmissionController struct {
	submissions *service.SubmissionService
	repo        judgerepo.SubmissionRepository
	executions  judgerepo.ExecutionRepository
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(submissions *service.SubmissionService, repo judgerepo.SubmissionRepository, executions judgerepo.ExecutionRepository) *SubmissionController {
	return &SubmissionController{submissions: submissions, repo: repo, executions: executions}
}

// Create handles submission intake.
func (h *SubmissionController) Create(c *gin.Context) {
	var req CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	sub, err := h.submissions.Create(c.Request.Context(), service.CreateSubmissionInput{
		ContestID:  req.ContestID,
		ProblemID:  req.ProblemID,
		MemberID:   req.MemberID,
		LanguageID: req.LanguageID,
		SourceCode: req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionView(sub))
}

// Get returns one submission with its execution history.
func (h *SubmissionController) Get(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	sub, err := h.repo.GetByID(c.Request.Context(), nil, submissionID)
	if err != nil {
		if errors.Is(err, judgerepo.ErrSubmissionNotFound) {
			response.Error(c, appErr.New(appErr.SubmissionNotFound))
			return
		}
		response.Error(c, err)
		return
	}
	execs, err := h.executions.ListBySubmission(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	view := SubmissionDetail{SubmissionView: toSubmissionView(sub)}
	for _, e := range execs {
		view.Executions = append(view.Executions, ExecutionView{
			ID:              e.ID,
			Answer:          string(e.Answer),
			TotalTestcases:  e.TotalTestcases,
			LastTestcaseHit: e.LastTestcaseHit,
			CompileLog:      e.CompileLog,
			ObservedOutput:  e.ObservedOutput,
			CreatedAt:       e.CreatedAt.Unix(),
		})
	}
	response.Success(c, view)
}

// Rerun enqueues a fresh judging attempt for a submission.
func (h *SubmissionController) Rerun(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	if err := h.submissions.Rerun(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Rerun enqueued", gin.H{"submission_id": submissionID})
}

// CreateSubmissionRequest defines the intake payload.
type CreateSubmissionRequest struct {
	ContestID  int64  `json:"contest_id" binding:"required"`
	ProblemID  int64  `json:"problem_id" binding:"required"`
	MemberID   int64  `json:"member_id" binding:"required"`
	LanguageID string `json:"language_id" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// SubmissionView is the externally visible submission shape.
type SubmissionView struct {
	SubmissionID string `json:"submission_id"`
	ContestID    int64  `json:"contest_id"`
	ProblemID    int64  `json:"problem_id"`
	MemberID     int64  `json:"member_id"`
	LanguageID   string `json:"language_id"`
	Status       string `json:"status"`
	Answer       string `json:"answer"`
	Frozen       bool   `json:"frozen"`
	CreatedAt    int64  `json:"created_at"`
}

// SubmissionDetail bundles a submission with its execution records.
type SubmissionDetail struct {
	SubmissionView
	Executions []ExecutionView `json:"executions,omitempty"`
}

// ExecutionView is one diagnostic record.
type ExecutionView struct {
	ID              string `json:"id"`
	Answer          string `json:"answer"`
	TotalTestcases  int    `json:"total_testcases"`
	LastTestcaseHit int    `json:"last_testcase_hit"`
	CompileLog      string `json:"compile_log,omitempty"`
	ObservedOutput  string `json:"observed_output,omitempty"`
	CreatedAt       int64  `json:"created_at"`
}

func toSubmissionView(sub *judgemodel.Submission) SubmissionView {
	return SubmissionView{
		SubmissionID: sub.ID,
		ContestID:    sub.ContestID,
		ProblemID:    sub.ProblemID,
		MemberID:     sub.MemberID,
		LanguageID:   sub.LanguageID,
		Status:       string(sub.Status),
		Answer:       string(sub.Answer),
		Frozen:       sub.Frozen,
		CreatedAt:    sub.CreatedAt.Unix(),
	}
}
