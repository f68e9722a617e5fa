package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	contestrepo "arbiter/internal/contest/repository"
	"arbiter/internal/contest/service"
	"arbiter/internal/ranking"
	"arbiter/pkg/utils/response"
)

// ContestController handles contest administration and leaderboard reads.
type ContestController struct {
	contests contestrepo.ContestRepository
	freezer  *service.FreezeService
	rankings *ranking.Engine
}

// NewContestController creates a new ContestController.
func NewContestController(contests contestrepo.ContestRepository, freezer *service.FreezeService, rankings *ranking.Engine) *ContestController {
	return &ContestController{contests: contests, freezer: freezer, rankings: rankings}
}

// Leaderboard returns the contest leaderboard. For a frozen contest
// this is the freeze-time snapshot.
func (h *ContestController) Leaderboard(c *gin.Context) {
	contestID, ok := contestParam(c)
	if !ok {
		return
	}
	board, err := h.rankings.Build(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, board)
}

// Freeze pins the public leaderboard.
func (h *ContestController) Freeze(c *gin.Context) {
	contestID, ok := contestParam(c)
	if !ok {
		return
	}
	if err := h.freezer.Freeze(c.Request.Context(), contestID); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Leaderboard frozen", gin.H{"contest_id": contestID})
}

// Unfreeze releases the freeze window.
func (h *ContestController) Unfreeze(c *gin.Context) {
	contestID, ok := contestParam(c)
	if !ok {
		return
	}
	if err := h.freezer.Unfreeze(c.Request.Context(), contestID); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Leaderboard unfrozen", gin.H{"contest_id": contestID})
}

// SetAutoJudge toggles automatic dispatch for a contest.
func (h *ContestController) SetAutoJudge(c *gin.Context) {
	contestID, ok := contestParam(c)
	if !ok {
		return
	}
	var req AutoJudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if err := h.contests.SetAutoJudge(c.Request.Context(), contestID, req.Enabled); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"contest_id": contestID, "auto_judge": req.Enabled})
}

// AutoJudgeRequest toggles dispatch on submission creation.
type AutoJudgeRequest struct {
	Enabled bool `json:"enabled"`
}

func contestParam(c *gin.Context) (int64, bool) {
	contestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || contestID <= 0 {
		response.BadRequest(c, "Invalid contest id")
		return 0, false
	}
	return contestID, true
}
