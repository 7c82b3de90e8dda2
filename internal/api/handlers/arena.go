package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Ayash-Bera/arena/internal/health"
	"github.com/Ayash-Bera/arena/internal/middleware"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/Ayash-Bera/arena/internal/services"
	"github.com/Ayash-Bera/arena/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type ArenaHandler struct {
	arena  *services.ArenaService
	health *health.HealthChecker
	logger *logrus.Logger
}

func NewArenaHandler(arena *services.ArenaService, checker *health.HealthChecker, logger *logrus.Logger) *ArenaHandler {
	return &ArenaHandler{arena: arena, health: checker, logger: logger}
}

// HandleCompete runs one competition for the calling user.
func (h *ArenaHandler) HandleCompete(c *gin.Context) {
	var req models.CompeteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid compete request")
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	req.UserID = c.GetHeader(middleware.UserIDHeader)

	resp, err := h.arena.Compete(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Competition failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Competition completed", resp)
}

// HandleFeedback resolves the pending learning applications of a competition.
func (h *ArenaHandler) HandleFeedback(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	resp, err := h.arena.ResolveFeedback(c.Request.Context(), c.Param("id"), req.Outcome)
	if err != nil {
		h.fail(c, "Failed to record feedback", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Feedback recorded", resp)
}

func (h *ArenaHandler) HandleListLearnings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	filter := models.LearningFilter{
		State:   models.LearningState(c.Query("state")),
		Scope:   models.LearningScope(c.Query("scope")),
		AgentID: c.Query("agent_id"),
		Limit:   limit,
	}

	learnings, err := h.arena.ListLearnings(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "Failed to list learnings", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Learnings retrieved", learnings)
}

func (h *ArenaHandler) HandleGetLearning(c *gin.Context) {
	l, err := h.arena.GetLearning(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get learning", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Learning retrieved", l)
}

// HandleApprove approves a learning on behalf of the X-User-ID caller.
func (h *ArenaHandler) HandleApprove(c *gin.Context) {
	l, err := h.arena.ApproveLearning(c.Request.Context(), c.Param("id"), c.GetHeader(middleware.UserIDHeader))
	if err != nil {
		h.fail(c, "Failed to approve learning", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Learning approved", l)
}

func (h *ArenaHandler) HandleReject(c *gin.Context) {
	var req models.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	l, err := h.arena.RejectLearning(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, "Failed to reject learning", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Learning rejected", l)
}

func (h *ArenaHandler) HandleRepropose(c *gin.Context) {
	l, err := h.arena.ReproposeLearning(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to repropose learning", err)
		return
	}
	utils.SuccessResponse(c, http.StatusCreated, "Learning reproposed", l)
}

func (h *ArenaHandler) HandleSweep(c *gin.Context) {
	resp, err := h.arena.Sweep(c.Request.Context())
	if err != nil {
		h.fail(c, "Learning sweep failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Learning sweep completed", resp)
}

func (h *ArenaHandler) HandleExperts(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Experts retrieved", h.arena.Experts())
}

func (h *ArenaHandler) HandleExpertStats(c *gin.Context) {
	stats, err := h.arena.ExpertStats(c.Request.Context(), c.Query("category"))
	if err != nil {
		h.fail(c, "Failed to get expert stats", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Expert stats retrieved", stats)
}

// HandleHealth reports 503 only when a critical dependency is down.
func (h *ArenaHandler) HandleHealth(c *gin.Context) {
	overall := h.health.CheckAll(c.Request.Context())

	statuses := make(map[string]string, len(overall.Services))
	for _, s := range overall.Services {
		statuses[s.Name] = s.Status
	}

	status := http.StatusOK
	if overall.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, models.HealthResponse{
		Status:    overall.Status,
		Service:   "arena",
		Timestamp: time.Now().Format(time.RFC3339),
		Services:  statuses,
	})
}

// fail maps the error taxonomy onto HTTP status codes.
func (h *ArenaHandler) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"path":       c.FullPath(),
		"status":     status,
		"request_id": c.GetString(middleware.RequestIDKey),
	})
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Warn(message)
	}

	if errors.Is(err, models.ErrNoViableResponse) {
		// The client gets one fixed message; per-expert reasons stay in the logs.
		utils.ErrorResponse(c, status, models.ErrNoViableResponse.Error(), nil)
		return
	}
	if status == http.StatusInternalServerError {
		utils.ErrorResponse(c, status, message, nil)
		return
	}
	utils.ErrorResponse(c, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNoViableResponse):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, models.ErrUnknownExpert):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrLearningNotFound), errors.Is(err, models.ErrCompetitionUnknown):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
