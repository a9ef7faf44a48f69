package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// UnlockHandler serves the reviewer side of the unlock workflow.
type UnlockHandler struct {
	unlockService *service.UnlockService
	log           zerolog.Logger
}

// NewUnlockHandler creates a new UnlockHandler.
func NewUnlockHandler(unlockService *service.UnlockService, log zerolog.Logger) *UnlockHandler {
	return &UnlockHandler{
		unlockService: unlockService,
		log:           log.With().Str("component", "unlock_handler").Logger(),
	}
}

// ListUnlockRequests godoc
// GET /api/v1/admin/exams/:id/unlock-requests?status=PENDING
func (h *UnlockHandler) ListUnlockRequests(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.FailCode(c, response.ErrInvalidID)
		return
	}

	status := model.UnlockStatus(c.Query("status"))
	switch status {
	case "", model.UnlockStatusPending, model.UnlockStatusApproved, model.UnlockStatusRejected:
	default:
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"status": "status must be one of PENDING APPROVED REJECTED"})
		return
	}

	list, err := h.unlockService.List(c.Request.Context(), examID, status)
	if err != nil {
		failWith(c, h.log, err, "List unlock requests failed")
		return
	}
	if list == nil {
		list = []model.PendingUnlock{}
	}

	response.Success(c, http.StatusOK, gin.H{"unlock_requests": list})
}

// ApproveUnlock godoc
// POST /api/v1/admin/unlock-requests/:id/approve
// Returns the attempt to IN_PROGRESS, optionally resetting its counters.
func (h *UnlockHandler) ApproveUnlock(c *gin.Context) {
	claims, requestID, ok := reviewerRequest(c)
	if !ok {
		return
	}

	var req model.ApproveUnlockRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.unlockService.Approve(c.Request.Context(), requestID, claims.UserID, req)
	if err != nil {
		failWith(c, h.log, err, "Approve unlock failed")
		return
	}

	response.Success(c, http.StatusOK, state)
}

// RejectUnlock godoc
// POST /api/v1/admin/unlock-requests/:id/reject
func (h *UnlockHandler) RejectUnlock(c *gin.Context) {
	claims, requestID, ok := reviewerRequest(c)
	if !ok {
		return
	}

	var req model.RejectUnlockRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.unlockService.Reject(c.Request.Context(), requestID, claims.UserID, req)
	if err != nil {
		failWith(c, h.log, err, "Reject unlock failed")
		return
	}

	response.Success(c, http.StatusOK, state)
}

func reviewerRequest(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims, ok := claimsOrFail(c)
	if !ok {
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.FailCode(c, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, id, true
}
