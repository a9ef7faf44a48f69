package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// AttemptHandler handles the student-facing exam endpoints.
type AttemptHandler struct {
	examService      *service.ExamService
	attemptService   *service.AttemptService
	unlockService    *service.UnlockService
	executionService *service.ExecutionService
	log              zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	examService *service.ExamService,
	attemptService *service.AttemptService,
	unlockService *service.UnlockService,
	executionService *service.ExecutionService,
	log zerolog.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		examService:      examService,
		attemptService:   attemptService,
		unlockService:    unlockService,
		executionService: executionService,
		log:              log.With().Str("component", "attempt_handler").Logger(),
	}
}

// GetLobby godoc
// GET /api/v1/student/lobby
// Returns the open exams targeted at the student's class.
func (h *AttemptHandler) GetLobby(c *gin.Context) {
	claims, ok := claimsOrFail(c)
	if !ok {
		return
	}

	exams, err := h.examService.Lobby(c.Request.Context(), claims.ClassID)
	if err != nil {
		failWith(c, h.log, err, "Lobby lookup failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// StartExam godoc
// POST /api/v1/student/exams/:exam_id/start
// Creates the attempt, or returns the existing one on re-entry.
func (h *AttemptHandler) StartExam(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}

	res, err := h.attemptService.Start(c.Request.Context(), examID, claims.UserID, claims.ClassID)
	if err != nil {
		failWith(c, h.log, err, "Start exam failed")
		return
	}

	response.Success(c, http.StatusOK, res)
}

// GetState godoc
// GET /api/v1/student/exams/:exam_id/state
func (h *AttemptHandler) GetState(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}

	state, err := h.attemptService.State(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err, "Load attempt state failed")
		return
	}

	response.Success(c, http.StatusOK, state)
}

// SaveAnswer godoc
// PUT /api/v1/student/exams/:exam_id/answers
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}

	var req model.Answer
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attemptService.SaveAnswer(c.Request.Context(), examID, claims.UserID, req); err != nil {
		failWith(c, h.log, err, "Save answer failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"question_id": req.QuestionID, "status": "saved"})
}

// SubmitExam godoc
// POST /api/v1/student/exams/:exam_id/submit
// Finalizes the attempt. Repeated calls return the stored result.
func (h *AttemptHandler) SubmitExam(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attemptService.Submit(c.Request.Context(), examID, claims.UserID, req)
	if err != nil {
		failWith(c, h.log, err, "Submit failed")
		return
	}

	response.Success(c, http.StatusOK, res)
}

// LogViolation godoc
// POST /api/v1/student/exams/:exam_id/violations
// Counts the violation and returns the enforcement the server decided.
func (h *AttemptHandler) LogViolation(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}

	var req model.ViolationReport
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	outcome, err := h.attemptService.LogViolation(c.Request.Context(), examID, claims.UserID, req)
	if err != nil {
		failWith(c, h.log, err, "Log violation failed")
		return
	}

	response.Success(c, http.StatusOK, outcome)
}

// RequestUnlock godoc
// POST /api/v1/student/exams/:exam_id/unlock-requests
func (h *AttemptHandler) RequestUnlock(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}

	var req model.CreateUnlockRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	u, err := h.unlockService.Request(c.Request.Context(), examID, claims.UserID, req.Reason)
	if err != nil {
		failWith(c, h.log, err, "Unlock request failed")
		return
	}

	response.Success(c, http.StatusCreated, u)
}

// RunCode godoc
// POST /api/v1/student/exams/:exam_id/run
// Executes code once against custom input.
func (h *AttemptHandler) RunCode(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}

	var req model.RunRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.executionService.Run(c.Request.Context(), examID, claims.UserID, req)
	if err != nil {
		failWith(c, h.log, err, "Code run failed")
		return
	}

	response.Success(c, http.StatusOK, res)
}

// RunTests godoc
// POST /api/v1/student/exams/:exam_id/run-tests
// Executes code against the question's visible test cases.
func (h *AttemptHandler) RunTests(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}

	var req model.TestRunRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.executionService.RunTests(c.Request.Context(), examID, claims.UserID, req)
	if err != nil {
		failWith(c, h.log, err, "Test run failed")
		return
	}

	response.Success(c, http.StatusOK, res)
}
