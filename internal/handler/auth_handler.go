package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
	log         zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log.With().Str("component", "auth_handler").Logger(),
	}
}

func studentView(s *model.Student) gin.H {
	return gin.H{
		"id":       s.ID,
		"nisn":     s.NISN,
		"name":     s.Name,
		"class_id": s.ClassID,
	}
}

// StudentLogin godoc
// POST /api/v1/auth/student/login
// Validates NISN + password, rejects a second concurrent session, returns JWT.
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req model.StudentLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, student, err := h.authService.LoginStudent(c.Request.Context(), req)
	if err != nil {
		failWith(c, h.log, err, "Student login failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":   token,
		"student": studentView(student),
	})
}

// AdminLogin godoc
// POST /api/v1/auth/admin/login
// Validates email + password, returns JWT with permissions.
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req model.AdminLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, admin, err := h.authService.LoginAdmin(c.Request.Context(), req)
	if err != nil {
		failWith(c, h.log, err, "Admin login failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"admin": admin,
	})
}

// GetStudentProfile godoc
// GET /api/v1/auth/student/me
func (h *AuthHandler) GetStudentProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.FailCode(c, response.ErrTokenRequired)
		return
	}

	student, err := h.authService.StudentProfile(c.Request.Context(), claims.UserID)
	if err != nil {
		response.FailCode(c, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"student": studentView(student)})
}

// GetAdminProfile godoc
// GET /api/v1/auth/admin/me
func (h *AuthHandler) GetAdminProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.FailCode(c, response.ErrTokenRequired)
		return
	}

	admin, err := h.authService.AdminProfile(c.Request.Context(), claims.UserID)
	if err != nil {
		response.FailCode(c, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"admin": admin})
}

// StudentLogout godoc
// POST /api/v1/auth/student/logout
func (h *AuthHandler) StudentLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.FailCode(c, response.ErrTokenRequired)
		return
	}

	if err := h.authService.ResetStudentSession(c.Request.Context(), claims.UserID); err != nil {
		h.log.Error().Err(err).Int("student_id", claims.UserID).Msg("Logout failed")
		response.FailCode(c, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ResetStudentSession godoc
// DELETE /api/v1/admin/students/:id/session
// Lets a proctor release a student stuck on another device.
func (h *AuthHandler) ResetStudentSession(c *gin.Context) {
	studentID, err := strconv.Atoi(c.Param("id"))
	if err != nil || studentID <= 0 {
		response.FailCode(c, response.ErrInvalidID)
		return
	}

	if err := h.authService.ResetStudentSession(c.Request.Context(), studentID); err != nil {
		h.log.Error().Err(err).Int("student_id", studentID).Msg("Session reset failed")
		response.FailCode(c, response.ErrInternal)
		return
	}

	if claims := middleware.GetClaims(c); claims != nil {
		h.log.Info().Int("student_id", studentID).Int("reviewer_id", claims.UserID).Msg("Student session reset")
	}
	response.Success(c, http.StatusOK, gin.H{})
}
