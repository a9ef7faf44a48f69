package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// errorCodes maps service sentinels to API error codes. Anything not
// listed is an internal error.
var errorCodes = []struct {
	err  error
	code response.ErrCode
}{
	{service.ErrInvalidCredentials, response.ErrInvalidCredentials},
	{service.ErrSessionAlreadyActive, response.ErrSessionActive},
	{service.ErrExamNotFound, response.ErrNotFound},
	{service.ErrNotEligible, response.ErrNotEligible},
	{service.ErrAttemptNotFound, response.ErrAttemptNotStarted},
	{service.ErrAttemptLocked, response.ErrAttemptLocked},
	{service.ErrAttemptSubmitted, response.ErrAttemptSubmitted},
	{service.ErrQuestionNotInExam, response.ErrQuestionNotInExam},
	{service.ErrAttemptNotLocked, response.ErrAttemptNotLocked},
	{service.ErrUnlockAlreadyPending, response.ErrUnlockPending},
	{service.ErrUnlockNotFound, response.ErrNotFound},
	{service.ErrUnlockResolved, response.ErrUnlockResolved},
	{service.ErrHiddenTestCase, response.ErrHiddenTestCase},
	{service.ErrUnknownTestCase, response.ErrInvalidPayload},
	{service.ErrNotCodingQuestion, response.ErrInvalidPayload},
	{service.ErrUnsupportedLang, response.ErrInvalidPayload},
	{service.ErrExecutionTimeout, response.ErrExecutionTimeout},
	{service.ErrExecutionFailed, response.ErrExecutionFailed},
	{service.ErrExecutorMalformed, response.ErrExecutionFailed},
}

// codeFor returns the API error code for a service error.
func codeFor(err error) response.ErrCode {
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return response.ErrInternal
}

// failWith writes the error response for err, logging unexpected failures.
func failWith(c *gin.Context, log zerolog.Logger, err error, msg string) {
	code := codeFor(err)
	if code == response.ErrInternal {
		log.Error().Err(err).
			Str("request_id", c.GetString(response.ContextKeyRequestID)).
			Str("path", c.FullPath()).
			Msg(msg)
	}
	response.FailCode(c, code)
}

func claimsOrFail(c *gin.Context) (*service.Claims, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.FailCode(c, response.ErrTokenRequired)
		return nil, false
	}
	return claims, true
}

// studentExam resolves the caller and the :exam_id param. It writes the
// error response itself and reports false when the handler should stop.
func studentExam(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims, ok := claimsOrFail(c)
	if !ok {
		return nil, uuid.Nil, false
	}
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.FailCode(c, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, examID, true
}
