package service

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Attempt and unlock errors.
var (
	ErrNotEligible          = errors.New("student is not eligible to start this exam")
	ErrAttemptNotFound      = errors.New("attempt not started")
	ErrAttemptLocked        = errors.New("attempt is locked")
	ErrAttemptSubmitted     = errors.New("attempt is already submitted")
	ErrQuestionNotInExam    = errors.New("question is not part of this exam")
	ErrAttemptNotLocked     = errors.New("attempt is not locked")
	ErrUnlockAlreadyPending = errors.New("an unlock request is already pending")
	ErrUnlockNotFound       = errors.New("unlock request not found")
	ErrUnlockResolved       = errors.New("unlock request already resolved")
)

// statusErr maps a non-interactive attempt status to its error.
func statusErr(status model.AttemptStatus) error {
	switch status {
	case model.AttemptStatusLocked:
		return ErrAttemptLocked
	case model.AttemptStatusSubmitted:
		return ErrAttemptSubmitted
	case model.AttemptStatusInProgress:
		return nil
	default:
		return ErrAttemptNotFound
	}
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}
