package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// UnlockService runs the lock -> request -> review sub-flow.
type UnlockService struct {
	attemptRepo *repository.AttemptRepository
	unlockRepo  *repository.UnlockRepository
	events      *EventPublisher
	log         zerolog.Logger
}

// NewUnlockService creates a new UnlockService.
func NewUnlockService(
	attemptRepo *repository.AttemptRepository,
	unlockRepo *repository.UnlockRepository,
	events *EventPublisher,
	log zerolog.Logger,
) *UnlockService {
	return &UnlockService{
		attemptRepo: attemptRepo,
		unlockRepo:  unlockRepo,
		events:      events,
		log:         log.With().Str("component", "unlock_service").Logger(),
	}
}

// Request files a PENDING unlock request for a locked attempt.
func (s *UnlockService) Request(ctx context.Context, examID uuid.UUID, studentID int, reason string) (*model.UnlockRequest, error) {
	var (
		attempt *model.Attempt
		req     *model.UnlockRequest
	)
	err := s.attemptRepo.InTx(ctx, func(tx pgx.Tx) error {
		a, err := s.attemptRepo.LockByExamAndStudent(ctx, tx, examID, studentID)
		if err != nil {
			return notFound(err, ErrAttemptNotFound)
		}
		switch a.Status {
		case model.AttemptStatusLocked:
		case model.AttemptStatusSubmitted:
			return ErrAttemptSubmitted
		default:
			return ErrAttemptNotLocked
		}
		attempt = a

		latest, err := s.unlockRepo.Latest(ctx, tx, a.ID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("load unlock request: %w", err)
		}
		if latest != nil && latest.Status == model.UnlockStatusPending {
			return ErrUnlockAlreadyPending
		}

		req = &model.UnlockRequest{AttemptID: a.ID, Reason: strings.TrimSpace(reason)}
		if err := s.unlockRepo.Create(ctx, tx, req); err != nil {
			if errors.Is(err, repository.ErrDuplicatePendingUnlock) {
				return ErrUnlockAlreadyPending
			}
			return fmt.Errorf("create unlock request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.AttemptState(ctx, stateOf(attempt, req, time.Now()))
	s.events.Monitor(ctx, examID, model.MonitorEvent{
		Kind:          model.MonitorUnlockRequested,
		AttemptID:     attempt.ID,
		StudentID:     studentID,
		Status:        attempt.Status,
		UnlockRequest: req,
	})
	return req, nil
}

// List returns an exam's unlock requests, optionally filtered by status.
func (s *UnlockService) List(ctx context.Context, examID uuid.UUID, status model.UnlockStatus) ([]model.PendingUnlock, error) {
	return s.unlockRepo.ListByExam(ctx, examID, status)
}

// Approve returns the attempt to IN_PROGRESS. The deadline moves forward by
// the time spent locked, and the counters take the reviewer's values when given.
func (s *UnlockService) Approve(ctx context.Context, requestID uuid.UUID, reviewerID int, in model.ApproveUnlockRequest) (*model.AttemptState, error) {
	return s.resolve(ctx, requestID, reviewerID, in.Note, func(a *model.Attempt, now time.Time) error {
		if a.Status != model.AttemptStatusLocked {
			return ErrAttemptNotLocked
		}
		if a.LockedAt != nil {
			a.DeadlineAt = a.DeadlineAt.Add(now.Sub(*a.LockedAt))
		}
		a.LockedAt = nil
		a.Status = model.AttemptStatusInProgress
		if in.TabSwitchCount != nil {
			a.TabSwitchCount = *in.TabSwitchCount
		}
		if in.FullscreenExitCount != nil {
			a.FullscreenExitCount = *in.FullscreenExitCount
		}
		return nil
	}, model.UnlockStatusApproved)
}

// Reject leaves the attempt locked; the student may file a new request.
func (s *UnlockService) Reject(ctx context.Context, requestID uuid.UUID, reviewerID int, in model.RejectUnlockRequest) (*model.AttemptState, error) {
	return s.resolve(ctx, requestID, reviewerID, in.Note, nil, model.UnlockStatusRejected)
}

func (s *UnlockService) resolve(
	ctx context.Context,
	requestID uuid.UUID,
	reviewerID int,
	note string,
	apply func(a *model.Attempt, now time.Time) error,
	decision model.UnlockStatus,
) (*model.AttemptState, error) {
	var (
		attempt *model.Attempt
		req     *model.UnlockRequest
	)
	now := time.Now()
	err := s.attemptRepo.InTx(ctx, func(tx pgx.Tx) error {
		u, err := s.unlockRepo.LockByID(ctx, tx, requestID)
		if err != nil {
			return notFound(err, ErrUnlockNotFound)
		}
		if u.Status != model.UnlockStatusPending {
			return ErrUnlockResolved
		}
		a, err := s.attemptRepo.LockByID(ctx, tx, u.AttemptID)
		if err != nil {
			return fmt.Errorf("lock attempt: %w", err)
		}

		if apply != nil {
			if err := apply(a, now); err != nil {
				return err
			}
			if err := s.attemptRepo.Save(ctx, tx, a); err != nil {
				return fmt.Errorf("save attempt: %w", err)
			}
		}

		u.Status = decision
		u.ResolvedAt = &now
		u.ReviewerID = &reviewerID
		if note = strings.TrimSpace(note); note != "" {
			u.ReviewerNote = &note
		}
		if err := s.unlockRepo.Resolve(ctx, tx, u); err != nil {
			return fmt.Errorf("resolve unlock request: %w", err)
		}
		attempt, req = a, u
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.UnlockDecisions.WithLabelValues(string(decision)).Inc()
	state := stateOf(attempt, req, now)
	s.events.AttemptState(ctx, state)
	s.events.Monitor(ctx, attempt.ExamID, model.MonitorEvent{
		Kind:          model.MonitorUnlockResolved,
		AttemptID:     attempt.ID,
		StudentID:     attempt.StudentID,
		Status:        attempt.Status,
		UnlockRequest: req,
	})
	s.log.Info().
		Str("request_id", requestID.String()).
		Str("decision", string(decision)).
		Int("reviewer_id", reviewerID).
		Msg("Unlock request resolved")
	return &state, nil
}
