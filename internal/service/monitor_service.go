package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"golang.org/x/sync/errgroup"
)

const recentViolationLimit = 50

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// MonitorSnapshot is the reviewer board's initial state.
type MonitorSnapshot struct {
	Attempts   []repository.AttemptProgress `json:"attempts"`
	Recent     []model.ViolationRecord      `json:"recent_violations"`
	Locked     int                          `json:"locked"`
	Submitted  int                          `json:"submitted"`
	InProgress int                          `json:"in_progress"`
}

// Snapshot loads attempts, persisted violation counts and the newest
// violations concurrently. Violation data is best-effort.
func (s *MonitorService) Snapshot(ctx context.Context, examID uuid.UUID) (*MonitorSnapshot, error) {
	var (
		attempts []repository.AttemptProgress
		counts   map[int]int64
		recent   []model.ViolationRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		attempts, err = s.monitorRepo.ListAttempts(gctx, examID)
		return err
	})
	g.Go(func() error {
		counts, _ = s.monitorRepo.GetViolationCounts(gctx, examID)
		return nil
	})
	g.Go(func() error {
		recent, _ = s.monitorRepo.RecentViolations(gctx, examID, recentViolationLimit)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &MonitorSnapshot{Attempts: attempts, Recent: recent}
	for i := range snap.Attempts {
		a := &snap.Attempts[i]
		a.ViolationCount = counts[a.StudentID]
		switch a.Status {
		case model.AttemptStatusLocked:
			snap.Locked++
		case model.AttemptStatusSubmitted:
			snap.Submitted++
		case model.AttemptStatusInProgress:
			snap.InProgress++
		}
	}
	if snap.Attempts == nil {
		snap.Attempts = []repository.AttemptProgress{}
	}
	if snap.Recent == nil {
		snap.Recent = []model.ViolationRecord{}
	}
	return snap, nil
}
