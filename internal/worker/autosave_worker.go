package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

type answerStore interface {
	Save(ctx context.Context, attemptID uuid.UUID, a model.Answer) error
}

// AutosaveWorker consumes the answer queue and UPSERTs answers to PostgreSQL.
// Older values never overwrite newer ones; the store compares save times.
// Jobs that arrive after the attempt was submitted are dropped, together
// with the Redis copy they re-created.
type AutosaveWorker struct {
	store      answerStore
	buffers    answerBuffers
	queue      Queue
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(store answerStore, buffers answerBuffers, queue Queue, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		store:      store,
		buffers:    buffers,
		queue:      queue,
		retryDelay: 5 * time.Second,
		log:        log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	raw, err := w.queue.Pop(ctx, PollTimeout)
	if err != nil {
		if !errors.Is(err, ErrEmpty) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Queue read failed")
			sleep(ctx, ErrorBackoff)
		}
		return
	}

	if err := w.persist(ctx, raw); err != nil {
		w.log.Error().Err(err).Msg("Persist failed, requeueing")
		w.requeue(ctx, raw)
		sleep(ctx, w.retryDelay)
	}
}

func (w *AutosaveWorker) persist(ctx context.Context, raw string) error {
	var job model.AnswerJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil || job.AttemptID == uuid.Nil || job.Answer.QuestionID == uuid.Nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed answer job")
		metrics.QueuePersisted.WithLabelValues("answers", "discarded").Inc()
		return nil
	}

	err := w.store.Save(ctx, job.AttemptID, job.Answer)
	if errors.Is(err, repository.ErrAttemptClosed) {
		w.log.Warn().
			Str("attempt_id", job.AttemptID.String()).
			Str("question_id", job.Answer.QuestionID.String()).
			Msg("Discarding answer for submitted attempt")
		metrics.QueuePersisted.WithLabelValues("answers", "discarded").Inc()
		if err := w.buffers.ClearBufferedAnswers(ctx, job.AttemptID); err != nil {
			w.log.Warn().Err(err).Str("attempt_id", job.AttemptID.String()).Msg("Clear buffered answers")
		}
		return nil
	}
	if err != nil {
		return err
	}
	metrics.QueuePersisted.WithLabelValues("answers", "ok").Inc()
	return nil
}

func (w *AutosaveWorker) requeue(ctx context.Context, raw string) {
	// The push must survive a cancelled worker context.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownWait)
	defer cancel()
	if err := w.queue.Push(pushCtx, raw); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("CRITICAL: failed to requeue answer, data loss occurred")
		return
	}
	metrics.QueuePersisted.WithLabelValues("answers", "requeued").Inc()
}

// drain persists what is left in the queue before shutdown. It stops at
// the first failure and puts that item back.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		raw, err := w.queue.TryPop(ctx)
		if err != nil {
			break
		}
		if err := w.persist(ctx, raw); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.requeue(ctx, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
