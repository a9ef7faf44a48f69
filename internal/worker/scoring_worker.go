package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// maxScoreRetries bounds rescoring of a job whose grading keeps failing,
// e.g. while the executor is unreachable.
const maxScoreRetries = 5

type scorer interface {
	Score(ctx context.Context, job model.ScoreJob) (float64, error)
}

type scoreStore interface {
	SetScores(ctx context.Context, ids []uuid.UUID, scores []float64) error
	SetScore(ctx context.Context, id uuid.UUID, score float64) error
}

type answerBuffers interface {
	ClearBufferedAnswers(ctx context.Context, attemptIDs ...uuid.UUID) error
}

// ScoringWorker grades submitted attempts and stores their final scores
// with one bulk UPDATE per batch.
type ScoringWorker struct {
	scorer  scorer
	store   scoreStore
	buffers answerBuffers
	queue   Queue
	backoff time.Duration
	log     zerolog.Logger
}

// NewScoringWorker creates a new ScoringWorker.
func NewScoringWorker(scorer scorer, store scoreStore, buffers answerBuffers, queue Queue, log zerolog.Logger) *ScoringWorker {
	return &ScoringWorker{
		scorer:  scorer,
		store:   store,
		buffers: buffers,
		queue:   queue,
		backoff: ErrorBackoff,
		log:     log.With().Str("component", "scoring_worker").Logger(),
	}
}

// Start begins the batching loop. Call in a goroutine.
func (w *ScoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ScoringWorker started")
	collectBatches(ctx, w.queue, w.log, BatchSize, BatchTimeout, w.backoff, w.flush)
	w.log.Info().Msg("ScoringWorker stopped")
}

type scored struct {
	job   model.ScoreJob
	score float64
}

func (w *ScoringWorker) flush(ctx context.Context, raw []string) {
	var (
		done  []scored
		retry []model.ScoreJob
	)
	for _, item := range raw {
		var job model.ScoreJob
		if err := json.Unmarshal([]byte(item), &job); err != nil || job.AttemptID == uuid.Nil {
			w.log.Error().Err(err).Str("data", item).Msg("Discarding malformed score job")
			metrics.QueuePersisted.WithLabelValues("scores", "discarded").Inc()
			continue
		}

		score, err := w.scorer.Score(ctx, job)
		if err != nil {
			w.log.Warn().Err(err).Str("attempt_id", job.AttemptID.String()).Msg("Scoring failed")
			retry = append(retry, job)
			continue
		}
		done = append(done, scored{job: job, score: score})
	}

	stored, failed := w.persist(ctx, done)
	retry = append(retry, failed...)
	if len(stored) > 0 {
		metrics.QueuePersisted.WithLabelValues("scores", "ok").Add(float64(len(stored)))
		if err := w.buffers.ClearBufferedAnswers(ctx, stored...); err != nil {
			w.log.Warn().Err(err).Msg("Clearing answer buffers failed")
		}
	}
	if len(retry) > 0 {
		w.requeue(ctx, retry)
	}
}

// persist writes the scores, falling back to one UPDATE per attempt. It
// returns the attempts whose score was stored and the jobs to retry.
func (w *ScoringWorker) persist(ctx context.Context, done []scored) ([]uuid.UUID, []model.ScoreJob) {
	if len(done) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(done))
	scores := make([]float64, len(done))
	for i, d := range done {
		ids[i], scores[i] = d.job.AttemptID, d.score
	}

	err := w.store.SetScores(ctx, ids, scores)
	if err == nil {
		return ids, nil
	}
	w.log.Warn().Err(err).Int("count", len(ids)).Msg("Bulk score update failed, using fallback")

	var (
		stored []uuid.UUID
		failed []model.ScoreJob
	)
	for _, d := range done {
		if err := w.store.SetScore(ctx, d.job.AttemptID, d.score); err != nil {
			w.log.Error().Err(err).Str("attempt_id", d.job.AttemptID.String()).Msg("Score update failed")
			failed = append(failed, d.job)
			continue
		}
		stored = append(stored, d.job.AttemptID)
	}
	return stored, failed
}

// requeue puts failed jobs back, dropping those past maxScoreRetries.
func (w *ScoringWorker) requeue(ctx context.Context, jobs []model.ScoreJob) {
	items := make([]string, 0, len(jobs))
	for _, job := range jobs {
		job.Retries++
		if job.Retries > maxScoreRetries {
			w.log.Error().Str("attempt_id", job.AttemptID.String()).Msg("Giving up on scoring")
			metrics.QueuePersisted.WithLabelValues("scores", "discarded").Inc()
			continue
		}
		data, _ := json.Marshal(job)
		items = append(items, string(data))
	}
	if len(items) == 0 {
		return
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownWait)
	defer cancel()
	if err := w.queue.Push(pushCtx, items...); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: failed to requeue score jobs")
		return
	}
	metrics.QueuePersisted.WithLabelValues("scores", "requeued").Add(float64(len(items)))
	sleep(ctx, w.backoff)
}
