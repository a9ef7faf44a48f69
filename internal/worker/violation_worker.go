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

type violationStore interface {
	InsertBatch(ctx context.Context, batch []model.ViolationRecord) (int64, error)
	Insert(ctx context.Context, v model.ViolationRecord) error
}

// ViolationWorker persists violation records in batches. The attempt row
// already holds the authoritative counts; these rows are the audit trail
// shown to reviewers.
type ViolationWorker struct {
	store   violationStore
	queue   Queue
	backoff time.Duration
	log     zerolog.Logger
}

// NewViolationWorker creates a new ViolationWorker.
func NewViolationWorker(store violationStore, queue Queue, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		store:   store,
		queue:   queue,
		backoff: ErrorBackoff,
		log:     log.With().Str("component", "violation_worker").Logger(),
	}
}

// Start begins the batching loop. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")
	collectBatches(ctx, w.queue, w.log, BatchSize, BatchTimeout, w.backoff, w.flush)
	w.log.Info().Msg("ViolationWorker stopped")
}

func (w *ViolationWorker) flush(ctx context.Context, raw []string) {
	batch := make([]model.ViolationRecord, 0, len(raw))
	for _, item := range raw {
		var v model.ViolationRecord
		if err := json.Unmarshal([]byte(item), &v); err != nil || v.AttemptID == uuid.Nil {
			// Malformed payloads can never succeed; drop them.
			w.log.Error().Err(err).Str("data", item).Msg("Discarding malformed violation record")
			metrics.QueuePersisted.WithLabelValues("violations", "discarded").Inc()
			continue
		}
		batch = append(batch, v)
	}
	if len(batch) == 0 {
		return
	}

	// Fast path: one COPY for the whole batch.
	_, err := w.store.InsertBatch(ctx, batch)
	if err == nil {
		metrics.QueuePersisted.WithLabelValues("violations", "ok").Add(float64(len(batch)))
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []string
	for _, v := range batch {
		if err := w.store.Insert(ctx, v); err != nil {
			w.log.Error().Err(err).Str("attempt_id", v.AttemptID.String()).Msg("Insert failed, requeueing")
			data, _ := json.Marshal(v)
			failed = append(failed, string(data))
			continue
		}
		metrics.QueuePersisted.WithLabelValues("violations", "ok").Inc()
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []string) {
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownWait)
	defer cancel()
	if err := w.queue.Push(pushCtx, items...); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: failed to requeue violation records, data loss occurred")
		return
	}
	metrics.QueuePersisted.WithLabelValues("violations", "requeued").Add(float64(len(items)))
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items")
	// Avoid thrashing while the database is down.
	sleep(ctx, w.backoff)
}
