package session

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SaveFunc persists one answer. It must be idempotent per question.
type SaveFunc func(ctx context.Context, answer model.Answer) error

// AnswerBuffer holds the latest value per question plus a dirty flag.
// Flushes are at-least-once: a failed save leaves the entry dirty for the
// next cycle, and an entry edited while its save was in flight stays dirty.
type AnswerBuffer struct {
	save SaveFunc
	now  func() time.Time
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]*bufferEntry
	paused  bool
}

type bufferEntry struct {
	answer model.Answer
	dirty  bool
	rev    uint64
}

// NewAnswerBuffer creates an empty buffer that flushes through save.
func NewAnswerBuffer(save SaveFunc, log zerolog.Logger) *AnswerBuffer {
	return &AnswerBuffer{
		save:    save,
		now:     time.Now,
		log:     log.With().Str("component", "answer_buffer").Logger(),
		entries: make(map[uuid.UUID]*bufferEntry),
	}
}

// Seed loads previously saved answers as clean entries.
func (b *AnswerBuffer) Seed(answers []model.Answer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range answers {
		b.entries[a.QuestionID] = &bufferEntry{answer: a}
	}
}

// Record stores a draft value in memory without flushing it.
func (b *AnswerBuffer) Record(a model.Answer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[a.QuestionID]
	if !ok {
		e = &bufferEntry{}
		b.entries[a.QuestionID] = e
	}
	a.LastSavedAt = e.answer.LastSavedAt
	e.answer = a
	e.dirty = true
	e.rev++
}

// Get returns the latest known value for a question.
func (b *AnswerBuffer) Get(questionID uuid.UUID) (model.Answer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[questionID]
	if !ok {
		return model.Answer{}, false
	}
	return e.answer, true
}

// Dirty returns the IDs of entries not yet confirmed persisted.
func (b *AnswerBuffer) Dirty() []uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(b.entries))
	for id, e := range b.entries {
		if e.dirty {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

// FlushOne sends a single dirty entry. Clean or unknown entries are a no-op.
func (b *AnswerBuffer) FlushOne(ctx context.Context, questionID uuid.UUID) error {
	b.mu.Lock()
	e, ok := b.entries[questionID]
	if !ok || !e.dirty {
		b.mu.Unlock()
		return nil
	}
	answer, rev := e.answer, e.rev
	b.mu.Unlock()

	if err := b.save(ctx, answer); err != nil {
		return &TransientSaveError{QuestionID: questionID, Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e.rev == rev {
		e.dirty = false
	}
	saved := b.now()
	e.answer.LastSavedAt = &saved
	return nil
}

// Flush sends every dirty entry and joins the failures.
func (b *AnswerBuffer) Flush(ctx context.Context) error {
	var errs []error
	for _, id := range b.Dirty() {
		if err := b.FlushOne(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Collect returns every known answer, drafts included, ordered by question.
func (b *AnswerBuffer) Collect() []model.Answer {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	sortIDs(ids)

	answers := make([]model.Answer, 0, len(ids))
	for _, id := range ids {
		answers = append(answers, b.entries[id].answer)
	}
	return answers
}

// Pause suspends periodic flushing; drafts stay dirty until Resume.
func (b *AnswerBuffer) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

// Resume re-enables periodic flushing.
func (b *AnswerBuffer) Resume() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
}

func (b *AnswerBuffer) isPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// Run flushes on a fixed period until ctx is done. Hooks run after every
// flush on the same cycle; a paused buffer skips both.
func (b *AnswerBuffer) Run(ctx context.Context, interval time.Duration, hooks ...func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.isPaused() {
				continue
			}
			if err := b.Flush(ctx); err != nil && ctx.Err() == nil {
				b.log.Warn().Err(err).Msg("Autosave flush incomplete, retrying next cycle")
			}
			for _, hook := range hooks {
				hook(ctx)
			}
		}
	}
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
