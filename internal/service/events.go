package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventPublisher fans attempt state changes and monitor entries out over
// Redis pub/sub. Publishing is best-effort: clients that miss a push still
// converge through the state endpoint.
type EventPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(rdb *redis.Client, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{rdb: rdb, log: log.With().Str("component", "event_publisher").Logger()}
}

// AttemptState pushes the new state to the attempt's status channel.
func (p *EventPublisher) AttemptState(ctx context.Context, state model.AttemptState) {
	p.publish(ctx, config.CacheKey.AttemptStatusChannel(state.AttemptID.String()), state)
}

// Monitor pushes an entry to the exam's reviewer feed.
func (p *EventPublisher) Monitor(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	p.publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), ev)
}

func (p *EventPublisher) publish(ctx context.Context, channel string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		p.log.Error().Err(err).Str("channel", channel).Msg("Marshal event")
		return
	}
	if err := p.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		p.log.Warn().Err(err).Str("channel", channel).Msg("Publish event")
	}
}

// stateOf projects an attempt row into the client-facing snapshot.
func stateOf(a *model.Attempt, unlock *model.UnlockRequest, now time.Time) model.AttemptState {
	return model.AttemptState{
		ExamID:              a.ExamID,
		AttemptID:           a.ID,
		Status:              a.Status,
		RemainingSeconds:    a.RemainingSeconds(now),
		TabSwitchCount:      a.TabSwitchCount,
		FullscreenExitCount: a.FullscreenExitCount,
		UnlockRequest:       unlock,
	}
}
