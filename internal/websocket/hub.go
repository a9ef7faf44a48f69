package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const subscriberBuffer = 4

type subscriber struct {
	id uint64
	ch chan model.AttemptState
}

// StatusHub fans attempt state changes published on Redis out to the
// WebSocket connections of this instance. One pattern subscription serves
// every attempt.
type StatusHub struct {
	rdb  *redis.Client
	subs *xsync.MapOf[uuid.UUID, []*subscriber]
	next atomic.Uint64
	log  zerolog.Logger
}

// NewStatusHub creates a new StatusHub.
func NewStatusHub(rdb *redis.Client, log zerolog.Logger) *StatusHub {
	return &StatusHub{
		rdb:  rdb,
		subs: xsync.NewMapOf[uuid.UUID, []*subscriber](),
		log:  log.With().Str("component", "status_hub").Logger(),
	}
}

// Subscribe registers interest in one attempt. The returned channel only
// ever holds the freshest states; slow readers lose intermediate ones.
func (h *StatusHub) Subscribe(attemptID uuid.UUID) (<-chan model.AttemptState, func()) {
	sub := &subscriber{id: h.next.Add(1), ch: make(chan model.AttemptState, subscriberBuffer)}
	h.subs.Compute(attemptID, func(old []*subscriber, _ bool) ([]*subscriber, bool) {
		return append(old, sub), false
	})
	metrics.StreamClients.Inc()

	return sub.ch, func() {
		h.subs.Compute(attemptID, func(old []*subscriber, _ bool) ([]*subscriber, bool) {
			kept := make([]*subscriber, 0, len(old))
			for _, s := range old {
				if s.id != sub.id {
					kept = append(kept, s)
				}
			}
			return kept, len(kept) == 0
		})
		metrics.StreamClients.Dec()
	}
}

// Dispatch delivers a state to every subscriber of its attempt.
func (h *StatusHub) Dispatch(state model.AttemptState) {
	subs, ok := h.subs.Load(state.AttemptID)
	if !ok {
		return
	}
	for _, s := range subs {
		select {
		case s.ch <- state:
		default:
			// Drop the oldest queued state so the newest always lands.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- state:
			default:
			}
		}
	}
}

// Run listens on the attempt status pattern until ctx is cancelled.
func (h *StatusHub) Run(ctx context.Context) {
	pubsub := h.rdb.PSubscribe(ctx, config.CacheKey.AttemptStatusPattern())
	defer pubsub.Close()

	h.log.Info().Msg("Status hub started")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Status hub stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var state model.AttemptState
			if err := json.Unmarshal([]byte(msg.Payload), &state); err != nil {
				h.log.Warn().Err(err).Str("channel", msg.Channel).Msg("Malformed status event")
				continue
			}
			h.Dispatch(state)
		}
	}
}
