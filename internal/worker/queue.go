package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
	// ErrorBackoff is the pause after a Redis or database failure.
	ErrorBackoff = 3 * time.Second
	shutdownWait = 5 * time.Second
)

// ErrEmpty is returned by Pop when nothing arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Queue is a FIFO of JSON payloads shared by producers and one worker type.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
	TryPop(ctx context.Context) (string, error)
	Push(ctx context.Context, items ...string) error
	Name() string
}

// RedisQueue is a Queue backed by a Redis list.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisQueue wraps the Redis list at key.
func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key}
}

// Pop blocks up to timeout for the head of the list.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", ErrEmpty
	}
	return res[1], nil
}

// TryPop returns the head of the list without blocking.
func (q *RedisQueue) TryPop(ctx context.Context) (string, error) {
	res, err := q.rdb.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	return res, err
}

// Push appends items to the tail of the list.
func (q *RedisQueue) Push(ctx context.Context, items ...string) error {
	if len(items) == 0 {
		return nil
	}
	vals := make([]any, len(items))
	for i, it := range items {
		vals[i] = it
	}
	return q.rdb.RPush(ctx, q.key, vals...).Err()
}

// Name is the Redis key.
func (q *RedisQueue) Name() string { return q.key }

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// collectBatches pops raw items and hands them to flush in groups of at
// most size, or whatever arrived within timeout of the last flush. On
// shutdown the remaining items are flushed with a short fresh deadline.
func collectBatches(
	ctx context.Context,
	q Queue,
	log zerolog.Logger,
	size int,
	timeout time.Duration,
	backoff time.Duration,
	flush func(ctx context.Context, batch []string),
) {
	buffer := make([]string, 0, size)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= size || time.Since(lastFlush) >= timeout) {
			flush(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			if len(buffer) > 0 {
				log.Info().Int("count", len(buffer)).Msg("Flushing remaining batch before shutdown")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
				flush(shutdownCtx, buffer)
				cancel()
			}
			return
		default:
		}

		item, err := q.Pop(ctx, PollTimeout)
		if err != nil {
			if errors.Is(err, ErrEmpty) || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Str("queue", q.Name()).Msg("Queue read failed, backing off")
			sleep(ctx, backoff)
			continue
		}
		if len(buffer) == 0 {
			lastFlush = time.Now()
		}
		buffer = append(buffer, item)
	}
}
