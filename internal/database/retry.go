package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	pingAttempts = 5
	pingBackoff  = time.Second
)

// pingWithRetry calls ping until it succeeds, the attempts run out or ctx is
// done. Compose stacks start the server before the stores accept connections.
func pingWithRetry(ctx context.Context, name string, log zerolog.Logger, ping func(context.Context) error) error {
	var err error
	backoff := pingBackoff
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if attempt == pingAttempts {
			break
		}
		log.Warn().Err(err).
			Str("store", name).
			Int("attempt", attempt).
			Dur("retry_in", backoff).
			Msg("Store not reachable yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
