package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
	"golang.org/x/sync/errgroup"
)

const healthTimeout = 2 * time.Second

// SystemHandler reports dependency health and worker backlog.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	nc        *nats.Conn
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, nc *nats.Conn, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		nc:        nc,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
// Pings PostgreSQL and Redis and checks the NATS connection. Any failure
// answers 503 so load balancers take the instance out.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	checks := map[string]string{"postgres": "ok", "redis": "ok", "nats": "ok"}
	var (
		pgErr, redisErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pgErr = h.pool.Ping(gctx)
		return nil
	})
	g.Go(func() error {
		redisErr = h.rdb.Ping(gctx).Err()
		return nil
	})
	_ = g.Wait()

	healthy := true
	if pgErr != nil {
		checks["postgres"], healthy = pgErr.Error(), false
	}
	if redisErr != nil {
		checks["redis"], healthy = redisErr.Error(), false
	}
	if !h.nc.IsConnected() {
		checks["nats"], healthy = h.nc.Status().String(), false
	}

	code, status := http.StatusOK, "ok"
	if !healthy {
		code, status = http.StatusServiceUnavailable, "degraded"
		h.log.Warn().Interface("checks", checks).Msg("Health check failed")
	}
	response.Success(c, code, gin.H{
		"status": status,
		"checks": checks,
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

type queueDepths struct {
	Answers    int64 `json:"answers"`
	Violations int64 `json:"violations"`
	Scores     int64 `json:"scores"`
}

// SystemStatus godoc
// GET /api/v1/admin/system/status
// Reports background queue backlog and runtime figures.
func (h *SystemHandler) SystemStatus(c *gin.Context) {
	ctx := c.Request.Context()

	pipe := h.rdb.Pipeline()
	answers := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
	violations := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	scores := pipe.LLen(ctx, config.WorkerKey.ScoreAttemptsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Error().Err(err).Msg("Queue depth lookup failed")
		response.FailCode(c, response.ErrInternal)
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stat := h.pool.Stat()

	response.Success(c, http.StatusOK, gin.H{
		"queues": queueDepths{
			Answers:    answers.Val(),
			Violations: violations.Val(),
			Scores:     scores.Val(),
		},
		"runtime": gin.H{
			"goroutines": runtime.NumGoroutine(),
			"heap_alloc": ms.HeapAlloc,
			"num_gc":     ms.NumGC,
			"go_version": runtime.Version(),
		},
		"db_pool": gin.H{
			"acquired": stat.AcquiredConns(),
			"idle":     stat.IdleConns(),
			"total":    stat.TotalConns(),
		},
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}
