package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // keeps a slow query from stalling the stream
)

// MonitorHandler streams an exam's live proctoring feed to reviewers.
type MonitorHandler struct {
	rdb            *redis.Client
	examService    *service.ExamService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	rdb *redis.Client,
	examService *service.ExamService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		examService:    examService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:id/monitor
// Sends a snapshot, then forwards every monitor event published for the
// exam. A fresh snapshot follows periodically while events keep arriving.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.FailCode(c, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()
	exam, err := h.examService.GetByID(reqCtx, examID)
	if err != nil {
		failWith(c, h.log, err, "Load exam failed")
		return
	}

	// Subscribe before the snapshot so no event falls between the two.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	if !h.sendSnapshot(c, reqCtx, exam) {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()

	dirty := false
	log := h.log.With().Str("exam_id", examID.String()).Logger()
	log.Info().Msg("Reviewer attached to live monitor")

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Reviewer detached from live monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payloads are already JSON MonitorEvents.
			writeSSE(c, "event", []byte(msg.Payload))
			dirty = true

		case <-refresh.C:
			if !dirty {
				continue
			}
			dirty = false
			h.sendSnapshot(c, reqCtx, exam)

		case <-keepAlive.C:
			writeSSE(c, "ping", []byte(`{}`))
		}
	}
}

// sendSnapshot writes the board state. It returns false when the stream
// should end.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parent context.Context, exam *model.Exam) bool {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	snap, err := h.monitorService.Snapshot(ctx, exam.ID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Monitor snapshot failed")
		return parent.Err() == nil
	}

	c.SSEvent("snapshot", gin.H{
		"exam": gin.H{
			"id":         exam.ID,
			"title":      exam.Title,
			"duration":   exam.DurationMinutes,
			"proctoring": exam.Proctoring,
		},
		"board": snap,
	})
	c.Writer.Flush()
	return true
}

func writeSSE(c *gin.Context, event string, data []byte) {
	_, _ = c.Writer.Write([]byte("event:" + event + "\ndata:"))
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
