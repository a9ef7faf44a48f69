package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/session"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// StreamObserver receives attempt status pushes over the student WebSocket
// stream and reconnects until its context ends.
type StreamObserver struct {
	baseURL   string
	token     func() string
	dialer    *websocket.Dialer
	reconnect time.Duration
	log       zerolog.Logger
}

var _ session.StatusObserver = (*StreamObserver)(nil)

// StreamObserver returns an observer sharing the client's server and token.
func (c *Client) StreamObserver() *StreamObserver {
	return &StreamObserver{
		baseURL:   c.baseURL,
		token:     c.Token,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnect: 3 * time.Second,
		log:       c.log.With().Str("component", "status_stream").Logger(),
	}
}

// Watch calls fn for every status event until ctx is done.
func (o *StreamObserver) Watch(ctx context.Context, examID uuid.UUID, fn func(model.AttemptState)) error {
	target, err := o.streamURL(examID)
	if err != nil {
		return err
	}

	for {
		if err := o.watchOnce(ctx, target, fn); err != nil && ctx.Err() == nil {
			o.log.Warn().Err(err).Msg("Status stream dropped, reconnecting")
		}

		t := time.NewTimer(o.reconnect)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (o *StreamObserver) watchOnce(ctx context.Context, target string, fn func(model.AttemptState)) error {
	conn, resp, err := o.dialer.DialContext(ctx, target, http.Header{})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			o.log.Error().Msg("Status stream rejected the token")
		}
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	o.log.Debug().Msg("Status stream connected")
	for {
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Event {
		case ws.EventStatus:
			if msg.State != nil {
				fn(*msg.State)
			}
		case ws.EventError:
			o.log.Warn().Str("code", msg.Code).Str("error", msg.Error).Msg("Status stream error event")
		}
	}
}

func (o *StreamObserver) streamURL(examID uuid.UUID) (string, error) {
	u, err := url.Parse(o.baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/v1/student/exams/" + examID.String() + "/stream"
	u.RawQuery = url.Values{"token": {o.token()}}.Encode()
	return u.String(), nil
}
