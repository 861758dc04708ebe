package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"credchain/internal/engine"
)

const (
	streamPollInterval = 500 * time.Millisecond
	streamWriteTimeout = 5 * time.Second
	streamBatch        = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// registerStream serves committed events over a websocket. Clients resume
// with ?after=<id>; without it the stream starts at the current head.
// ?type= restricts delivery to one event type.
func registerStream(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "events/stream"), func(w http.ResponseWriter, req *http.Request) {
		log := zerolog.Ctx(req.Context())
		var cursor int64
		if after := req.URL.Query().Get("after"); after != "" {
			v, err := strconv.ParseInt(after, 10, 64)
			if err != nil || v < 0 {
				respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid after cursor", nil))
				return
			}
			cursor = v
		} else {
			head, err := e.Repo.LatestEventID(req.Context())
			if err != nil {
				respondStatusError(w, handleError(req.Context(), err))
				return
			}
			cursor = head
		}
		filter := newEventFilter(req.URL.Query()["type"])

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Warn().Err(err).Msg("event stream upgrade failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()
		// The reader only exists to notice the client going away.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()
		for {
			evts, err := e.Repo.EventsAfter(ctx, streamBatch, cursor)
			if err != nil {
				if ctx.Err() != nil {
					closeStream(conn)
				} else if !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("event stream read failed")
				}
				return
			}
			for _, evt := range evts {
				cursor = evt.ID
				if !filter.match(evt.Type) {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := conn.WriteJSON(eventResponse(evt)); err != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				closeStream(conn)
				return
			case <-ticker.C:
			}
		}
	})
}

func closeStream(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
