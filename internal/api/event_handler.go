package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/mailrunner/internal/logger"
	"github.com/sungwon/mailrunner/internal/notify"
)

const heartbeatInterval = 25 * time.Second

// EventSource is a fan-out of progress events.
type EventSource interface {
	Subscribe(id string) <-chan notify.Event
	Unsubscribe(id string)
}

// EventsHandler handles GET /api/v1/events as a server-sent event stream.
// Each event is written as "event: <name>" with its JSON payload.
func EventsHandler(source EventSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}
		log := logger.FromContext(r.Context())

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id := uuid.NewString()
		events := source.Subscribe(id)
		defer source.Unsubscribe(id)

		fmt.Fprintf(w, ": connected %s\n\n", id)
		flusher.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case e, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(e)
				if err != nil {
					log.Warn().Err(err).Str("event", e.Name).Msg("failed to encode event")
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, data)
				flusher.Flush()
			}
		}
	}
}
