package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/warp/event-stock/inventory"
)

// ActorHeader carries the opaque identity recorded on ledger entries.
const ActorHeader = "X-Actor"

const defaultActor inventory.Actor = "anonymous"

func actorFrom(r *http.Request) inventory.Actor {
	if a := strings.TrimSpace(r.Header.Get(ActorHeader)); a != "" {
		return inventory.Actor(a)
	}
	return defaultActor
}

// requestLogger logs each request with method, path, status, latency and
// request id. Server errors log at error, client errors at warn.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			var ev *zerolog.Event
			switch {
			case status >= 500:
				ev = log.Error()
			case status >= 400:
				ev = log.Warn()
			default:
				ev = log.Info()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg("request")
		})
	}
}
