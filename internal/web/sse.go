package web

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/CZERTAINLY/jobcast/internal/metrics"
	"github.com/CZERTAINLY/jobcast/internal/model"
)

// events streams the job history followed by live events as Server-Sent
// Events. Every connection replays from the first event, Last-Event-ID is
// not honoured. The stream ends after the terminal event.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	typ := jobType(r)
	sub, err := s.reg.Subscribe(typ)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer sub.Close()
	metrics.SubscriberAttached(typ)
	defer metrics.SubscriberDetached(typ)

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, e := range sub.Replay() {
		if err := writeEvent(w, e); err != nil {
			slog.DebugContext(ctx, "sse client gone", "error", err)
			return
		}
	}
	if err := rc.Flush(); err != nil {
		slog.DebugContext(ctx, "sse flush", "error", err)
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Live():
			if !ok {
				if serr := sub.Err(); serr != nil {
					slog.WarnContext(ctx, "sse subscriber dropped", "job_type", typ, "error", serr)
					_, _ = fmt.Fprintf(w, "event: overflow\ndata: %q\n\n", serr.Error())
					_ = rc.Flush()
				}
				return
			}
			err = writeEvent(w, e)
		case <-ticker.C:
			_, err = io.WriteString(w, ": keep-alive\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			slog.DebugContext(ctx, "sse client gone", "error", err)
			return
		}
	}
}

func writeEvent(w io.Writer, e model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Kind, data)
	return err
}
