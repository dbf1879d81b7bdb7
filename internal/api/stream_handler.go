package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/events"
	"github.com/scrapewizard/scrapewizard/internal/metrics"
	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// pollInterval bounds how long the stream waits for broker traffic before
// emitting a keepalive ping. Client disconnects are noticed on the same tick.
const pollInterval = 5 * time.Second

// streamRun serves GET /runs/{run_id}/stream as server-sent events. The run's
// persisted state is the source of truth; this stream is a best-effort live
// view, so broker hiccups degrade to pings rather than erroring out.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if _, err := s.stores.Runs.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.broker.Subscribe(r.Context(), scraper.RunChannel(runID))
	if err != nil {
		s.logger.Error("subscribe failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer func() {
		// The request context is already cancelled when the client hangs up,
		// so release the subscription with a fresh one.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sub.Unsubscribe(cleanupCtx); err != nil {
			s.logger.Warn("unsubscribe failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	metrics.IncStreamSubscribers()
	defer metrics.DecStreamSubscribers()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		raw, err := sub.Receive(ctx, pollInterval)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, scraper.ErrNoMessage):
			if !s.writeEvent(w, flusher, events.TypePing, events.PingPayload{
				Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
			}) {
				return
			}
			continue
		case err != nil:
			s.logger.Warn("stream receive failed", zap.String("run_id", runID), zap.Error(err))
			return
		}

		env, err := events.Decode(raw)
		if err != nil {
			if !s.writeEvent(w, flusher, events.TypeError, events.ErrorPayload{
				Detail: "Malformed event data received on stream",
			}) {
				return
			}
			continue
		}
		if !s.writeRawEvent(w, flusher, env.Type, env.Data) {
			return
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, t events.Type, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal stream event failed", zap.Error(err))
		return false
	}
	return s.writeRawEvent(w, flusher, t, data)
}

func (s *Server) writeRawEvent(w http.ResponseWriter, flusher http.Flusher, t events.Type, data json.RawMessage) bool {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", t, data); err != nil {
		return false
	}
	flusher.Flush()
	metrics.ObserveStreamEvent(string(t))
	return true
}
