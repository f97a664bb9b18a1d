package main

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/uptrace/bunrouter"
)

// ---------------------------------------------------------------------------
// Admin REST API — operational visibility plus event injection, so test
// drivers can publish into topics without holding a websocket themselves.
//
// Endpoints:
//   GET  /healthz                       — server status and counters
//   GET  /topics                        — joined topics with session counts
//   POST /topics/:topic/events/:event   — broadcast body as the event payload
// ---------------------------------------------------------------------------

func newAdminRouter(h *hub) *bunrouter.Router {
	router := bunrouter.New()

	router.GET("/healthz", func(w http.ResponseWriter, req bunrouter.Request) error {
		jsonResponse(w, http.StatusOK, map[string]any{
			"server":            "fakephoenix",
			"uptime":            time.Since(h.started).String(),
			"started":           h.started.Format(time.RFC3339),
			"sessions_accepted": h.sessionsAccepted.Load(),
			"sessions_current":  h.sessionsCurrent.Load(),
			"events_delivered":  h.eventsDelivered.Load(),
		})
		return nil
	})

	router.GET("/topics", func(w http.ResponseWriter, req bunrouter.Request) error {
		jsonResponse(w, http.StatusOK, map[string]any{
			"topics": h.topicSummary(),
			"names":  h.topicNames(),
		})
		return nil
	})

	router.POST("/topics/:topic/events/:event", func(w http.ResponseWriter, req bunrouter.Request) error {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		payload := json.RawMessage(body)
		if len(body) == 0 {
			payload = emptyPayload
		} else if !json.Valid(body) {
			jsonResponse(w, http.StatusBadRequest, map[string]any{"error": "payload must be valid JSON"})
			return nil
		}

		delivered, err := h.broadcast(req.Context(), envelope{
			Topic:   req.Param("topic"),
			Event:   req.Param("event"),
			Payload: payload,
		})
		if err != nil {
			return err
		}
		jsonResponse(w, http.StatusOK, map[string]any{
			"topic":     req.Param("topic"),
			"event":     req.Param("event"),
			"delivered": delivered,
		})
		return nil
	})

	return router
}

func jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
