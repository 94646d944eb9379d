package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hupe1980/aegis"
	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/engine"
	"github.com/hupe1980/aegis/logging"
	"github.com/hupe1980/aegis/transport/httptransport"
)

const maxBody = 1 << 20

type eventRequest struct {
	EventType string       `json:"event_type"`
	Payload   core.Payload `json:"payload"`
}

type requestRequest struct {
	Recipient   string       `json:"recipient"`
	RequestType string       `json:"request_type"`
	Payload     core.Payload `json:"payload"`
	TimeoutMS   int          `json:"timeout_ms"`
}

type api struct {
	sys    *aegis.System
	logger logging.Logger
}

// newAPI serves the operator endpoints next to the inbound agent transport.
func newAPI(sys *aegis.System, logger logging.Logger) http.Handler {
	a := &api{sys: sys, logger: logger}
	mux := http.NewServeMux()
	mux.Handle("POST /agents/{id}/message", httptransport.NewHandler(sys.Engine().Inbound(), logger))
	mux.HandleFunc("POST /events", a.handleEvent)
	mux.HandleFunc("POST /requests", a.handleRequest)
	mux.HandleFunc("GET /health", a.handleHealth)
	return mux
}

func (a *api) handleEvent(w http.ResponseWriter, r *http.Request) {
	var in eventRequest
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	if err := a.sys.Publish(r.Context(), in.EventType, in.Payload); err != nil {
		a.logger.Warn("Event rejected", "event_type", in.EventType, "error", err.Error())
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "event_type": in.EventType})
}

func (a *api) handleRequest(w http.ResponseWriter, r *http.Request) {
	var in requestRequest
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Recipient == "" || in.RequestType == "" {
		writeError(w, http.StatusBadRequest, "recipient and request_type are required")
		return
	}
	timeout := time.Duration(in.TimeoutMS) * time.Millisecond
	res, err := a.sys.Request(r.Context(), in.Recipient, in.RequestType, in.Payload, timeout)
	if err != nil {
		a.logger.Warn("Request failed", "recipient", in.Recipient, "request_type", in.RequestType, "error", err.Error())
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := a.sys.Status()
	healthy := true
	for _, s := range status {
		healthy = healthy && s.Running
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"healthy": healthy, "agents": status})
}

func decode(r *http.Request, out any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(out); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownRecipient):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRejected), errors.Is(err, core.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrMailboxFull), errors.Is(err, core.ErrMailboxClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrReplyTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
