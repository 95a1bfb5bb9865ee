// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/evsync/internal/bus"
	xglog "github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/session"
	"github.com/ManuGH/evsync/internal/session/store"
	"github.com/ManuGH/evsync/internal/topology"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	maxAbortBody        = 4 << 10
)

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Version   string          `json:"version,omitempty"`
	Time      time.Time       `json:"time"`
	Capturing bool            `json:"capturing"`
	Session   *session.Status `json:"session,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeServiceUnavailable(w, errUnavailable)
		return
	}
	resp := StatusResponse{
		Version:   s.cfg.Version,
		Time:      time.Now().UTC(),
		Capturing: s.deps.Sessions.Capturing(),
	}
	if st, ok := s.deps.Sessions.Status(); ok {
		resp.Session = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// NodeView is the JSON form of a topology node.
type NodeView struct {
	Name           string        `json:"name"`
	Role           topology.Role `json:"role"`
	Serial         string        `json:"serial,omitempty"`
	SecondaryIndex *int          `json:"secondary_node_nr,omitempty"`
	Secondaries    int           `json:"num_secondary_nodes,omitempty"`
	TriggerMode    string        `json:"trigger_mode"`
	ReadyTo        string        `json:"ready_to,omitempty"`
	EventsTopic    string        `json:"events_topic"`
}

// TopologyResponse is returned by GET /api/v1/topology.
type TopologyResponse struct {
	Name  string     `json:"name"`
	Nodes []NodeView `json:"nodes"`
	Wires []string   `json:"wires"`
}

func (s *Server) handleTopology(w http.ResponseWriter, _ *http.Request) {
	t := s.topo.Load()
	if t == nil {
		writeServiceUnavailable(w, errors.New("no topology loaded"))
		return
	}
	resp := TopologyResponse{Name: t.Name()}
	for _, n := range t.Nodes() {
		v := NodeView{
			Name:        n.Name,
			Role:        n.Role,
			Serial:      n.Serial,
			TriggerMode: string(n.TriggerMode),
			ReadyTo:     n.ReadyTo,
			EventsTopic: t.EventsTopic(n.Name),
		}
		if n.Role == topology.RoleSecondary {
			idx := n.SecondaryIndex
			v.SecondaryIndex = &idx
		} else {
			v.Secondaries = n.NumSecondaryNodes
		}
		resp.Nodes = append(resp.Nodes, v)
	}
	for _, wire := range t.Wires() {
		resp.Wires = append(resp.Wires, fmt.Sprintf("%s.%s -> %s.%s", wire.From.Node, wire.From.Port, wire.To.Node, wire.To.Port))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeServiceUnavailable(w, errUnavailable)
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	recs, err := s.deps.History.List(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Str("event", "api.history_failed").Msg("failed to list sessions")
		writeError(w, http.StatusInternalServerError, errors.New("failed to list sessions"))
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeServiceUnavailable(w, errUnavailable)
		return
	}
	rec, err := s.deps.History.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeNotFound(w)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("failed to load session"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeServiceUnavailable(w, errUnavailable)
		return
	}
	var req abortRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAbortBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Reason == "" {
		req.Reason = "aborted via admin API"
	}

	if err := s.deps.Sessions.Abort(errors.New(req.Reason)); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Warn().Str("event", "api.session_abort").Str("reason", req.Reason).Msg("session abort requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborting"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeServiceUnavailable(w, errUnavailable)
		return
	}
	if !s.deps.Sessions.Restart() {
		writeError(w, http.StatusConflict, errors.New("no topology to restart"))
		return
	}
	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Info().Str("event", "api.session_restart").Msg("session restart requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

func (s *Server) handleBusTopics(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Bus == nil {
		writeServiceUnavailable(w, errUnavailable)
		return
	}
	topics := s.deps.Bus.Topics()
	out := make([]bus.Stats, 0, len(topics))
	for _, name := range topics {
		out = append(out, s.deps.Bus.Stats(name))
	}
	writeJSON(w, http.StatusOK, out)
}
