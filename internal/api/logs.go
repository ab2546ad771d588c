package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/govwatch/internal/sessionlog"
)

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
)

type sessionLogsResponse struct {
	SessionID string             `json:"session_id"`
	Source    string             `json:"source"`
	Status    sessionlog.Status  `json:"status"`
	Logs      []sessionlog.Entry `json:"logs"`
}

// sessionLogs handles GET /v1/sessions/{session_id}/logs?after=<id>. Clients
// poll with the id of the last entry they saw.
func (s *Server) sessionLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		val, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || val < 0 {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		after = val
	}
	snap, ok := s.deps.Bus.LogsAfter(id, after)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	logs := snap.Logs
	if logs == nil {
		logs = []sessionlog.Entry{}
	}
	writeJSON(w, http.StatusOK, sessionLogsResponse{
		SessionID: snap.ID,
		Source:    snap.Source,
		Status:    snap.Status,
		Logs:      logs,
	})
}

func (s *Server) recentLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultRecentLimit, maxRecentLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.deps.Bus.Recent(limit)})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}
