package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/storage"
)

// listAlerts handles GET /v1/alerts?source=&unread=&limit=.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alert store unavailable")
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(r, storage.DefaultListLimit, 1000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := storage.AlertFilter{
		Source: strings.ToLower(strings.TrimSpace(q.Get("source"))),
		Limit:  limit,
	}
	if raw := q.Get("unread"); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid unread")
			return
		}
		filter.UnreadOnly = unread
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	alerts, err := s.deps.Alerts.ListAlerts(ctx, filter)
	if err != nil {
		s.logger.Error("list alerts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []storage.StoredAlert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// markAlertRead handles POST /v1/alerts/{alert_id}/read. Read alerts become
// eligible for the retention purge.
func (s *Server) markAlertRead(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alert store unavailable")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "alert_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid alert_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	if err := s.deps.Alerts.MarkRead(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.logger.Error("mark alert read failed", zap.Int64("alert_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to mark alert read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "read": true})
}
