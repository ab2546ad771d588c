package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/sourceconfig"
)

const storeTimeout = 5 * time.Second

type sourceStatus struct {
	Source  string               `json:"source"`
	Config  scraper.SourceConfig `json:"config"`
	LastRun *scraper.RunStats    `json:"last_run_stats,omitempty"`
}

// listSources handles GET /v1/sources. Each entry carries the source's
// settings together with its last run bookkeeping and counters.
func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	names := s.deps.Runner.Names()
	out := make([]sourceStatus, 0, len(names))
	for _, name := range names {
		cfg, err := s.deps.Config.Get(ctx, name)
		if err != nil {
			s.logger.Error("load source config failed", zap.String("source", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load source config")
			return
		}
		status := sourceStatus{Source: name, Config: cfg}
		stats, ok, err := s.deps.Config.Stats(ctx, name)
		if err != nil {
			s.logger.Error("load run stats failed", zap.String("source", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load run stats")
			return
		}
		if ok {
			status.LastRun = &stats
		}
		out = append(out, status)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) sourceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "source")))
	if _, err := s.deps.Runner.Resolve([]string{name}); err != nil || name == "" {
		writeError(w, http.StatusNotFound, "unknown source")
		return "", false
	}
	return name, true
}

func (s *Server) getSourceConfig(w http.ResponseWriter, r *http.Request) {
	name, ok := s.sourceParam(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	cfg, err := s.deps.Config.Get(ctx, name)
	if err != nil {
		s.logger.Error("load source config failed", zap.String("source", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load source config")
		return
	}
	writeJSON(w, http.StatusOK, sourceStatus{Source: name, Config: cfg})
}

// configPatchRequest only exposes the operator-editable fields; run
// bookkeeping is owned by the orchestrator.
type configPatchRequest struct {
	Enabled       *bool              `json:"enabled"`
	Frequency     *scraper.Frequency `json:"frequency"`
	RetentionDays *int               `json:"retention_days"`
}

func (req configPatchRequest) toPatch() (scraper.SourceConfigPatch, error) {
	if req.Frequency != nil {
		switch *req.Frequency {
		case scraper.FrequencyHourly, scraper.FrequencyDaily, scraper.FrequencyWeekly:
		default:
			return scraper.SourceConfigPatch{}, errors.New("frequency must be hourly, daily or weekly")
		}
	}
	if req.RetentionDays != nil && *req.RetentionDays < 0 {
		return scraper.SourceConfigPatch{}, errors.New("retention_days must be >= 0")
	}
	return scraper.SourceConfigPatch{
		Enabled:       req.Enabled,
		Frequency:     req.Frequency,
		RetentionDays: req.RetentionDays,
	}, nil
}

func (s *Server) patchSourceConfig(w http.ResponseWriter, r *http.Request) {
	name, ok := s.sourceParam(w, r)
	if !ok {
		return
	}
	var req configPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	if err := s.deps.Config.Update(ctx, name, patch); err != nil {
		s.logger.Error("update source config failed", zap.String("source", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update source config")
		return
	}
	cfg, err := s.deps.Config.Get(ctx, name)
	if err != nil {
		s.logger.Error("reload source config failed", zap.String("source", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load source config")
		return
	}
	s.logger.Info("source config updated", zap.String("source", name))
	writeJSON(w, http.StatusOK, sourceStatus{Source: name, Config: cfg})
}

// getAuth returns the SEACE authenticated-mode settings with the password masked.
func (s *Server) getAuth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	auth, err := s.deps.Config.GetAuth(ctx, scraper.SourceSEACE)
	if err != nil {
		s.logger.Error("load auth settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load auth settings")
		return
	}
	writeJSON(w, http.StatusOK, sourceconfig.MaskAuth(auth))
}

// patchAuth applies a partial update. Empty or masked passwords are ignored
// by the store, so a client can send back what getAuth returned.
func (s *Server) patchAuth(w http.ResponseWriter, r *http.Request) {
	var patch scraper.AuthSettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if patch.TargetYear != nil && (*patch.TargetYear < 2000 || *patch.TargetYear > 2100) {
		writeError(w, http.StatusBadRequest, "target_year out of range")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	if err := s.deps.Config.UpdateAuth(ctx, scraper.SourceSEACE, patch); err != nil {
		s.logger.Error("update auth settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update auth settings")
		return
	}
	auth, err := s.deps.Config.GetAuth(ctx, scraper.SourceSEACE)
	if err != nil {
		s.logger.Error("reload auth settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load auth settings")
		return
	}
	writeJSON(w, http.StatusOK, sourceconfig.MaskAuth(auth))
}
