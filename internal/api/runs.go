package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/queue"
	"github.com/JakeFAU/govwatch/internal/scraper"
)

type runRequest struct {
	Force    bool     `json:"force"`
	RunPurge bool     `json:"run_purge"`
	Sources  []string `json:"sources"`
}

// parseRunOptions reads an optional body and resolves the source selection.
// An empty body runs every source unforced without purge.
func (s *Server) parseRunOptions(r *http.Request) (scraper.RunOptions, error) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		return scraper.RunOptions{}, errors.New("invalid JSON")
	}
	names := make([]string, 0, len(req.Sources))
	for _, n := range req.Sources {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			names = append(names, n)
		}
	}
	resolved, err := s.deps.Runner.Resolve(names)
	if err != nil {
		return scraper.RunOptions{}, err
	}
	return scraper.RunOptions{Force: req.Force, RunPurge: req.RunPurge, Sources: resolved}, nil
}

// runNow handles POST /v1/runs and answers with the full run result once
// every requested source has finished.
func (s *Server) runNow(w http.ResponseWriter, r *http.Request) {
	opts, err := s.parseRunOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := s.deps.BaseContext
	if ctx == nil {
		ctx = context.WithoutCancel(r.Context())
	}
	result := s.deps.Runner.Run(ctx, opts)
	s.logger.Info("run finished via API",
		zap.String("session_id", result.SessionID),
		zap.Bool("success", result.Success),
		zap.String("request_id", requestID(r.Context())),
	)
	writeJSON(w, http.StatusOK, result)
}

// runBackground handles POST /v1/runs/background. It answers 202 with the
// session id as soon as the run is queued.
func (s *Server) runBackground(w http.ResponseWriter, r *http.Request) {
	if s.deps.Submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "background runs unavailable")
		return
	}
	opts, err := s.parseRunOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.deps.Submitter.Submit(r.Context(), opts)
	if err != nil {
		s.logger.Warn("background run rejected", zap.String("session_id", id), zap.Error(err))
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		case errors.Is(err, queue.ErrClosed):
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "failed to queue run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}
