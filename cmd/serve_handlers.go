package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/project-million/scanner-cli/internal/monitoring"
	"github.com/project-million/scanner-cli/internal/scanner"
	"github.com/project-million/scanner-cli/internal/store"
)

// apiServer holds the handler dependencies. baseCtx bounds background
// scans so they outlive the triggering request but not the server.
type apiServer struct {
	store   store.Store
	scanner *scanner.Scanner
	baseCtx context.Context
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScanner is the scan trigger endpoint. The only recognized action
// is "start_scan"; the scan runs in the background and the pending run id
// is returned immediately.
func (s *apiServer) handleScanner(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action != "start_scan" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	run, err := s.scanner.Start(r.Context(), s.baseCtx)
	if err != nil {
		if eris.Is(err, scanner.ErrScanInProgress) {
			writeError(w, http.StatusConflict, "scan already in progress")
			return
		}
		zap.L().Error("start scan", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start scan")
		return
	}
	monitoring.ScansStarted.WithLabelValues("http").Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"run_id":  run.ID,
	})
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *apiServer) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetCurrentRun(r.Context())
	if err != nil {
		zap.L().Error("get current run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load current run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *apiServer) handleLastRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetLastRun(r.Context())
	if err != nil {
		zap.L().Error("get last run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load last run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *apiServer) handleListBusinesses(w http.ResponseWriter, r *http.Request) {
	filter := store.BusinessFilter{
		Sector:          r.URL.Query().Get("sector"),
		IncludeInactive: r.URL.Query().Get("include_inactive") == "true",
		Limit:           queryInt(r, "limit", 100),
	}
	if v := r.URL.Query().Get("max_asking_price"); v != "" {
		if p, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.MaxAskingPrice = p
		}
	}
	if v := r.URL.Query().Get("min_composite_score"); v != "" {
		if sc, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MinCompositeScore = sc
		}
	}

	businesses, err := s.store.ListBusinesses(r.Context(), filter)
	if err != nil {
		zap.L().Error("list businesses", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list businesses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"businesses": businesses})
}

func (s *apiServer) handleGetBusiness(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBusiness(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "business not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"business": b})
}

func (s *apiServer) handleGetEnrichment(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetEnrichment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		zap.L().Error("get enrichment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load enrichment")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "enrichment not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enrichment": rec})
}

// handleEvents streams scan lifecycle events over SSE. A comment line is
// sent every 15 seconds to keep intermediaries from closing the stream.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	events, cancel := s.scanner.Events().Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			fl.Flush()
		case e := <-events:
			data, err := json.Marshal(e)
			if err != nil {
				zap.L().Warn("marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			fl.Flush()
		}
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
