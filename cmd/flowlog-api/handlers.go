package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"FlowTagger/internal/config"
	"FlowTagger/internal/engine/lookup"
	"FlowTagger/internal/engine/manager"
	"FlowTagger/internal/model"
	"FlowTagger/internal/report"
	"FlowTagger/internal/store"
	"FlowTagger/pkg/flowlog"

	"github.com/gorilla/mux"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	cfg *config.Config
	// store is nil when no sqlite writer is enabled.
	store *store.Store
	// sem admits one analysis at a time; each run already uses every worker.
	sem chan struct{}
}

// NewAPIHandler creates the handler set. runStore may be nil.
func NewAPIHandler(cfg *config.Config, runStore *store.Store) *APIHandler {
	return &APIHandler{cfg: cfg, store: runStore, sem: make(chan struct{}, 1)}
}

type analyzeRequest struct {
	FlowLog     string `json:"flow_log"`
	LookupTable string `json:"lookup_table"`
}

func newRouter(h *APIHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthHandler).Methods("GET")
	r.HandleFunc("/api/v1/analyze", h.analyzeHandler).Methods("POST")
	r.HandleFunc("/api/v1/runs/latest", h.latestRunHandler).Methods("GET")
	r.HandleFunc("/api/v1/runs/{id:[0-9]+}", h.runHandler).Methods("GET")
	return r
}

func (h *APIHandler) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// analyzeHandler runs the pipeline on two server-local files.
func (h *APIHandler) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	if req.FlowLog == "" || req.LookupTable == "" {
		http.Error(w, "flow_log and lookup_table are required", http.StatusBadRequest)
		return
	}

	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	case <-r.Context().Done():
		http.Error(w, "request cancelled while waiting for a free slot", http.StatusServiceUnavailable)
		return
	}

	log.Printf("Received analyze request for flow log: %s, lookup table: %s", req.FlowLog, req.LookupTable)
	result, err := manager.AnalyzeFiles(r.Context(), h.cfg.Pipeline, req.FlowLog, req.LookupTable)
	if err != nil {
		http.Error(w, fmt.Sprintf("analysis failed: %v", err), analyzeStatus(err))
		return
	}

	extra := map[string]any{}
	if h.store != nil {
		ts := report.Timestamp(time.Now())
		id, err := h.store.SaveRun(context.WithoutCancel(r.Context()), ts, result)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to store run: %v", err), http.StatusInternalServerError)
			return
		}
		extra["run_id"] = id
		extra["timestamp"] = ts
	}
	h.writeResult(w, result, extra)
}

func analyzeStatus(err error) int {
	switch {
	case errors.Is(err, flowlog.ErrInputNotFound):
		return http.StatusNotFound
	case errors.Is(err, flowlog.ErrInputUnreadable), errors.Is(err, lookup.ErrBadHeader):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) runHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid run id: %v", err), http.StatusBadRequest)
		return
	}
	h.serveRun(w, r, id)
}

func (h *APIHandler) latestRunHandler(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "no run store configured", http.StatusServiceUnavailable)
		return
	}
	id, err := h.store.LatestRunID(r.Context())
	if errors.Is(err, store.ErrRunNotFound) {
		http.Error(w, "no runs stored yet", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query runs: %v", err), http.StatusInternalServerError)
		return
	}
	h.serveRun(w, r, id)
}

func (h *APIHandler) serveRun(w http.ResponseWriter, r *http.Request, id int64) {
	if h.store == nil {
		http.Error(w, "no run store configured", http.StatusServiceUnavailable)
		return
	}
	run, err := h.store.LoadRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load run: %v", err), http.StatusInternalServerError)
		return
	}
	h.writeResult(w, run.Result, map[string]any{"run_id": run.ID, "timestamp": run.Timestamp})
}

// writeResult encodes result, plus any extra top-level fields, as protojson.
func (h *APIHandler) writeResult(w http.ResponseWriter, result *model.Result, extra map[string]any) {
	s, err := report.ToStruct(result, h.cfg.Report.Order)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for k, v := range extra {
		value, err := structpb.NewValue(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to encode %s: %v", k, err), http.StatusInternalServerError)
			return
		}
		s.Fields[k] = value
	}

	jsonBytes, err := protojson.Marshal(s)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonBytes)
}
